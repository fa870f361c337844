package deals

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// DefaultSampleCap bounds how many deals one discovery run probes.
const DefaultSampleCap = 100

// SampledDeal is one randomly drawn verified deal.
type SampledDeal struct {
	DealID    int64   `json:"deal_id"`
	PieceCid  string  `json:"piece_cid"`
	Label     *string `json:"label,omitempty"`
	PieceSize *int64  `json:"piece_size,omitempty"`
}

// Sampler draws a bounded random sample of verified deals for a provider.
type Sampler interface {
	SampleDeals(ctx context.Context, provider string, client *string) ([]SampledDeal, error)
	DistinctProviders(ctx context.Context) ([]string, error)
	ProvidersForClient(ctx context.Context, client string) ([]string, error)
	ClientsForProvider(ctx context.Context, provider string) ([]string, error)
}

type MockSampler struct {
	mock.Mock
}

//nolint:all
func (m *MockSampler) SampleDeals(ctx context.Context, provider string, client *string) ([]SampledDeal, error) {
	args := m.Called(ctx, provider, client)
	return args.Get(0).([]SampledDeal), args.Error(1)
}

//nolint:all
func (m *MockSampler) DistinctProviders(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

//nolint:all
func (m *MockSampler) ProvidersForClient(ctx context.Context, client string) ([]string, error) {
	args := m.Called(ctx, client)
	return args.Get(0).([]string), args.Error(1)
}

//nolint:all
func (m *MockSampler) ClientsForProvider(ctx context.Context, provider string) ([]string, error) {
	args := m.Called(ctx, provider)
	return args.Get(0).([]string), args.Error(1)
}

// DealSampler samples verified deals straight from the deal database.
// Random ordering avoids bias from deal insertion order or size when
// estimating retrievability; no fixed seed, runs are not reproducible.
type DealSampler struct {
	db        *gorm.DB
	sampleCap int
	log       zerolog.Logger
}

func NewDealSampler(db *gorm.DB, sampleCap int) *DealSampler {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}

	return &DealSampler{
		db:        db,
		sampleCap: sampleCap,
		log:       log2.With().Str("module", "deals").Caller().Logger(),
	}
}

func (s *DealSampler) SampleDeals(ctx context.Context, provider string, client *string) ([]SampledDeal, error) {
	sampled := make([]SampledDeal, 0, s.sampleCap)

	query := `SELECT "dealId" AS deal_id, "pieceCid" AS piece_cid, "label" AS label, "pieceSize" AS piece_size
		FROM unified_verified_deal
		WHERE "providerId" = ? AND "pieceCid" IS NOT NULL AND removed = false`
	args := []interface{}{provider}

	if client != nil {
		query += ` AND "clientId" = ?`
		args = append(args, *client)
	}

	query += ` ORDER BY random() LIMIT ?`
	args = append(args, s.sampleCap)

	err := s.db.WithContext(ctx).Raw(query, args...).Scan(&sampled).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sample deals for provider %s", provider)
	}

	s.log.Debug().Str("provider", provider).Int("sampled", len(sampled)).Msg("sampled deals")

	return sampled, nil
}

// PieceCids returns the deduplicated piece cids of a sample, preserving
// order of first occurrence.
func PieceCids(sampled []SampledDeal) []string {
	seen := make(map[string]struct{}, len(sampled))
	pieceCids := make([]string, 0, len(sampled))

	for _, deal := range sampled {
		if _, ok := seen[deal.PieceCid]; ok {
			continue
		}

		seen[deal.PieceCid] = struct{}{}
		pieceCids = append(pieceCids, deal.PieceCid)
	}

	return pieceCids
}

func (s *DealSampler) DistinctProviders(ctx context.Context) ([]string, error) {
	providers := make([]string, 0)

	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT "providerId" FROM unified_verified_deal WHERE "providerId" IS NOT NULL`,
	).Scan(&providers).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list distinct providers")
	}

	return providers, nil
}

func (s *DealSampler) ProvidersForClient(ctx context.Context, client string) ([]string, error) {
	providers := make([]string, 0)

	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT "providerId" FROM unified_verified_deal
			WHERE "clientId" = ? AND "providerId" IS NOT NULL`,
		client,
	).Scan(&providers).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list providers for client %s", client)
	}

	return providers, nil
}

func (s *DealSampler) ClientsForProvider(ctx context.Context, provider string) ([]string, error) {
	clients := make([]string, 0)

	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT "clientId" FROM unified_verified_deal
			WHERE "providerId" = ? AND "clientId" IS NOT NULL`,
		provider,
	).Scan(&clients).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list clients for provider %s", provider)
	}

	return clients, nil
}

// BuildPieceURLs constructs the full endpoint x piece cross product of
// candidate URLs to probe.
func BuildPieceURLs(endpoints []string, pieceCids []string) []string {
	urls := make([]string, 0, len(endpoints)*len(pieceCids))

	for _, endpoint := range endpoints {
		endpoint = strings.TrimSuffix(endpoint, "/")
		for _, pieceCid := range pieceCids {
			urls = append(urls, fmt.Sprintf("%s/piece/%s", endpoint, pieceCid))
		}
	}

	return urls
}
