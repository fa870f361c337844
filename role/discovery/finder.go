package discovery

import (
	"context"
	"math"

	"github.com/fidlabs/provider-sample-url-finder/module"
	"github.com/fidlabs/provider-sample-url-finder/module/deals"
	"github.com/fidlabs/provider-sample-url-finder/module/endpoints"
	"github.com/fidlabs/provider-sample-url-finder/module/labels"
	"github.com/fidlabs/provider-sample-url-finder/module/urltest"

	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/mock"
)

// largePieceThreshold matches the minimum content length a probe accepts as
// the claimed piece.
const largePieceThreshold = int64(8) << 30

// EndpointResolver resolves a provider to its advertised HTTP base URLs.
type EndpointResolver interface {
	Resolve(ctx context.Context, provider string) endpoints.Resolution
}

// Prober probes a candidate URL set and aggregates the outcomes.
type Prober interface {
	Test(ctx context.Context, urls []string) (urltest.Aggregate, error)
}

type MockResolver struct {
	mock.Mock
}

//nolint:all
func (m *MockResolver) Resolve(ctx context.Context, provider string) endpoints.Resolution {
	args := m.Called(ctx, provider)
	return args.Get(0).(endpoints.Resolution)
}

type MockProber struct {
	mock.Mock
}

//nolint:all
func (m *MockProber) Test(ctx context.Context, urls []string) (urltest.Aggregate, error) {
	args := m.Called(ctx, urls)
	return args.Get(0).(urltest.Aggregate), args.Error(1)
}

// Finder runs the discovery pipeline for a single provider: resolve
// endpoints, sample deals, probe the URL cross product, aggregate. Each
// stage short circuits the rest; a run that cannot resolve endpoints never
// samples deals, and a run with no deals never probes.
type Finder struct {
	resolver   EndpointResolver
	sampler    deals.Sampler
	prober     Prober
	labelCache *labels.Cache
	log        zerolog.Logger
}

// NewFinder builds the pipeline. labelCache may be nil, which disables deal
// label caching and the file type percentages.
func NewFinder(resolver EndpointResolver, sampler deals.Sampler, prober Prober, labelCache *labels.Cache) *Finder {
	return &Finder{
		resolver:   resolver,
		sampler:    sampler,
		prober:     prober,
		labelCache: labelCache,
		log:        log2.With().Str("role", "finder").Caller().Logger(),
	}
}

// Run is one finished discovery run. Aggregate is nil when the run short
// circuited before probing; Endpoints carries whatever resolution produced
// so callers can refresh their endpoint cache.
type Run struct {
	Result    *module.UrlResult
	Aggregate *urltest.Aggregate
	PeerID    string
	Endpoints []string
}

// Find executes one discovery run. Provider level failures are returned
// inside the result's code fields, never as Go errors.
func (f *Finder) Find(ctx context.Context, provider string, client *string) Run {
	var result *module.UrlResult
	if client != nil {
		result = module.NewProviderClientResult(provider, *client)
	} else {
		result = module.NewProviderResult(provider)
	}

	log := f.log.With().Str("provider", provider).Logger()

	resolution := f.resolver.Resolve(ctx, provider)
	run := Run{Result: result, PeerID: resolution.PeerID, Endpoints: resolution.Endpoints}

	if resolution.PeerID != "" {
		metadata, err := module.NewJSONB(map[string]interface{}{
			"peer_id":   resolution.PeerID,
			"endpoints": resolution.Endpoints,
		})
		if err == nil {
			result.URLMetadata = metadata
		}
	}

	if resolution.Code != module.Success {
		result.ResultCode = resolution.Code
		if resolution.ErrorCode != "" {
			errorCode := resolution.ErrorCode
			result.ErrorCode = &errorCode
		}

		return run
	}

	sampled, err := f.sampler.SampleDeals(ctx, provider, client)
	if err != nil {
		log.Warn().Err(err).Msg("failed to sample deals")
		result.ResultCode = module.ResultError
		errorCode := module.FailedToGetDeals
		result.ErrorCode = &errorCode
		return run
	}

	if len(sampled) == 0 {
		result.ResultCode = module.NoDealsFound
		return run
	}

	result.CarFilesPercent, result.LargeFilesPercent = f.classifySample(ctx, sampled)

	urls := deals.BuildPieceURLs(resolution.Endpoints, deals.PieceCids(sampled))

	aggregate, err := f.prober.Test(ctx, urls)
	if err != nil {
		// only context cancellation reaches here
		result.ResultCode = module.TimedOut
		return run
	}

	result.ResultCode = aggregate.ResultCode()
	result.WorkingURL = aggregate.WorkingURL
	result.RetrievabilityPercent = aggregate.RetrievabilityPercent()
	result.ContentLength = aggregate.ContentLength

	// evidence is only meaningful when the run found no valid URL at all
	if aggregate.WorkingURL == nil && aggregate.InvalidEvidence != nil {
		evidenceURL := aggregate.InvalidEvidence.URL
		result.InvalidEvidenceURL = &evidenceURL
		if result.ContentLength == nil {
			result.ContentLength = aggregate.InvalidEvidence.ContentLength
		}
	}

	log.Debug().Str("resultCode", string(result.ResultCode)).
		Int("tested", aggregate.Tested).
		Msg("discovery run finished")

	run.Aggregate = &aggregate
	return run
}

// classifySample derives the share of car-labelled and large deals in the
// sample and feeds the label cache along the way.
func (f *Finder) classifySample(ctx context.Context, sampled []deals.SampledDeal) (*float64, *float64) {
	var car, large int

	for _, deal := range sampled {
		var payloadCid *string
		if deal.Label != nil {
			payloadCid = labels.ParsePayloadCid(*deal.Label)
		}

		if payloadCid != nil {
			car++
		}

		if deal.PieceSize != nil && *deal.PieceSize >= largePieceThreshold {
			large++
		}

		if f.labelCache != nil && deal.Label != nil {
			err := f.labelCache.Put(ctx, &labels.DealLabel{
				DealID:     deal.DealID,
				PieceCid:   deal.PieceCid,
				LabelRaw:   deal.Label,
				PayloadCid: payloadCid,
			})
			if err != nil {
				f.log.Warn().Err(err).Int64("dealId", deal.DealID).Msg("failed to cache deal label")
			}
		}
	}

	return percentOf(car, len(sampled)), percentOf(large, len(sampled))
}

func percentOf(count int, total int) *float64 {
	if total == 0 {
		return nil
	}

	percent := math.Round(float64(count)/float64(total)*100*100) / 100
	return &percent
}
