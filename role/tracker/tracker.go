package tracker

import (
	"context"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	StatusInProgress = "in_progress"

	// ReliabilityTimeoutThreshold is the timeout ratio above which a
	// provider is flagged unreliable. Exactly 30% still counts as reliable.
	ReliabilityTimeoutThreshold = 0.30
)

// StorageProvider is the per-provider scheduling state. One row per
// provider, created on first discovery request and never deleted.
type StorageProvider struct {
	ID                       uuid.UUID      `json:"id" gorm:"primarykey;type:uuid;default:uuid_generate_v4()"`
	ProviderID               string         `json:"provider_id" gorm:"uniqueIndex"`
	NextURLDiscoveryAt       time.Time      `json:"next_url_discovery_at" gorm:"index"`
	URLDiscoveryStatus       *string        `json:"url_discovery_status,omitempty"`
	LastWorkingURL           *string        `json:"last_working_url,omitempty"`
	NextBmsTestAt            time.Time      `json:"next_bms_test_at" gorm:"index"`
	BmsTestStatus            *string        `json:"bms_test_status,omitempty"`
	BmsRoutingKey            *string        `json:"bms_routing_key,omitempty"`
	LastBmsRegionDiscoveryAt *time.Time     `json:"last_bms_region_discovery_at,omitempty"`
	IsConsistent             bool           `json:"is_consistent"`
	IsReliable               bool           `json:"is_reliable"`
	CachedHTTPEndpoints      pq.StringArray `json:"cached_http_endpoints,omitempty" gorm:"type:text[]"`
	EndpointsFetchedAt       *time.Time     `json:"endpoints_fetched_at,omitempty"`
	PeerID                   *string        `json:"peer_id,omitempty"`
	PeerIDFetchedAt          *time.Time     `json:"peer_id_fetched_at,omitempty"`
	URLMetadata              module.JSONB   `json:"url_metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

func (StorageProvider) TableName() string {
	return "storage_providers"
}

// DiscoveryOutcome is what a finished discovery run reports back to the
// scheduler state.
type DiscoveryOutcome struct {
	Code       module.ResultCode
	WorkingURL *string
	Tested     int
	Timeouts   int
}

type Tracker struct {
	db                *gorm.DB
	discoveryInterval time.Duration
	bmsInterval       time.Duration
	log               zerolog.Logger
}

func NewTracker(db *gorm.DB, discoveryInterval time.Duration, bmsInterval time.Duration) (*Tracker, error) {
	err := db.AutoMigrate(&StorageProvider{})
	if err != nil {
		return nil, errors.Wrap(err, "cannot migrate storage providers")
	}

	return &Tracker{
		db:                db,
		discoveryInterval: discoveryInterval,
		bmsInterval:       bmsInterval,
		log:               log2.With().Str("role", "tracker").Caller().Logger(),
	}, nil
}

// EnsureProvider creates the scheduling row on first contact. Existing rows
// are left untouched, which keeps due timestamps stable across repeated
// scheduling passes.
func (t *Tracker) EnsureProvider(ctx context.Context, providerID string) error {
	now := time.Now().UTC()

	provider := StorageProvider{
		ID:                 uuid.New(),
		ProviderID:         providerID,
		NextURLDiscoveryAt: now,
		NextBmsTestAt:      now,
		URLMetadata:        module.NullJSONB(),
	}

	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_id"}}, DoNothing: true}).
		Create(&provider).Error
	if err != nil {
		return errors.Wrapf(err, "cannot ensure provider %s", providerID)
	}

	return nil
}

// SyncProviders inserts any providers not yet tracked.
func (t *Tracker) SyncProviders(ctx context.Context, providerIDs []string) (int, error) {
	count := 0

	for _, providerID := range providerIDs {
		err := t.EnsureProvider(ctx, providerID)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func (t *Tracker) Get(ctx context.Context, providerID string) (*StorageProvider, error) {
	var provider StorageProvider

	err := t.db.WithContext(ctx).First(&provider, "provider_id = ?", providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "cannot get provider %s", providerID)
	}

	return &provider, nil
}

// DueForDiscovery lists providers whose discovery is due, soonest first,
// excluding any currently mid-run. Listing is read-only: calling it twice
// without an intervening run returns the same schedule.
func (t *Tracker) DueForDiscovery(ctx context.Context, limit int) ([]StorageProvider, error) {
	var providers []StorageProvider

	err := t.db.WithContext(ctx).
		Where("next_url_discovery_at <= ?", time.Now().UTC()).
		Where("url_discovery_status IS NULL OR url_discovery_status <> ?", StatusInProgress).
		Order("next_url_discovery_at ASC").
		Limit(limit).
		Find(&providers).Error
	if err != nil {
		return nil, errors.Wrap(err, "cannot list providers due for discovery")
	}

	return providers, nil
}

// DueForBmsTest lists providers eligible for a bandwidth test. Eligibility
// is a hard gate: consistent, reliable, and a known working URL. Ineligible
// providers are excluded entirely, not deprioritized.
func (t *Tracker) DueForBmsTest(ctx context.Context, limit int) ([]StorageProvider, error) {
	var providers []StorageProvider

	err := t.db.WithContext(ctx).
		Where("next_bms_test_at <= ?", time.Now().UTC()).
		Where("bms_test_status IS NULL OR bms_test_status <> ?", StatusInProgress).
		Where("is_consistent = ? AND is_reliable = ? AND last_working_url IS NOT NULL", true, true).
		Order("next_bms_test_at ASC").
		Limit(limit).
		Find(&providers).Error
	if err != nil {
		return nil, errors.Wrap(err, "cannot list providers due for bms test")
	}

	return providers, nil
}

// BeginDiscovery marks the provider mid-run and returns the pre-run
// snapshot used later for the consistency comparison. The row is created if
// this is the provider's first discovery.
func (t *Tracker) BeginDiscovery(ctx context.Context, providerID string) (*StorageProvider, error) {
	err := t.EnsureProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	prior, err := t.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}

	err = t.db.WithContext(ctx).Model(&StorageProvider{}).
		Where("provider_id = ?", providerID).
		Update("url_discovery_status", StatusInProgress).Error
	if err != nil {
		return nil, errors.Wrapf(err, "cannot mark discovery in progress for %s", providerID)
	}

	return prior, nil
}

// CompleteDiscovery applies the post-run scheduling update as a single
// upsert keyed by provider id: next due time, last working URL, consistency
// and reliability flags. The computed flags are returned so the result row
// can carry the same values.
func (t *Tracker) CompleteDiscovery(ctx context.Context, prior *StorageProvider, outcome DiscoveryOutcome) (bool, bool, error) {
	isConsistent := agreesWithPrior(prior, outcome)
	isReliable := IsReliable(outcome.Timeouts, outcome.Tested)

	updates := map[string]interface{}{
		"next_url_discovery_at": time.Now().UTC().Add(t.discoveryInterval),
		"url_discovery_status":  string(outcome.Code),
		"is_consistent":         isConsistent,
		"is_reliable":           isReliable,
		"updated_at":            time.Now().UTC(),
	}

	if outcome.WorkingURL != nil {
		updates["last_working_url"] = *outcome.WorkingURL
	}

	err := t.db.WithContext(ctx).Model(&StorageProvider{}).
		Where("provider_id = ?", prior.ProviderID).
		Updates(updates).Error
	if err != nil {
		return false, false, errors.Wrapf(err, "cannot complete discovery for %s", prior.ProviderID)
	}

	t.log.Debug().Str("provider", prior.ProviderID).
		Str("code", string(outcome.Code)).
		Bool("consistent", isConsistent).
		Bool("reliable", isReliable).
		Msg("discovery completed")

	return isConsistent, isReliable, nil
}

// AbandonDiscovery clears the mid-run marker without touching the schedule,
// used when a run fails before producing any outcome.
func (t *Tracker) AbandonDiscovery(ctx context.Context, providerID string) error {
	err := t.db.WithContext(ctx).Model(&StorageProvider{}).
		Where("provider_id = ?", providerID).
		Update("url_discovery_status", gorm.Expr("NULL")).Error
	if err != nil {
		return errors.Wrapf(err, "cannot abandon discovery for %s", providerID)
	}

	return nil
}

func (t *Tracker) BeginBmsTest(ctx context.Context, providerID string) error {
	err := t.db.WithContext(ctx).Model(&StorageProvider{}).
		Where("provider_id = ?", providerID).
		Update("bms_test_status", StatusInProgress).Error
	if err != nil {
		return errors.Wrapf(err, "cannot mark bms test in progress for %s", providerID)
	}

	return nil
}

func (t *Tracker) CompleteBmsTest(ctx context.Context, providerID string, status string, routingKey string) error {
	err := t.db.WithContext(ctx).Model(&StorageProvider{}).
		Where("provider_id = ?", providerID).
		Updates(map[string]interface{}{
			"next_bms_test_at": time.Now().UTC().Add(t.bmsInterval),
			"bms_test_status":  status,
			"bms_routing_key":  routingKey,
			"updated_at":       time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Wrapf(err, "cannot complete bms test for %s", providerID)
	}

	return nil
}

// CachedPeerID implements endpoints.PeerCache.
func (t *Tracker) CachedPeerID(ctx context.Context, providerID string) (string, time.Time, error) {
	provider, err := t.Get(ctx, providerID)
	if err != nil {
		return "", time.Time{}, err
	}

	if provider == nil || provider.PeerID == nil || provider.PeerIDFetchedAt == nil {
		return "", time.Time{}, nil
	}

	return *provider.PeerID, *provider.PeerIDFetchedAt, nil
}

// StorePeerID implements endpoints.PeerCache.
func (t *Tracker) StorePeerID(ctx context.Context, providerID string, peerID string) error {
	err := t.db.WithContext(ctx).Model(&StorageProvider{}).
		Where("provider_id = ?", providerID).
		Updates(map[string]interface{}{
			"peer_id":            peerID,
			"peer_id_fetched_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Wrapf(err, "cannot store peer id for %s", providerID)
	}

	return nil
}

func (t *Tracker) StoreEndpoints(ctx context.Context, providerID string, endpoints []string) error {
	err := t.db.WithContext(ctx).Model(&StorageProvider{}).
		Where("provider_id = ?", providerID).
		Updates(map[string]interface{}{
			"cached_http_endpoints": pq.StringArray(endpoints),
			"endpoints_fetched_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Wrapf(err, "cannot store endpoints for %s", providerID)
	}

	return nil
}

// StalePeerIDs lists providers whose cached peer id is older than maxAge or
// missing entirely.
func (t *Tracker) StalePeerIDs(ctx context.Context, maxAge time.Duration, limit int) ([]StorageProvider, error) {
	var providers []StorageProvider

	err := t.db.WithContext(ctx).
		Where("peer_id IS NULL OR peer_id_fetched_at < ?", time.Now().UTC().Add(-maxAge)).
		Order("peer_id_fetched_at ASC NULLS FIRST").
		Limit(limit).
		Find(&providers).Error
	if err != nil {
		return nil, errors.Wrap(err, "cannot list providers with stale peer ids")
	}

	return providers, nil
}

// IsReliable reports whether the run's timeout ratio stays within the
// threshold. A ratio of exactly 30% is still reliable.
func IsReliable(timeouts int, tested int) bool {
	if tested == 0 {
		return true
	}

	return float64(timeouts)/float64(tested) <= ReliabilityTimeoutThreshold
}

// agreesWithPrior reports whether the new outcome materially agrees with
// the provider's previous findings: same validity class and, when both runs
// found a working URL, the same URL.
func agreesWithPrior(prior *StorageProvider, outcome DiscoveryOutcome) bool {
	if prior == nil || prior.URLDiscoveryStatus == nil || *prior.URLDiscoveryStatus == StatusInProgress {
		// first observed run, nothing to disagree with
		return true
	}

	priorClass := validityClass(module.ResultCode(*prior.URLDiscoveryStatus))
	if priorClass != validityClass(outcome.Code) {
		return false
	}

	if prior.LastWorkingURL != nil && outcome.WorkingURL != nil &&
		*prior.LastWorkingURL != *outcome.WorkingURL {
		return false
	}

	return true
}

func validityClass(code module.ResultCode) string {
	switch code {
	case module.Success:
		return "valid"
	case module.ReachableButInvalid:
		return "invalid"
	default:
		return "unreachable"
	}
}
