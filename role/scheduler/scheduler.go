package scheduler

import (
	"context"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module/bms"
	"github.com/fidlabs/provider-sample-url-finder/module/deals"
	"github.com/fidlabs/provider-sample-url-finder/module/endpoints"
	"github.com/fidlabs/provider-sample-url-finder/role/discovery"
	"github.com/fidlabs/provider-sample-url-finder/role/tracker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
)

type Config struct {
	DiscoveryCheckInterval time.Duration
	DiscoveryBatchSize     int
	BmsCheckInterval       time.Duration
	BmsBatchSize           int
	BmsPollInterval        time.Duration
	BmsWorkerCount         int64
	ProviderSyncInterval   time.Duration
	PeerRefreshInterval    time.Duration
	PeerMaxAge             time.Duration
	PeerRefreshBatchSize   int
}

// Scheduler drives the periodic work: rediscovery of due providers,
// bandwidth test dispatch and polling, provider sync from the deal
// database, and peer id refresh. Each loop is independent; a failing pass
// is logged and retried on the next tick.
type Scheduler struct {
	config     Config
	discovery  *discovery.Discovery
	tracker    *tracker.Tracker
	sampler    deals.Sampler
	bmsClient  *bms.Client
	bmsStore   *bms.Store
	peerSource endpoints.PeerIDSource
	log        zerolog.Logger
}

func NewScheduler(
	config Config,
	disc *discovery.Discovery,
	trk *tracker.Tracker,
	sampler deals.Sampler,
	bmsClient *bms.Client,
	bmsStore *bms.Store,
	peerSource endpoints.PeerIDSource,
) *Scheduler {
	return &Scheduler{
		config:     config,
		discovery:  disc,
		tracker:    trk,
		sampler:    sampler,
		bmsClient:  bmsClient,
		bmsStore:   bmsStore,
		peerSource: peerSource,
		log:        log2.With().Str("role", "scheduler").Caller().Logger(),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx, s.config.DiscoveryCheckInterval, "discovery", s.runDiscoveryPass)
	go s.loop(ctx, s.config.ProviderSyncInterval, "provider_sync", s.runProviderSync)
	go s.loop(ctx, s.config.PeerRefreshInterval, "peer_refresh", s.runPeerRefresh)

	if s.bmsClient != nil {
		go s.loop(ctx, s.config.BmsCheckInterval, "bms_dispatch", s.runBmsDispatch)
		go s.loop(ctx, s.config.BmsPollInterval, "bms_poll", s.runBmsPoll)
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, pass func(context.Context) error) {
	log := s.log.With().Str("loop", name).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			err := pass(ctx)
			if err != nil {
				log.Error().Err(err).Msg("scheduler pass failed")
			}
		}
	}
}

// runDiscoveryPass reruns discovery for providers whose due time has
// arrived, soonest first. Runs happen inline so a slow provider delays the
// rest of the batch, never overlaps it.
func (s *Scheduler) runDiscoveryPass(ctx context.Context) error {
	due, err := s.tracker.DueForDiscovery(ctx, s.config.DiscoveryBatchSize)
	if err != nil {
		return err
	}

	for _, provider := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = s.discovery.RunScheduled(ctx, provider.ProviderID)
		if err != nil {
			s.log.Error().Err(err).Str("provider", provider.ProviderID).Msg("scheduled discovery failed")
		}
	}

	return nil
}

// runBmsDispatch creates bandwidth jobs for eligible providers. Eligibility
// is enforced by the tracker query; anything returned here has a working
// URL and clean consistency and reliability flags.
func (s *Scheduler) runBmsDispatch(ctx context.Context) error {
	due, err := s.tracker.DueForBmsTest(ctx, s.config.BmsBatchSize)
	if err != nil {
		return err
	}

	for _, provider := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = s.dispatchBmsJob(ctx, provider)
		if err != nil {
			s.log.Error().Err(err).Str("provider", provider.ProviderID).Msg("bms dispatch failed")
		}
	}

	return nil
}

func (s *Scheduler) dispatchBmsJob(ctx context.Context, provider tracker.StorageProvider) error {
	err := s.tracker.BeginBmsTest(ctx, provider.ProviderID)
	if err != nil {
		return err
	}

	job, err := s.bmsClient.CreateJob(ctx, *provider.LastWorkingURL, s.config.BmsWorkerCount)
	if err != nil {
		abandonErr := s.tracker.CompleteBmsTest(ctx, provider.ProviderID, "Failed", s.bmsClient.RoutingKey())
		if abandonErr != nil {
			s.log.Error().Err(abandonErr).Str("provider", provider.ProviderID).Msg("cannot record failed bms dispatch")
		}

		return err
	}

	result := &bms.BandwidthResult{
		ID:          uuid.New(),
		ProviderID:  provider.ProviderID,
		BmsJobID:    job.ID,
		URLTested:   *provider.LastWorkingURL,
		RoutingKey:  job.RoutingKey,
		WorkerCount: s.config.BmsWorkerCount,
		Status:      job.Status,
	}

	return s.bmsStore.Create(ctx, result)
}

// runBmsPoll advances in-flight bandwidth jobs to their terminal state.
func (s *Scheduler) runBmsPoll(ctx context.Context) error {
	unfinished, err := s.bmsStore.Unfinished(ctx, s.config.BmsBatchSize)
	if err != nil {
		return err
	}

	for _, result := range unfinished {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		response, err := s.bmsClient.GetJob(ctx, result.BmsJobID)
		if err != nil {
			s.log.Warn().Err(err).Str("jobId", result.BmsJobID.String()).Msg("bms poll failed")
			continue
		}

		if !bms.IsJobFinished(response.Status) {
			continue
		}

		err = s.bmsStore.Complete(ctx, result.BmsJobID, response)
		if err != nil {
			return err
		}

		err = s.tracker.CompleteBmsTest(ctx, result.ProviderID, response.Status, result.RoutingKey)
		if err != nil {
			return err
		}
	}

	return nil
}

// runProviderSync tracks any provider appearing in the deal database that
// has no scheduling row yet. Existing rows are untouched.
func (s *Scheduler) runProviderSync(ctx context.Context) error {
	providers, err := s.sampler.DistinctProviders(ctx)
	if err != nil {
		return err
	}

	added, err := s.tracker.SyncProviders(ctx, providers)
	if err != nil {
		return err
	}

	s.log.Debug().Int("providers", len(providers)).Int("synced", added).Msg("provider sync pass finished")

	return nil
}

// runPeerRefresh re-resolves peer ids that have gone stale so the next
// discovery run does not pay the RPC round trip.
func (s *Scheduler) runPeerRefresh(ctx context.Context) error {
	stale, err := s.tracker.StalePeerIDs(ctx, s.config.PeerMaxAge, s.config.PeerRefreshBatchSize)
	if err != nil {
		return err
	}

	for _, provider := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		peerID, err := s.peerSource.PeerID(ctx, provider.ProviderID)
		if err != nil {
			s.log.Debug().Err(err).Str("provider", provider.ProviderID).Msg("peer id refresh failed")
			continue
		}

		err = s.tracker.StorePeerID(ctx, provider.ProviderID, peerID)
		if err != nil {
			return err
		}
	}

	return nil
}
