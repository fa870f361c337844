package discovery

import (
	"context"

	"github.com/fidlabs/provider-sample-url-finder/module"
	"github.com/fidlabs/provider-sample-url-finder/module/deals"
	"github.com/fidlabs/provider-sample-url-finder/role/tracker"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
)

const DefaultQueueSize = 1024

var (
	ErrNoProviderOrClient = errors.New("either provider or client must be given")
	ErrQueueFull          = errors.New("discovery queue is full")
)

// Discovery owns the job queue. Jobs run one at a time in submission order;
// concurrency lives inside a run (URL probing), not across runs, so two jobs
// for the same provider can never interleave.
type Discovery struct {
	finder  *Finder
	sampler deals.Sampler
	jobs    *JobStore
	tracker *tracker.Tracker
	queue   chan uuid.UUID
	log     zerolog.Logger
}

func NewDiscovery(
	finder *Finder,
	sampler deals.Sampler,
	jobs *JobStore,
	trk *tracker.Tracker,
	queueSize int,
) *Discovery {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Discovery{
		finder:  finder,
		sampler: sampler,
		jobs:    jobs,
		tracker: trk,
		queue:   make(chan uuid.UUID, queueSize),
		log:     log2.With().Str("role", "discovery").Caller().Logger(),
	}
}

// Submit validates the request, persists a job row and enqueues it. The
// caller gets the job back immediately; results arrive asynchronously.
func (d *Discovery) Submit(ctx context.Context, providerID *string, clientID *string) (*Job, error) {
	if providerID == nil && clientID == nil {
		return nil, ErrNoProviderOrClient
	}

	discoveryType := module.DiscoveryProvider
	if clientID != nil {
		discoveryType = module.DiscoveryProviderClient
	}

	job := &Job{
		ID:         uuid.New(),
		ProviderID: providerID,
		ClientID:   clientID,
		Type:       discoveryType,
		Status:     JobCreated,
	}

	err := d.jobs.Create(ctx, job)
	if err != nil {
		return nil, err
	}

	select {
	case d.queue <- job.ID:
	default:
		failErr := d.jobs.markFinished(ctx, job.ID, JobFailed, ErrQueueFull)
		if failErr != nil {
			d.log.Error().Err(failErr).Str("jobId", job.ID.String()).Msg("cannot mark overflowed job failed")
		}

		return nil, ErrQueueFull
	}

	return job, nil
}

// Start consumes the queue until the context is cancelled. Single consumer,
// strict FIFO.
func (d *Discovery) Start(ctx context.Context) {
	d.log.Info().Msg("starting discovery queue consumer")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("discovery queue consumer stopped")
			return
		case jobID := <-d.queue:
			err := d.process(ctx, jobID)
			if err != nil {
				d.log.Error().Err(err).Str("jobId", jobID.String()).Msg("job failed")
			}
		}
	}
}

func (d *Discovery) process(ctx context.Context, jobID uuid.UUID) error {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job == nil {
		return errors.Errorf("queued job %s has no row", jobID)
	}

	err = d.jobs.markRunning(ctx, jobID)
	if err != nil {
		return err
	}

	runErr := d.run(ctx, job)

	status := JobSucceeded
	if runErr != nil {
		status = JobFailed
	}

	err = d.jobs.markFinished(ctx, jobID, status, runErr)
	if err != nil {
		return err
	}

	return runErr
}

func (d *Discovery) run(ctx context.Context, job *Job) error {
	if job.ProviderID != nil {
		return d.runProvider(ctx, *job.ProviderID, job.ClientID)
	}

	// client only requests fan out over every provider the client has
	// deals with
	providers, err := d.sampler.ProvidersForClient(ctx, *job.ClientID)
	if err != nil {
		return errors.Wrapf(err, "cannot list providers for client %s", *job.ClientID)
	}

	if len(providers) == 0 {
		return errors.Errorf("%s: no providers found for client %s",
			module.NoProvidersFound, *job.ClientID)
	}

	for _, provider := range providers {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = d.runProvider(ctx, provider, job.ClientID)
		if err != nil {
			return err
		}
	}

	return nil
}

// runProvider executes one tracked discovery run: finder pipeline, result
// persistence, scheduling state update.
func (d *Discovery) runProvider(ctx context.Context, provider string, client *string) error {
	prior, err := d.tracker.BeginDiscovery(ctx, provider)
	if err != nil {
		return err
	}

	run := d.finder.Find(ctx, provider, client)

	outcome := tracker.DiscoveryOutcome{
		Code:       run.Result.ResultCode,
		WorkingURL: run.Result.WorkingURL,
	}

	if run.Aggregate != nil {
		outcome.Tested = run.Aggregate.Tested
		outcome.Timeouts = run.Aggregate.Timeouts
	}

	isConsistent, isReliable, err := d.tracker.CompleteDiscovery(ctx, prior, outcome)
	if err != nil {
		// clear the in_progress marker so the provider stays schedulable
		abandonErr := d.tracker.AbandonDiscovery(ctx, provider)
		if abandonErr != nil {
			d.log.Error().Err(abandonErr).Str("provider", provider).Msg("cannot abandon discovery")
		}

		return err
	}

	run.Result.IsConsistent = &isConsistent
	run.Result.IsReliable = &isReliable

	if len(run.Endpoints) > 0 {
		err = d.tracker.StoreEndpoints(ctx, provider, run.Endpoints)
		if err != nil {
			d.log.Warn().Err(err).Str("provider", provider).Msg("cannot cache endpoints")
		}
	}

	return d.jobs.SaveResult(ctx, run.Result)
}

// DirectFind runs the pipeline synchronously without touching the queue,
// the job table or the scheduling state. Cancelling the context aborts the
// run.
func (d *Discovery) DirectFind(ctx context.Context, provider string, client *string) *module.UrlResult {
	return d.finder.Find(ctx, provider, client).Result
}

// RunScheduled is the scheduler entry point: one tracked run for a provider
// that came due.
func (d *Discovery) RunScheduled(ctx context.Context, provider string) error {
	return d.runProvider(ctx, provider, nil)
}

// JobStore exposes the persistence layer to the API handlers.
func (d *Discovery) JobStore() *JobStore {
	return d.jobs
}
