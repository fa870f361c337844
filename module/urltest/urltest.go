package urltest

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module"

	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxConcurrency caps in-flight probes per run.
	DefaultMaxConcurrency = 20
	// DefaultMinContentLength is 8 GiB; pieces below it are reachable but
	// too small to be the claimed data.
	DefaultMinContentLength = int64(8) << 30
	// DefaultProbeTimeout bounds a single HEAD request.
	DefaultProbeTimeout = 15 * time.Second
)

var validContentTypes = []string{"application/octet-stream", "application/piece"}

// Evidence is one reachable-but-invalid URL retained to substantiate a
// validation failure. ContentLength is nil when the header was absent.
type Evidence struct {
	URL           string
	ContentLength *int64
}

// Aggregate is the combined outcome of probing one candidate URL set.
//
// WorkingURL and InvalidEvidence hold the first valid and first invalid
// probe in completion order of the concurrent requests. That order is
// intentionally nondeterministic; callers must not assume it matches URL
// construction order.
type Aggregate struct {
	Tested          int
	Valid           int
	Invalid         int
	Timeouts        int
	WorkingURL      *string
	ContentLength   *int64
	InvalidEvidence *Evidence
}

// RetrievabilityPercent is valid/tested x 100, rounded to two decimals.
// Nil iff nothing was tested.
func (a Aggregate) RetrievabilityPercent() *float64 {
	if a.Tested == 0 {
		return nil
	}

	percent := math.Round(float64(a.Valid)/float64(a.Tested)*100*100) / 100
	return &percent
}

// TimeoutRatio is the share of probes that failed at the transport level.
func (a Aggregate) TimeoutRatio() float64 {
	if a.Tested == 0 {
		return 0
	}

	return float64(a.Timeouts) / float64(a.Tested)
}

// ResultCode derives the run outcome: a working URL wins, then evidence,
// then a plain failure when anything was tested at all.
func (a Aggregate) ResultCode() module.ResultCode {
	switch {
	case a.WorkingURL != nil:
		return module.Success
	case a.InvalidEvidence != nil:
		return module.ReachableButInvalid
	default:
		return module.FailedToGetWorkingUrl
	}
}

type Config struct {
	MaxConcurrency   int64
	MinContentLength int64
	ProbeTimeout     time.Duration
	Client           *http.Client
}

type Tester struct {
	client           *http.Client
	maxConcurrency   int64
	minContentLength int64
	log              zerolog.Logger
}

func NewTester(config Config) *Tester {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultMaxConcurrency
	}

	if config.MinContentLength <= 0 {
		config.MinContentLength = DefaultMinContentLength
	}

	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.ProbeTimeout}
	}

	return &Tester{
		client:           client,
		maxConcurrency:   config.MaxConcurrency,
		minContentLength: config.MinContentLength,
		log:              log2.With().Str("module", "urltest").Caller().Logger(),
	}
}

type probeOutcome int

const (
	probeTimeout probeOutcome = iota
	probeUnreachable
	probeInvalid
	probeValid
)

// Test probes every candidate URL with a HEAD request, at most
// maxConcurrency in flight. Probe failures are absorbed into the aggregate;
// the only error returned is context cancellation.
func (t *Tester) Test(ctx context.Context, urls []string) (Aggregate, error) {
	var (
		aggregate Aggregate
		mu        sync.Mutex
		wg        sync.WaitGroup
	)

	sem := semaphore.NewWeighted(t.maxConcurrency)

	for _, url := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return aggregate, err
		}

		wg.Add(1)

		go func(url string) {
			defer wg.Done()
			defer sem.Release(1)

			outcome, contentLength := t.probe(ctx, url)

			mu.Lock()
			defer mu.Unlock()

			aggregate.Tested++

			switch outcome {
			case probeTimeout:
				aggregate.Timeouts++
			case probeUnreachable:
				// counted in Tested only
			case probeInvalid:
				aggregate.Invalid++
				if aggregate.InvalidEvidence == nil {
					aggregate.InvalidEvidence = &Evidence{URL: url, ContentLength: contentLength}
				}
			case probeValid:
				aggregate.Valid++
				if aggregate.WorkingURL == nil {
					workingURL := url
					aggregate.WorkingURL = &workingURL
					aggregate.ContentLength = contentLength
				}
			}
		}(url)
	}

	wg.Wait()

	t.log.Debug().Int("tested", aggregate.Tested).Int("valid", aggregate.Valid).
		Int("invalid", aggregate.Invalid).Int("timeouts", aggregate.Timeouts).
		Msg("finished probing candidate urls")

	return aggregate, nil
}

func (t *Tester) probe(ctx context.Context, url string) (probeOutcome, *int64) {
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return probeUnreachable, nil
	}

	response, err := t.client.Do(request)
	if err != nil {
		t.log.Debug().Err(err).Str("url", url).Msg("probe failed at transport level")
		return probeTimeout, nil
	}

	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return probeUnreachable, nil
	}

	contentType := response.Header.Get("Content-Type")
	if index := strings.Index(contentType, ";"); index >= 0 {
		contentType = contentType[:index]
	}
	contentType = strings.TrimSpace(contentType)

	if !slices.Contains(validContentTypes, contentType) || response.Header.Get("Etag") == "" {
		return probeUnreachable, nil
	}

	contentLength := headContentLength(response)
	if contentLength == nil || *contentLength < t.minContentLength {
		return probeInvalid, contentLength
	}

	return probeValid, contentLength
}

func headContentLength(response *http.Response) *int64 {
	if response.ContentLength >= 0 {
		return &response.ContentLength
	}

	// net/http leaves ContentLength at -1 for some HEAD responses even when
	// the header is present.
	raw := response.Header.Get("Content-Length")
	if raw == "" {
		return nil
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}

	return &parsed
}
