package urltest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module"

	"github.com/stretchr/testify/assert"
)

const testMinContentLength = 1 << 20

func pieceHandler(assert *assert.Assertions, serve func(w http.ResponseWriter, piece string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodHead, r.Method)
		piece := strings.TrimPrefix(r.URL.Path, "/piece/")
		serve(w, piece)
	}
}

func validHeaders(w http.ResponseWriter, length int64) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Etag", "\"abc123\"")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusOK)
}

func TestTester_PartialRetrievability(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(pieceHandler(assert, func(w http.ResponseWriter, piece string) {
		// pieces 8 and 9 are missing, the rest are fine
		if piece == "piece-8" || piece == "piece-9" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		validHeaders(w, testMinContentLength+1)
	}))
	defer server.Close()

	urls := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		urls = append(urls, fmt.Sprintf("%s/piece/piece-%d", server.URL, i))
	}

	tester := NewTester(Config{MinContentLength: testMinContentLength})

	aggregate, err := tester.Test(context.Background(), urls)
	assert.NoError(err)

	assert.Equal(10, aggregate.Tested)
	assert.Equal(8, aggregate.Valid)
	assert.Equal(0, aggregate.Timeouts)
	assert.Equal(module.Success, aggregate.ResultCode())
	assert.NotNil(aggregate.WorkingURL)
	assert.Contains(*aggregate.WorkingURL, server.URL)
	assert.Equal(80.0, *aggregate.RetrievabilityPercent())
}

func TestTester_ReachableButInvalid(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(pieceHandler(assert, func(w http.ResponseWriter, piece string) {
		// reachable and well-formed but far too small
		validHeaders(w, 1024)
	}))
	defer server.Close()

	urls := []string{
		server.URL + "/piece/piece-0",
		server.URL + "/piece/piece-1",
	}

	tester := NewTester(Config{MinContentLength: testMinContentLength})

	aggregate, err := tester.Test(context.Background(), urls)
	assert.NoError(err)

	assert.Equal(2, aggregate.Tested)
	assert.Equal(0, aggregate.Valid)
	assert.Equal(2, aggregate.Invalid)
	assert.Nil(aggregate.WorkingURL)
	assert.Equal(module.ReachableButInvalid, aggregate.ResultCode())
	assert.NotNil(aggregate.InvalidEvidence)
	assert.Equal(int64(1024), *aggregate.InvalidEvidence.ContentLength)
	assert.Equal(0.0, *aggregate.RetrievabilityPercent())
}

func TestTester_RejectsWrongContentTypeOrMissingEtag(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(pieceHandler(assert, func(w http.ResponseWriter, piece string) {
		switch piece {
		case "wrong-type":
			w.Header().Set("Content-Type", "text/html")
			w.Header().Set("Etag", "\"abc\"")
			w.WriteHeader(http.StatusOK)
		case "no-etag":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
		default:
			validHeaders(w, testMinContentLength+1)
		}
	}))
	defer server.Close()

	tester := NewTester(Config{MinContentLength: testMinContentLength})

	aggregate, err := tester.Test(context.Background(), []string{
		server.URL + "/piece/wrong-type",
		server.URL + "/piece/no-etag",
	})
	assert.NoError(err)

	// neither counts as valid nor as reachable-but-invalid evidence
	assert.Equal(2, aggregate.Tested)
	assert.Equal(0, aggregate.Valid)
	assert.Equal(0, aggregate.Invalid)
	assert.Equal(module.FailedToGetWorkingUrl, aggregate.ResultCode())
}

func TestTester_AcceptsPieceContentTypeWithParameters(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(pieceHandler(assert, func(w http.ResponseWriter, piece string) {
		w.Header().Set("Content-Type", "application/piece; charset=binary")
		w.Header().Set("Etag", "\"abc\"")
		w.Header().Set("Content-Length", strconv.FormatInt(testMinContentLength+1, 10))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tester := NewTester(Config{MinContentLength: testMinContentLength})

	aggregate, err := tester.Test(context.Background(), []string{server.URL + "/piece/piece-0"})
	assert.NoError(err)
	assert.Equal(1, aggregate.Valid)
}

func TestTester_CountsTimeouts(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(pieceHandler(assert, func(w http.ResponseWriter, piece string) {
		validHeaders(w, testMinContentLength+1)
	}))

	deadURL := server.URL + "/piece/piece-dead"
	server.Close()

	live := httptest.NewServer(pieceHandler(assert, func(w http.ResponseWriter, piece string) {
		validHeaders(w, testMinContentLength+1)
	}))
	defer live.Close()
	liveURL := live.URL + "/piece/piece-live"

	tester := NewTester(Config{MinContentLength: testMinContentLength, ProbeTimeout: time.Second})

	aggregate, err := tester.Test(context.Background(), []string{deadURL, liveURL})
	assert.NoError(err)
	assert.Equal(2, aggregate.Tested)
	assert.Equal(1, aggregate.Valid)
	assert.Equal(1, aggregate.Timeouts)
	assert.Equal(0.5, aggregate.TimeoutRatio())
}

func TestTester_ConcurrencyCap(t *testing.T) {
	assert := assert.New(t)

	var inFlight, peak int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt64(&inFlight, 1)
		for {
			observed := atomic.LoadInt64(&peak)
			if current <= observed || atomic.CompareAndSwapInt64(&peak, observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		validHeaders(w, testMinContentLength+1)
	}))
	defer server.Close()

	urls := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		urls = append(urls, fmt.Sprintf("%s/piece/piece-%d", server.URL, i))
	}

	tester := NewTester(Config{MaxConcurrency: 5, MinContentLength: testMinContentLength})

	aggregate, err := tester.Test(context.Background(), urls)
	assert.NoError(err)
	assert.Equal(50, aggregate.Tested)
	assert.LessOrEqual(atomic.LoadInt64(&peak), int64(5))
}

func TestAggregate_RetrievabilityPercent(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(Aggregate{}.RetrievabilityPercent())

	partial := Aggregate{Tested: 3, Valid: 1}
	assert.Equal(33.33, *partial.RetrievabilityPercent())

	full := Aggregate{Tested: 4, Valid: 4}
	assert.Equal(100.0, *full.RetrievabilityPercent())
}
