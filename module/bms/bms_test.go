package bms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsJobFinished(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsJobFinished("Completed"))
	assert.True(IsJobFinished("Failed"))
	assert.True(IsJobFinished("Cancelled"))
	assert.False(IsJobFinished("Pending"))
	assert.False(IsJobFinished("Processing"))
	assert.False(IsJobFinished(""))
}

func TestClient_CreateJob(t *testing.T) {
	assert := assert.New(t)
	jobID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodPost, r.Method)
		assert.Equal("/jobs", r.URL.Path)

		var request CreateJobRequest
		assert.NoError(json.NewDecoder(r.Body).Decode(&request))
		assert.Equal("http://1.2.3.4:8080/piece/baga6ea4seaqaaa", request.URL)
		assert.Equal("us_east", request.RoutingKey)
		assert.Equal(int64(3), request.WorkerCount)

		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		json.NewEncoder(w).Encode(Job{
			ID:         jobID,
			Status:     "Pending",
			URL:        request.URL,
			RoutingKey: request.RoutingKey,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)

	job, err := client.CreateJob(context.Background(), "http://1.2.3.4:8080/piece/baga6ea4seaqaaa", 3)
	assert.NoError(err)
	assert.Equal(jobID, job.ID)
	assert.Equal("Pending", job.Status)
}

func TestClient_GetJob_Error(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "eu_west", time.Second)
	assert.Equal("eu_west", client.RoutingKey())

	_, err := client.GetJob(context.Background(), uuid.New())
	assert.Error(err)
}

func floatPtr(value float64) *float64 {
	return &value
}

func intPtr(value int64) *int64 {
	return &value
}

func TestSummarize(t *testing.T) {
	assert := assert.New(t)

	response := &JobResponse{
		Status: "Completed",
		SubJobs: []SubJob{
			{
				Status: "Completed",
				WorkerData: []WorkerData{
					{
						Ping:     &PingResult{Avg: floatPtr(10)},
						Download: &DownloadResult{TimeToFirstByteMs: floatPtr(100), DownloadSpeed: floatPtr(1000), TotalBytes: intPtr(512)},
					},
					{
						Ping:     &PingResult{Avg: floatPtr(20)},
						Download: &DownloadResult{TimeToFirstByteMs: floatPtr(300), DownloadSpeed: floatPtr(3000), TotalBytes: intPtr(512)},
					},
					{
						// worker reported nothing
					},
				},
			},
		},
	}

	avgLatency, ttfb, speed, totalBytes := summarize(response)
	assert.Equal(15.0, *avgLatency)
	assert.Equal(200.0, *ttfb)
	assert.Equal(2000.0, *speed)
	assert.Equal(int64(1024), *totalBytes)
}

func TestSummarize_NoData(t *testing.T) {
	assert := assert.New(t)

	avgLatency, ttfb, speed, totalBytes := summarize(&JobResponse{Status: "Failed"})
	assert.Nil(avgLatency)
	assert.Nil(ttfb)
	assert.Nil(speed)
	assert.Nil(totalBytes)
}
