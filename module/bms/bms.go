package bms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

// DefaultRoutingKey selects the worker region the bandwidth subsystem
// dispatches jobs to.
const DefaultRoutingKey = "us_east"

// BandwidthResult is one row per bandwidth measurement job. The bandwidth
// subsystem owns the lifecycle; this service only enqueues jobs and polls
// their status.
type BandwidthResult struct {
	ID                uuid.UUID  `json:"id" gorm:"primarykey;type:uuid;default:uuid_generate_v4()"`
	ProviderID        string     `json:"provider_id" gorm:"index:idx_bms_results_provider"`
	BmsJobID          uuid.UUID  `json:"bms_job_id" gorm:"uniqueIndex"`
	URLTested         string     `json:"url_tested"`
	RoutingKey        string     `json:"routing_key"`
	WorkerCount       int64      `json:"worker_count"`
	Status            string     `json:"status"`
	AvgLatencyMs      *float64   `json:"avg_latency_ms,omitempty"`
	TimeToFirstByteMs *float64   `json:"time_to_first_byte_ms,omitempty"`
	DownloadSpeedBps  *float64   `json:"download_speed_bps,omitempty"`
	TotalBytes        *int64     `json:"total_bytes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func (BandwidthResult) TableName() string {
	return "bms_bandwidth_results"
}

type CreateJobRequest struct {
	URL         string `json:"url"`
	RoutingKey  string `json:"routing_key"`
	WorkerCount int64  `json:"worker_count"`
	Entity      string `json:"entity,omitempty"`
}

type Job struct {
	ID         uuid.UUID `json:"id"`
	Status     string    `json:"status"`
	URL        string    `json:"url"`
	RoutingKey string    `json:"routing_key"`
}

type DownloadResult struct {
	DownloadSpeed     *float64 `json:"download_speed"`
	TimeToFirstByteMs *float64 `json:"time_to_first_byte_ms"`
	TotalBytes        *int64   `json:"total_bytes"`
	ElapsedSecs       *float64 `json:"elapsed_secs"`
}

type PingResult struct {
	Avg *float64 `json:"avg"`
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

type WorkerData struct {
	Download *DownloadResult `json:"download"`
	Ping     *PingResult     `json:"ping"`
}

type SubJob struct {
	ID         uuid.UUID    `json:"id"`
	Status     string       `json:"status"`
	WorkerData []WorkerData `json:"worker_data"`
}

type JobResponse struct {
	ID         uuid.UUID `json:"id"`
	Status     string    `json:"status"`
	URL        string    `json:"url"`
	RoutingKey string    `json:"routing_key"`
	SubJobs    []SubJob  `json:"sub_jobs"`
}

// Client talks to the external bandwidth measurement subsystem.
type Client struct {
	client     *resty.Client
	baseURL    string
	routingKey string
	log        zerolog.Logger
}

func NewClient(baseURL string, routingKey string, timeout time.Duration) *Client {
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}

	return &Client{
		client:     resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		routingKey: routingKey,
		log:        log2.With().Str("module", "bms").Caller().Logger(),
	}
}

func (c *Client) RoutingKey() string {
	return c.routingKey
}

func (c *Client) CreateJob(ctx context.Context, url string, workerCount int64) (*Job, error) {
	request := CreateJobRequest{
		URL:         url,
		RoutingKey:  c.routingKey,
		WorkerCount: workerCount,
	}

	got, err := c.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(request).
		Post(c.baseURL + "/jobs")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bms job")
	}

	if got.IsError() {
		return nil, errors.Errorf("bms create job failed: %s - %s", got.Status(), got.String())
	}

	var job Job

	err = json.Unmarshal(got.Body(), &job)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal bms job")
	}

	c.log.Debug().Str("jobId", job.ID.String()).Str("url", url).Msg("bms job created")

	return &job, nil
}

func (c *Client) GetJob(ctx context.Context, jobID uuid.UUID) (*JobResponse, error) {
	got, err := c.client.R().SetContext(ctx).
		Get(fmt.Sprintf("%s/jobs/%s", c.baseURL, jobID))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get bms job %s", jobID)
	}

	if got.IsError() {
		return nil, errors.Errorf("bms get job failed: %s - %s", got.Status(), got.String())
	}

	var response JobResponse

	err = json.Unmarshal(got.Body(), &response)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal bms job response")
	}

	return &response, nil
}

func IsJobFinished(status string) bool {
	return slices.Contains([]string{"Completed", "Failed", "Cancelled"}, status)
}
