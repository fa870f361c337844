package discovery

import (
	"context"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobCreated   JobStatus = "Created"
	JobRunning   JobStatus = "Running"
	JobSucceeded JobStatus = "Succeeded"
	JobFailed    JobStatus = "Failed"
)

// Job is one queued discovery request. The row outlives the in-memory queue
// entry so callers can poll status after a restart, though queued jobs that
// never ran are not resumed.
type Job struct {
	ID         uuid.UUID            `json:"id" gorm:"primarykey;type:uuid;default:uuid_generate_v4()"`
	ProviderID *string              `json:"provider_id,omitempty" gorm:"index:idx_jobs_provider"`
	ClientID   *string              `json:"client_id,omitempty" gorm:"index:idx_jobs_client"`
	Type       module.DiscoveryType `json:"type"`
	Status     JobStatus            `json:"status"`
	Error      *string              `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

func (Job) TableName() string {
	return "finder_jobs"
}

type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) (*JobStore, error) {
	err := db.AutoMigrate(&Job{}, &module.UrlResult{})
	if err != nil {
		return nil, errors.Wrap(err, "cannot migrate finder jobs")
	}

	return &JobStore{db: db}, nil
}

func (s *JobStore) Create(ctx context.Context, job *Job) error {
	err := s.db.WithContext(ctx).Create(job).Error
	if err != nil {
		return errors.Wrap(err, "cannot create finder job")
	}

	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	var job Job

	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "cannot get finder job %s", jobID)
	}

	return &job, nil
}

func (s *JobStore) markRunning(ctx context.Context, jobID uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     JobRunning,
			"started_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Wrapf(err, "cannot mark finder job %s running", jobID)
	}

	return nil
}

func (s *JobStore) markFinished(ctx context.Context, jobID uuid.UUID, status JobStatus, jobErr error) error {
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now().UTC(),
	}

	if jobErr != nil {
		updates["error"] = jobErr.Error()
	}

	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Updates(updates).Error
	if err != nil {
		return errors.Wrapf(err, "cannot mark finder job %s finished", jobID)
	}

	return nil
}

// SaveResult appends one immutable result row.
func (s *JobStore) SaveResult(ctx context.Context, result *module.UrlResult) error {
	err := s.db.WithContext(ctx).Create(result).Error
	if err != nil {
		return errors.Wrapf(err, "cannot save url result for provider %s", result.ProviderID)
	}

	return nil
}

// LatestResult returns the most recent result row for a provider, optionally
// narrowed to one client.
func (s *JobStore) LatestResult(ctx context.Context, provider string, client *string) (*module.UrlResult, error) {
	query := s.db.WithContext(ctx).Where("provider_id = ?", provider)

	if client != nil {
		query = query.Where("client_id = ?", *client)
	} else {
		query = query.Where("result_type = ?", module.DiscoveryProvider)
	}

	var result module.UrlResult

	err := query.Order("tested_at DESC").First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrapf(err, "cannot get latest result for provider %s", provider)
	}

	return &result, nil
}
