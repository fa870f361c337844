package bms

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Store persists bandwidth job rows while the external subsystem works on
// them.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(&BandwidthResult{})
	if err != nil {
		return nil, errors.Wrap(err, "cannot migrate bandwidth results")
	}

	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, result *BandwidthResult) error {
	err := s.db.WithContext(ctx).Create(result).Error
	if err != nil {
		return errors.Wrapf(err, "cannot create bandwidth result for provider %s", result.ProviderID)
	}

	return nil
}

// Unfinished lists rows whose bms job has not reached a terminal status yet.
func (s *Store) Unfinished(ctx context.Context, limit int) ([]BandwidthResult, error) {
	var results []BandwidthResult

	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []string{"Completed", "Failed", "Cancelled"}).
		Order("created_at ASC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, errors.Wrap(err, "cannot list unfinished bandwidth results")
	}

	return results, nil
}

// Complete records the terminal status and the measurements averaged across
// sub jobs.
func (s *Store) Complete(ctx context.Context, bmsJobID uuid.UUID, response *JobResponse) error {
	updates := map[string]interface{}{
		"status":       response.Status,
		"completed_at": time.Now().UTC(),
	}

	avgLatency, ttfb, speed, totalBytes := summarize(response)
	if avgLatency != nil {
		updates["avg_latency_ms"] = *avgLatency
	}

	if ttfb != nil {
		updates["time_to_first_byte_ms"] = *ttfb
	}

	if speed != nil {
		updates["download_speed_bps"] = *speed
	}

	if totalBytes != nil {
		updates["total_bytes"] = *totalBytes
	}

	err := s.db.WithContext(ctx).Model(&BandwidthResult{}).
		Where("bms_job_id = ?", bmsJobID).
		Updates(updates).Error
	if err != nil {
		return errors.Wrapf(err, "cannot complete bandwidth result for job %s", bmsJobID)
	}

	return nil
}

// summarize averages worker measurements across all sub jobs. Workers that
// reported no data are skipped.
func summarize(response *JobResponse) (*float64, *float64, *float64, *int64) {
	var (
		latencySum, ttfbSum, speedSum    float64
		latencyCount, ttfbCount, speedEn int
		bytesSum                         int64
		bytesSeen                        bool
	)

	for _, subJob := range response.SubJobs {
		for _, worker := range subJob.WorkerData {
			if worker.Ping != nil && worker.Ping.Avg != nil {
				latencySum += *worker.Ping.Avg
				latencyCount++
			}

			if worker.Download == nil {
				continue
			}

			if worker.Download.TimeToFirstByteMs != nil {
				ttfbSum += *worker.Download.TimeToFirstByteMs
				ttfbCount++
			}

			if worker.Download.DownloadSpeed != nil {
				speedSum += *worker.Download.DownloadSpeed
				speedEn++
			}

			if worker.Download.TotalBytes != nil {
				bytesSum += *worker.Download.TotalBytes
				bytesSeen = true
			}
		}
	}

	var avgLatency, ttfb, speed *float64

	var totalBytes *int64

	if latencyCount > 0 {
		value := latencySum / float64(latencyCount)
		avgLatency = &value
	}

	if ttfbCount > 0 {
		value := ttfbSum / float64(ttfbCount)
		ttfb = &value
	}

	if speedEn > 0 {
		value := speedSum / float64(speedEn)
		speed = &value
	}

	if bytesSeen {
		totalBytes = &bytesSum
	}

	return avgLatency, ttfb, speed, totalBytes
}
