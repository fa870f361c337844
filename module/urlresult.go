package module

import (
	"time"

	"github.com/google/uuid"
)

// UrlResult is one immutable row per discovery run. Rows are only ever
// inserted; history queries rely on tested_at ordering.
type UrlResult struct {
	ID                    uuid.UUID     `json:"id" gorm:"primarykey;type:uuid;default:uuid_generate_v4()"`
	ProviderID            string        `json:"provider_id" gorm:"index:idx_url_results_provider"`
	ClientID              *string       `json:"client_id,omitempty" gorm:"index:idx_url_results_client"`
	ResultType            DiscoveryType `json:"result_type"`
	WorkingURL            *string       `json:"working_url,omitempty"`
	RetrievabilityPercent *float64      `json:"retrievability_percent,omitempty"`
	ResultCode            ResultCode    `json:"result_code"`
	ErrorCode             *ErrorCode    `json:"error_code,omitempty"`
	ContentLength         *int64        `json:"content_length,omitempty"`
	InvalidEvidenceURL    *string       `json:"invalid_evidence_url,omitempty"`
	CarFilesPercent       *float64      `json:"car_files_percent,omitempty"`
	LargeFilesPercent     *float64      `json:"large_files_percent,omitempty"`
	IsConsistent          *bool         `json:"is_consistent,omitempty"`
	IsReliable            *bool         `json:"is_reliable,omitempty"`
	URLMetadata           JSONB         `json:"url_metadata,omitempty" gorm:"type:jsonb"`
	TestedAt              time.Time     `json:"tested_at" gorm:"index:idx_url_results_tested_at"`
}

func (UrlResult) TableName() string {
	return "url_results"
}

func NewProviderResult(providerID string) *UrlResult {
	return &UrlResult{
		ID:          uuid.New(),
		ProviderID:  providerID,
		ResultType:  DiscoveryProvider,
		ResultCode:  ResultError,
		URLMetadata: NullJSONB(),
		TestedAt:    time.Now().UTC(),
	}
}

func NewProviderClientResult(providerID string, clientID string) *UrlResult {
	result := NewProviderResult(providerID)
	result.ClientID = &clientID
	result.ResultType = DiscoveryProviderClient
	return result
}
