package models

import (
	"time"

	"github.com/google/uuid"
)

// AudioAsset identifies a stored recording. Assets are created and
// owned by the blob storage collaborator; the core only references
// them by name.
type AudioAsset struct {
	Container  string    `json:"container"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// SignedURL is a temporary read-only capability for one asset. It is
// consumed synchronously at submission time and never persisted.
// NotBefore is backdated relative to issuance to absorb clock skew
// between us and the engine fetching the audio.
type SignedURL struct {
	URL       string    `json:"url"`
	NotBefore time.Time `json:"not_before"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TranscriptJob is one submission to the external engine. The JobID is
// assigned by the engine and opaque to us.
type TranscriptJob struct {
	JobID          string     `json:"job_id"`
	AssetName      string     `json:"asset_name"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ResultLocation string     `json:"result_location,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// MappingRecord binds an asset to its current (and only current)
// TranscriptJob. Version changes on every write; writers condition
// their Put on the version they read so a late callback and a poller
// sweep cannot silently overwrite each other.
//
// NextCheckAt and CheckCount drive per-record reconciliation backoff
// and survive restarts because they live in the record itself.
type MappingRecord struct {
	AssetName   string        `json:"asset_name"`
	Job         TranscriptJob `json:"job"`
	Version     string        `json:"version"`
	UpdatedAt   time.Time     `json:"updated_at"`
	NextCheckAt time.Time     `json:"next_check_at"`
	CheckCount  int           `json:"check_count"`
}

// NewMappingRecord builds the initial record for a freshly submitted
// job, in StatusPending. The version is assigned by the store on write.
func NewMappingRecord(assetName, jobID string, now time.Time) *MappingRecord {
	return &MappingRecord{
		AssetName: assetName,
		Job: TranscriptJob{
			JobID:     jobID,
			AssetName: assetName,
			Status:    StatusPending,
			CreatedAt: now,
		},
		UpdatedAt:   now,
		NextCheckAt: now,
	}
}

// CallbackNotification is the webhook body the engine POSTs on job
// completion. Authenticity is carried in a request header, not here.
type CallbackNotification struct {
	JobID          string `json:"jobId"`
	Status         Status `json:"status"`
	ResultLocation string `json:"resultLocation,omitempty"`
	Error          string `json:"error,omitempty"`
}

// JobEvent is published on every applied state transition and fanned
// out to websocket subscribers.
type JobEvent struct {
	EventID        string    `json:"event_id"`
	AssetName      string    `json:"asset_name"`
	JobID          string    `json:"job_id"`
	Status         Status    `json:"status"`
	ResultLocation string    `json:"result_location,omitempty"`
	Error          string    `json:"error,omitempty"`
	Source         string    `json:"source"`
	At             time.Time `json:"at"`
}

func NewJobEvent(rec *MappingRecord, source string, at time.Time) JobEvent {
	return JobEvent{
		EventID:        uuid.New().String(),
		AssetName:      rec.AssetName,
		JobID:          rec.Job.JobID,
		Status:         rec.Job.Status,
		ResultLocation: rec.Job.ResultLocation,
		Error:          rec.Job.Error,
		Source:         source,
		At:             at,
	}
}

// ReconciliationReport summarizes one sweep.
type ReconciliationReport struct {
	StartedAt    time.Time `json:"started_at"`
	Scanned      int       `json:"scanned"`
	Transitioned int       `json:"transitioned"`
	Failed       int       `json:"failed"`
	Deferred     int       `json:"deferred"`
	Errors       int       `json:"errors"`
}
