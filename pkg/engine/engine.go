package engine

import (
	"context"
	"errors"
	"fmt"

	"transcript-orchestrator/pkg/models"
)

var (
	// ErrUnavailable means the engine was unreachable or kept returning
	// server errors after retries. Transient; the caller or scheduler
	// retries later.
	ErrUnavailable = errors.New("transcription engine unavailable")
	// ErrJobUnknown means the engine no longer knows the job id. The
	// job can never complete, so callers transition it to failed.
	ErrJobUnknown = errors.New("transcription job unknown to engine")
)

// SubmissionError is a non-retryable rejection of a submission, e.g. a
// malformed media URL or exceeded quota.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("engine rejected submission: status=%d %s", e.StatusCode, e.Message)
}

// JobStatus is the engine's view of one job.
type JobStatus struct {
	JobID          string        `json:"id"`
	Status         models.Status `json:"status"`
	ResultLocation string        `json:"resultLocation,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Engine is the external speech-recognition service. One Submit per
// successful submission; the engine fetches the audio from audioURL
// and delivers completion to callbackURL, at least once.
type Engine interface {
	Submit(ctx context.Context, audioURL, callbackURL string) (string, error)
	GetStatus(ctx context.Context, jobID string) (*JobStatus, error)
}
