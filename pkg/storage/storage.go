package storage

import (
	"errors"

	"transcript-orchestrator/pkg/models"
)

var (
	// ErrNotFound means no MappingRecord exists for the given key.
	ErrNotFound = errors.New("mapping record not found")
	// ErrConflict means a conditional write lost the race: the record's
	// version changed since the caller read it, or a create targeted an
	// existing record. Callers re-read and retry.
	ErrConflict = errors.New("mapping record version conflict")
)

// MappingStore is the durable asset -> current job binding. Writes are
// optimistic-concurrency: Put succeeds only if the stored version still
// equals expectedVersion, and assigns the record a fresh version on
// success. expectedVersion "" means create-if-absent.
//
// Records are never deleted by the core; retention is an external
// concern.
type MappingStore interface {
	Get(assetName string) (*models.MappingRecord, error)
	GetByJobID(jobID string) (*models.MappingRecord, error)
	Put(rec *models.MappingRecord, expectedVersion string) error
	List(activeOnly bool) ([]*models.MappingRecord, error)
	Close() error
}
