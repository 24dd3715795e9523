package storage

import (
	"sync"

	"transcript-orchestrator/pkg/models"

	"github.com/google/uuid"
)

type memoryStore struct {
	records map[string]*models.MappingRecord
	byJob   map[string]string
	mu      sync.RWMutex
}

// NewMemoryStore returns an in-memory MappingStore with the same
// conditional-write semantics as the badger store. Used in tests.
func NewMemoryStore() MappingStore {
	return &memoryStore{
		records: make(map[string]*models.MappingRecord),
		byJob:   make(map[string]string),
	}
}

func (s *memoryStore) Get(assetName string) (*models.MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[assetName]
	if !exists {
		return nil, ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

func (s *memoryStore) GetByJobID(jobID string) (*models.MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assetName, exists := s.byJob[jobID]
	if !exists {
		return nil, ErrNotFound
	}

	rec, exists := s.records[assetName]
	if !exists {
		return nil, ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

func (s *memoryStore) Put(rec *models.MappingRecord, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.records[rec.AssetName]
	if !exists && expectedVersion != "" {
		return ErrConflict
	}
	if exists && stored.Version != expectedVersion {
		return ErrConflict
	}

	rec.Version = uuid.New().String()
	cp := *rec
	s.records[rec.AssetName] = &cp
	s.byJob[rec.Job.JobID] = rec.AssetName
	return nil
}

func (s *memoryStore) List(activeOnly bool) ([]*models.MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*models.MappingRecord
	for _, rec := range s.records {
		if activeOnly && rec.Job.Status.Terminal() {
			continue
		}
		cp := *rec
		recs = append(recs, &cp)
	}

	return recs, nil
}

func (s *memoryStore) Close() error {
	return nil
}
