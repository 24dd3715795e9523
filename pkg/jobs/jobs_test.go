package jobs

import (
	"context"
	"sync"
	"time"

	"transcript-orchestrator/pkg/blob"
	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/engine"
	"transcript-orchestrator/pkg/models"
)

// Shared test fixtures for the jobs package.

type fakeBlobStore struct {
	assets map[string]bool
}

func (s *fakeBlobStore) Stat(ctx context.Context, name string) (*models.AudioAsset, error) {
	if !s.assets[name] {
		return nil, blob.ErrAssetNotFound
	}
	return &models.AudioAsset{Container: "uploads", Name: name}, nil
}

type fakeEngine struct {
	mu          sync.Mutex
	submissions []string
	nextJobID   string
	submitErr   error
	statuses    map[string]*engine.JobStatus
	statusErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		nextJobID: "J1",
		statuses:  make(map[string]*engine.JobStatus),
	}
}

func (e *fakeEngine) Submit(ctx context.Context, audioURL, callbackURL string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.submitErr != nil {
		return "", e.submitErr
	}
	e.submissions = append(e.submissions, audioURL)
	return e.nextJobID, nil
}

func (e *fakeEngine) GetStatus(ctx context.Context, jobID string) (*engine.JobStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.statusErr != nil {
		return nil, e.statusErr
	}
	st, ok := e.statuses[jobID]
	if !ok {
		return nil, engine.ErrJobUnknown
	}
	cp := *st
	return &cp, nil
}

func (e *fakeEngine) submitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submissions)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (s *recordingSink) Publish(ev models.JobEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) statuses() []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Status, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Status
	}
	return out
}

func testIssuer(store blob.Store, clk clock.Clock) *blob.Issuer {
	return blob.NewIssuer(store, "http://blobs.local", "uploads", []byte("key"), time.Hour, 5*time.Minute, clk)
}
