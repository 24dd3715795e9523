package jobs

import (
	"testing"
	"time"

	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/models"
	"transcript-orchestrator/pkg/storage"
)

func newTestCallback(t *testing.T) (*CallbackProcessor, storage.MappingStore, *recordingSink, *clock.ManagedClock) {
	t.Helper()
	store := storage.NewMemoryStore()
	clk := clock.NewManaged(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	return NewCallbackProcessor(store, clk, sink, 3), store, sink, clk
}

func seedRecord(t *testing.T, store storage.MappingStore, asset, jobID string, status models.Status) *models.MappingRecord {
	t.Helper()
	rec := models.NewMappingRecord(asset, jobID, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC))
	rec.Job.Status = status
	if err := store.Put(rec, ""); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestCallbackCompletesJob(t *testing.T) {
	cb, store, sink, _ := newTestCallback(t)
	seedRecord(t, store, "a1.mp3", "J1", models.StatusProcessing)

	err := cb.Process(&models.CallbackNotification{
		JobID:          "J1",
		Status:         models.StatusCompleted,
		ResultLocation: "http://results/J1.json",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	rec, _ := store.Get("a1.mp3")
	if rec.Job.Status != models.StatusCompleted {
		t.Fatalf("status is %s", rec.Job.Status)
	}
	if rec.Job.ResultLocation != "http://results/J1.json" {
		t.Fatalf("result location not recorded: %+v", rec.Job)
	}
	if rec.Job.CompletedAt == nil {
		t.Fatal("completion timestamp not recorded")
	}
	if len(sink.events) != 1 || sink.events[0].Source != "callback" {
		t.Fatalf("expected one callback event, got %+v", sink.events)
	}
}

func TestCallbackDuplicateIsNoop(t *testing.T) {
	cb, store, sink, _ := newTestCallback(t)
	seedRecord(t, store, "a1.mp3", "J1", models.StatusProcessing)

	n := &models.CallbackNotification{
		JobID:          "J1",
		Status:         models.StatusCompleted,
		ResultLocation: "http://results/J1.json",
	}
	if err := cb.Process(n); err != nil {
		t.Fatal(err)
	}

	before, _ := store.Get("a1.mp3")
	if err := cb.Process(n); err != nil {
		t.Fatalf("duplicate delivery must not error: %v", err)
	}
	after, _ := store.Get("a1.mp3")

	if before.Version != after.Version {
		t.Fatal("duplicate delivery wrote to the store")
	}
	if len(sink.events) != 1 {
		t.Fatalf("duplicate delivery published an event: %+v", sink.events)
	}
}

func TestCallbackUnknownJobDiscarded(t *testing.T) {
	cb, _, sink, _ := newTestCallback(t)

	err := cb.Process(&models.CallbackNotification{JobID: "foreign", Status: models.StatusCompleted})
	if err != nil {
		t.Fatalf("unknown job must be discarded without error, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatal("unknown job must not publish events")
	}
}

func TestCallbackFailureRecordsError(t *testing.T) {
	cb, store, _, _ := newTestCallback(t)
	seedRecord(t, store, "a1.mp3", "J1", models.StatusPending)

	err := cb.Process(&models.CallbackNotification{
		JobID:  "J1",
		Status: models.StatusFailed,
		Error:  "audio unintelligible",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get("a1.mp3")
	if rec.Job.Status != models.StatusFailed || rec.Job.Error != "audio unintelligible" {
		t.Fatalf("failure not recorded: %+v", rec.Job)
	}
}

func TestCallbackRegressionRejected(t *testing.T) {
	cb, store, sink, _ := newTestCallback(t)
	seedRecord(t, store, "a1.mp3", "J1", models.StatusCompleted)

	// An engine-side status regression must not move the record.
	err := cb.Process(&models.CallbackNotification{JobID: "J1", Status: models.StatusProcessing})
	if err != nil {
		t.Fatalf("regression must be discarded without error, got %v", err)
	}

	rec, _ := store.Get("a1.mp3")
	if rec.Job.Status != models.StatusCompleted {
		t.Fatalf("regression mutated record: %s", rec.Job.Status)
	}
	if len(sink.events) != 0 {
		t.Fatal("regression must not publish events")
	}
}

func TestCallbackSupersededJobDiscarded(t *testing.T) {
	cb, store, _, _ := newTestCallback(t)

	// J1 ran to failure, the asset was re-submitted as J2. A very late
	// J1 notification must not touch J2's record.
	old := seedRecord(t, store, "a1.mp3", "J1", models.StatusFailed)
	fresh := models.NewMappingRecord("a1.mp3", "J2", time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC))
	if err := store.Put(fresh, old.Version); err != nil {
		t.Fatal(err)
	}

	err := cb.Process(&models.CallbackNotification{JobID: "J1", Status: models.StatusCompleted})
	if err != nil {
		t.Fatal(err)
	}

	rec, _ := store.Get("a1.mp3")
	if rec.Job.JobID != "J2" || rec.Job.Status != models.StatusPending {
		t.Fatalf("stale notification touched the current job: %+v", rec.Job)
	}
}

func TestCallbackMalformed(t *testing.T) {
	cb, _, _, _ := newTestCallback(t)

	if err := cb.Process(&models.CallbackNotification{Status: models.StatusCompleted}); err == nil {
		t.Fatal("missing job id must error")
	}
	if err := cb.Process(&models.CallbackNotification{JobID: "J1", Status: "finished"}); err == nil {
		t.Fatal("unknown status must error")
	}
}

func TestCallbackRetriesOnConflict(t *testing.T) {
	base := storage.NewMemoryStore()
	clk := clock.NewManaged(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &conflictOnce{MappingStore: base}
	cb := NewCallbackProcessor(store, clk, nil, 3)

	seedRecord(t, base, "a1.mp3", "J1", models.StatusProcessing)

	err := cb.Process(&models.CallbackNotification{
		JobID:          "J1",
		Status:         models.StatusCompleted,
		ResultLocation: "http://results/J1.json",
	})
	if err != nil {
		t.Fatalf("conflict must be retried, got %v", err)
	}

	rec, _ := base.Get("a1.mp3")
	if rec.Job.Status != models.StatusCompleted {
		t.Fatalf("transition lost after conflict retry: %s", rec.Job.Status)
	}
}

func TestCallbackSupersededDuringRetryDiscarded(t *testing.T) {
	base := storage.NewMemoryStore()
	clk := clock.NewManaged(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &supersedeOnce{MappingStore: base, clk: clk}
	cb := NewCallbackProcessor(store, clk, nil, 3)

	seedRecord(t, base, "a1.mp3", "J1", models.StatusPending)

	// While J1's completion is losing the write race, the asset gets
	// re-submitted as J2. J1's outcome must not land on J2's record.
	err := cb.Process(&models.CallbackNotification{
		JobID:          "J1",
		Status:         models.StatusCompleted,
		ResultLocation: "http://results/J1.json",
	})
	if err != nil {
		t.Fatalf("superseded notification must be discarded without error, got %v", err)
	}

	rec, _ := base.Get("a1.mp3")
	if rec.Job.JobID != "J2" {
		t.Fatalf("expected the new job to own the record, got %s", rec.Job.JobID)
	}
	if rec.Job.Status != models.StatusPending || rec.Job.ResultLocation != "" {
		t.Fatalf("old job's outcome applied to new job: %+v", rec.Job)
	}
}

// supersedeOnce fails the first conditional write and replaces the
// asset's record with a new job before returning the conflict,
// simulating a terminal-then-resubmit race inside the retry window.
type supersedeOnce struct {
	storage.MappingStore
	clk   clock.Clock
	fired bool
}

func (s *supersedeOnce) Put(rec *models.MappingRecord, expectedVersion string) error {
	if !s.fired {
		s.fired = true
		current, err := s.MappingStore.Get(rec.AssetName)
		if err != nil {
			return err
		}
		fresh := models.NewMappingRecord(rec.AssetName, "J2", s.clk.Now())
		if err := s.MappingStore.Put(fresh, current.Version); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return s.MappingStore.Put(rec, expectedVersion)
}

// conflictOnce forces the first Put to conflict, simulating a
// concurrent writer touching the record between read and write.
type conflictOnce struct {
	storage.MappingStore
	fired bool
}

func (s *conflictOnce) Put(rec *models.MappingRecord, expectedVersion string) error {
	if !s.fired {
		s.fired = true
		// Bump the stored version behind the caller's back.
		fresh, err := s.MappingStore.GetByJobID(rec.Job.JobID)
		if err == nil {
			if err := s.MappingStore.Put(fresh, fresh.Version); err != nil {
				return err
			}
		}
		return storage.ErrConflict
	}
	return s.MappingStore.Put(rec, expectedVersion)
}
