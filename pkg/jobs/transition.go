package jobs

import (
	"errors"
	"fmt"
	"log"

	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/models"
	"transcript-orchestrator/pkg/storage"
)

// ErrTransitionContention means a transition kept losing the
// conditional-write race past the retry budget. Transient; the caller
// (engine redelivery or the next sweep) retries later.
var ErrTransitionContention = errors.New("transition retries exhausted")

// EventSink receives an event for every applied state transition.
type EventSink interface {
	Publish(models.JobEvent)
}

type noopSink struct{}

func (noopSink) Publish(models.JobEvent) {}

// transitioner is the job state machine shared by the callback
// receiver and the reconciler: both drive records to terminal states
// through the same conditional-write discipline, so a late callback
// and a poller sweep racing on one job converge instead of clobbering
// each other.
type transitioner struct {
	store       storage.MappingStore
	clk         clock.Clock
	sink        EventSink
	maxAttempts int
}

func newTransitioner(store storage.MappingStore, clk clock.Clock, sink EventSink, maxAttempts int) *transitioner {
	if sink == nil {
		sink = noopSink{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &transitioner{store: store, clk: clk, sink: sink, maxAttempts: maxAttempts}
}

// Apply moves the record's job to target, recording the result
// location or error detail, with bounded re-read-and-retry on version
// conflicts. Returns true when a write was applied.
//
// A duplicate delivery (record already in target) and a disallowed
// transition are both no-ops: the former silently, the latter logged
// as an anomaly. Only contention past the retry budget is an error.
func (t *transitioner) Apply(rec *models.MappingRecord, target models.Status, resultLocation, errDetail, source string) (bool, error) {
	jobID := rec.Job.JobID

	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		current := rec.Job.Status

		if current == target {
			log.Printf("StateMachine: duplicate %s notification for job %s (asset %s), discarding", target, rec.Job.JobID, rec.AssetName)
			return false, nil
		}
		if !current.CanTransitionTo(target) {
			log.Printf("StateMachine: anomaly: rejected transition %s -> %s for job %s (asset %s) from %s", current, target, rec.Job.JobID, rec.AssetName, source)
			return false, nil
		}

		now := t.clk.Now()
		next := *rec
		next.Job.Status = target
		next.Job.ResultLocation = resultLocation
		next.Job.Error = errDetail
		next.UpdatedAt = now
		if target.Terminal() {
			completed := now
			next.Job.CompletedAt = &completed
		}

		err := t.store.Put(&next, rec.Version)
		if err == nil {
			log.Printf("StateMachine: job %s (asset %s) %s -> %s via %s", next.Job.JobID, next.AssetName, current, target, source)
			t.sink.Publish(models.NewJobEvent(&next, source, now))
			*rec = next
			return true, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return false, fmt.Errorf("failed to write transition for job %s: %w", rec.Job.JobID, err)
		}

		// Lost the race; a concurrent writer may already have resolved
		// the job. Re-read and re-evaluate.
		fresh, err := t.store.GetByJobID(jobID)
		if err != nil {
			return false, fmt.Errorf("failed to re-read job %s after conflict: %w", jobID, err)
		}
		if fresh.Job.JobID != jobID {
			// The asset was re-submitted as a new job while we were
			// retrying. Applying this transition now would write the
			// old job's outcome onto the new one, so discard it as
			// superseded.
			log.Printf("StateMachine: job %s superseded by %s on asset %s during retry, discarding %s from %s", jobID, fresh.Job.JobID, fresh.AssetName, target, source)
			return false, nil
		}
		*rec = *fresh
	}

	return false, fmt.Errorf("%w: job %s target %s", ErrTransitionContention, jobID, target)
}
