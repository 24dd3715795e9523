package jobs

import (
	"errors"
	"fmt"
	"log"

	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/models"
	"transcript-orchestrator/pkg/storage"
)

// CallbackProcessor applies completion notifications from the engine.
// Delivery is at least once; effect is exactly once, enforced by the
// shared transitioner.
type CallbackProcessor struct {
	store storage.MappingStore
	trans *transitioner
}

func NewCallbackProcessor(store storage.MappingStore, clk clock.Clock, sink EventSink, writeAttempts int) *CallbackProcessor {
	return &CallbackProcessor{
		store: store,
		trans: newTransitioner(store, clk, sink, writeAttempts),
	}
}

// Process applies one authenticated notification. Unknown job ids are
// logged and discarded without error (stale or foreign notification);
// duplicates are no-ops. Only malformed payloads and write contention
// surface as errors.
func (p *CallbackProcessor) Process(n *models.CallbackNotification) error {
	if n.JobID == "" {
		return fmt.Errorf("notification missing job id")
	}
	if !n.Status.Valid() {
		return fmt.Errorf("notification for job %s has unknown status %q", n.JobID, n.Status)
	}

	rec, err := p.store.GetByJobID(n.JobID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("Callback: unknown job %s, discarding notification", n.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up job %s: %w", n.JobID, err)
	}
	if rec.Job.JobID != n.JobID {
		// The index entry outlived its job: the asset has since been
		// re-submitted as a new job. The notification is stale.
		log.Printf("Callback: job %s superseded by %s on asset %s, discarding", n.JobID, rec.Job.JobID, rec.AssetName)
		return nil
	}

	_, err = p.trans.Apply(rec, n.Status, n.ResultLocation, n.Error, "callback")
	return err
}
