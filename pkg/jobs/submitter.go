package jobs

import (
	"context"
	"errors"
	"log"

	"transcript-orchestrator/pkg/blob"
	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/engine"
	"transcript-orchestrator/pkg/models"
	"transcript-orchestrator/pkg/storage"
)

// Submitter creates transcription jobs, idempotently per asset: while
// an asset has a non-terminal job, repeated submissions return that
// job instead of paying for a duplicate engine submission.
type Submitter struct {
	store       storage.MappingStore
	issuer      *blob.Issuer
	engine      engine.Engine
	callbackURL string
	clk         clock.Clock
	sink        EventSink
}

func NewSubmitter(store storage.MappingStore, issuer *blob.Issuer, eng engine.Engine, callbackURL string, clk clock.Clock, sink EventSink) *Submitter {
	if sink == nil {
		sink = noopSink{}
	}
	return &Submitter{
		store:       store,
		issuer:      issuer,
		engine:      eng,
		callbackURL: callbackURL,
		clk:         clk,
		sink:        sink,
	}
}

// Submit starts a transcription job for the named asset, or returns
// the existing job when one is still in flight.
//
// Error surface: blob.ErrAssetNotFound when the asset does not exist,
// *engine.SubmissionError when the engine rejects the request,
// engine.ErrUnavailable after transport retries are exhausted, and
// storage.ErrConflict only if a racing create cannot be resolved by
// re-reading.
func (s *Submitter) Submit(ctx context.Context, assetName string) (*models.TranscriptJob, error) {
	existing, err := s.store.Get(assetName)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if existing != nil && !existing.Job.Status.Terminal() {
		log.Printf("Submitter: asset %s already has active job %s, returning it", assetName, existing.Job.JobID)
		job := existing.Job
		return &job, nil
	}

	signed, err := s.issuer.Issue(ctx, assetName)
	if err != nil {
		return nil, err
	}

	jobID, err := s.engine.Submit(ctx, signed.URL, s.callbackURL)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	rec := models.NewMappingRecord(assetName, jobID, now)

	// A terminal record is replaced in place; a fresh asset is a
	// create. Either way the write is conditional, so a concurrent
	// submitter can win the race.
	expected := ""
	if existing != nil {
		expected = existing.Version
	}

	if err := s.store.Put(rec, expected); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		// Re-read once: if the race winner left an active job, that
		// job is the answer. Our own engine submission is abandoned to
		// the reconciler-less void; the engine will simply callback
		// for a job id we never recorded, which the receiver discards.
		winner, rerr := s.store.Get(assetName)
		if rerr == nil && !winner.Job.Status.Terminal() {
			log.Printf("Submitter: lost create race for asset %s, returning job %s", assetName, winner.Job.JobID)
			job := winner.Job
			return &job, nil
		}
		return nil, err
	}

	log.Printf("Submitter: asset %s submitted as job %s", assetName, jobID)
	s.sink.Publish(models.NewJobEvent(rec, "submitter", now))

	job := rec.Job
	return &job, nil
}
