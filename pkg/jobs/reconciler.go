package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/engine"
	"transcript-orchestrator/pkg/models"
	"transcript-orchestrator/pkg/storage"
)

// ReconcilerConfig carries the sweep tuning values. Grace is how long
// a record may sit non-terminal before the engine is asked for its
// true status; per-record re-checks back off by doubling up to
// MaxBackoff.
type ReconcilerConfig struct {
	Interval      time.Duration
	Grace         time.Duration
	MaxBackoff    time.Duration
	Workers       int
	WriteAttempts int
}

// Reconciler is the fallback path for lost or undelivered webhooks: a
// periodic sweep that queries the engine for jobs stuck non-terminal
// past the grace threshold and applies the same state machine as the
// callback receiver. Conditional writes make it safe to run
// concurrently with callbacks and with itself.
type Reconciler struct {
	store  storage.MappingStore
	engine engine.Engine
	clk    clock.Clock
	trans  *transitioner
	cfg    ReconcilerConfig

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewReconciler(store storage.MappingStore, eng engine.Engine, clk clock.Clock, sink EventSink, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Minute
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	return &Reconciler{
		store:  store,
		engine: eng,
		clk:    clk,
		trans:  newTransitioner(store, clk, sink, cfg.WriteAttempts),
		cfg:    cfg,
	}
}

// Start launches the periodic sweep loop. Safe to call from any
// goroutine; a second Start without an intervening Stop is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.started = false
}

func (r *Reconciler) run() {
	defer r.wg.Done()
	log.Printf("Reconciler: running, interval=%s grace=%s", r.cfg.Interval, r.cfg.Grace)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report, err := r.RunSweep(r.ctx)
			if err != nil {
				log.Printf("Reconciler: sweep failed: %v", err)
				continue
			}
			log.Printf("Reconciler: sweep done: scanned=%d transitioned=%d failed=%d deferred=%d errors=%d",
				report.Scanned, report.Transitioned, report.Failed, report.Deferred, report.Errors)

		case <-r.ctx.Done():
			log.Println("Reconciler: shutting down")
			return
		}
	}
}

// RunSweep performs one reconciliation pass over all non-terminal
// records due for a check. Exposed so a scheduler collaborator (or the
// reconcile endpoint) can trigger a sweep on demand.
func (r *Reconciler) RunSweep(ctx context.Context) (*models.ReconciliationReport, error) {
	now := r.clk.Now()
	report := &models.ReconciliationReport{StartedAt: now}
	var mu sync.Mutex

	records, err := r.store.List(true)
	if err != nil {
		return nil, err
	}

	pool := newWorkerPool(r.cfg.Workers, func(ctx context.Context, rec *models.MappingRecord) {
		outcome := r.checkRecord(ctx, rec, now)
		mu.Lock()
		switch outcome {
		case outcomeTransitioned:
			report.Transitioned++
		case outcomeFailed:
			report.Failed++
		case outcomeDeferred:
			report.Deferred++
		case outcomeError:
			report.Errors++
		}
		mu.Unlock()
	})
	pool.Start(ctx)

	for _, rec := range records {
		if now.Sub(rec.Job.CreatedAt) <= r.cfg.Grace {
			continue
		}
		if now.Before(rec.NextCheckAt) {
			continue
		}
		report.Scanned++
		if !pool.Submit(ctx, rec) {
			break
		}
	}
	pool.Stop()

	return report, nil
}

type checkOutcome int

const (
	outcomeTransitioned checkOutcome = iota
	outcomeFailed
	outcomeDeferred
	outcomeError
)

func (r *Reconciler) checkRecord(ctx context.Context, rec *models.MappingRecord, now time.Time) checkOutcome {
	status, err := r.engine.GetStatus(ctx, rec.Job.JobID)
	if errors.Is(err, engine.ErrJobUnknown) {
		// The engine will never complete a job it no longer knows.
		applied, terr := r.trans.Apply(rec, models.StatusFailed, "", "job expired or unknown at engine", "reconciler")
		if terr != nil {
			log.Printf("Reconciler: failed to mark job %s failed: %v", rec.Job.JobID, terr)
			return outcomeError
		}
		if applied {
			return outcomeFailed
		}
		return outcomeDeferred
	}
	if err != nil {
		log.Printf("Reconciler: status query for job %s failed: %v", rec.Job.JobID, err)
		return outcomeError
	}

	if status.Status.Terminal() {
		applied, terr := r.trans.Apply(rec, status.Status, status.ResultLocation, status.Error, "reconciler")
		if terr != nil {
			log.Printf("Reconciler: failed to apply %s for job %s: %v", status.Status, rec.Job.JobID, terr)
			return outcomeError
		}
		if !applied {
			return outcomeDeferred
		}
		if status.Status == models.StatusFailed {
			return outcomeFailed
		}
		return outcomeTransitioned
	}

	// Still in flight. Record the engine's view if it moved to
	// processing, then push the next check out with doubling backoff
	// to bound engine load for long-pending jobs.
	if status.Status == models.StatusProcessing && rec.Job.Status == models.StatusPending {
		if _, terr := r.trans.Apply(rec, models.StatusProcessing, "", "", "reconciler"); terr != nil {
			log.Printf("Reconciler: failed to mark job %s processing: %v", rec.Job.JobID, terr)
			return outcomeError
		}
	}

	r.deferRecord(rec, now)
	return outcomeDeferred
}

// deferRecord writes the next-check backoff onto the record. A version
// conflict here just means another writer touched the record first;
// the next sweep re-evaluates it, so the conflict is dropped.
func (r *Reconciler) deferRecord(rec *models.MappingRecord, now time.Time) {
	backoff := r.cfg.Interval << uint(rec.CheckCount)
	if backoff > r.cfg.MaxBackoff || backoff <= 0 {
		backoff = r.cfg.MaxBackoff
	}

	next := *rec
	next.CheckCount++
	next.NextCheckAt = now.Add(backoff)
	next.UpdatedAt = now

	if err := r.store.Put(&next, rec.Version); err != nil && !errors.Is(err, storage.ErrConflict) {
		log.Printf("Reconciler: failed to defer job %s: %v", rec.Job.JobID, err)
	}
}
