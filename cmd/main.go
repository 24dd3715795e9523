package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcript-orchestrator/pkg/api"
	"transcript-orchestrator/pkg/blob"
	"transcript-orchestrator/pkg/clock"
	"transcript-orchestrator/pkg/config"
	"transcript-orchestrator/pkg/engine"
	"transcript-orchestrator/pkg/jobs"
	"transcript-orchestrator/pkg/storage"

	"github.com/gorilla/mux"
)

func main() {
	// Load configuration
	cfg := config.Load()
	clk := clock.New()

	// Initialize mapping store
	store, err := storage.NewBadgerStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize mapping store: %v", err)
	}
	defer store.Close()

	// Blob store + signed URL issuer
	blobStore, err := blob.NewDirStore(cfg.Storage.Path, cfg.Blob.Container)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}
	issuer := blob.NewIssuer(blobStore, cfg.Blob.BaseURL, cfg.Blob.Container,
		[]byte(cfg.Blob.SigningKey), cfg.Blob.URLValidity, cfg.Blob.SkewGrace, clk)

	// Engine client
	eng := engine.NewClient(engine.ClientConfig{
		BaseURL:     cfg.Engine.BaseURL,
		APIKey:      cfg.Engine.APIKey,
		Timeout:     cfg.Engine.Timeout,
		MaxAttempts: cfg.Engine.MaxAttempts,
		RetryBase:   cfg.Engine.RetryBase,
	})

	// Event hub and job orchestration
	hub := api.NewHub()
	submitter := jobs.NewSubmitter(store, issuer, eng, cfg.CallbackURL, clk, hub)
	callbacks := jobs.NewCallbackProcessor(store, clk, hub, cfg.Reconcile.WriteAttempts)
	reconciler := jobs.NewReconciler(store, eng, clk, hub, jobs.ReconcilerConfig{
		Interval:      cfg.Reconcile.Interval,
		Grace:         cfg.Reconcile.Grace,
		MaxBackoff:    cfg.Reconcile.MaxBackoff,
		Workers:       cfg.Reconcile.Workers,
		WriteAttempts: cfg.Reconcile.WriteAttempts,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reconciler.Start(ctx)
	defer reconciler.Stop()

	// Setup routes
	handlers := api.NewHandlers(submitter, callbacks, reconciler, store, hub, []byte(cfg.Webhook.Secret))
	router := mux.NewRouter()
	handlers.Register(router)

	// Start HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
