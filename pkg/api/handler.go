package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"transcript-orchestrator/pkg/blob"
	"transcript-orchestrator/pkg/engine"
	"transcript-orchestrator/pkg/jobs"
	"transcript-orchestrator/pkg/models"
	"transcript-orchestrator/pkg/storage"

	"github.com/gorilla/mux"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body,
// keyed with the shared secret the engine was configured with.
const SignatureHeader = "X-Callback-Signature"

const maxWebhookBody = 1 << 20

type Handlers struct {
	submitter  *jobs.Submitter
	callbacks  *jobs.CallbackProcessor
	reconciler *jobs.Reconciler
	store      storage.MappingStore
	hub        *Hub
	secret     []byte
}

func NewHandlers(submitter *jobs.Submitter, callbacks *jobs.CallbackProcessor, reconciler *jobs.Reconciler, store storage.MappingStore, hub *Hub, secret []byte) *Handlers {
	return &Handlers{
		submitter:  submitter,
		callbacks:  callbacks,
		reconciler: reconciler,
		store:      store,
		hub:        hub,
		secret:     secret,
	}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/jobs", h.SubmitHandler).Methods("POST")
	router.HandleFunc("/jobs", h.ListJobsHandler).Methods("GET")
	router.HandleFunc("/jobs/{asset}", h.GetJobHandler).Methods("GET")
	router.HandleFunc("/webhook", h.WebhookHandler).Methods("POST")
	router.HandleFunc("/reconcile", h.ReconcileHandler).Methods("POST")
	router.HandleFunc("/ws", h.WatchHandler)
}

type submitRequest struct {
	AssetName string `json:"asset_name"`
}

func (h *Handlers) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssetName == "" {
		http.Error(w, "asset_name is required", http.StatusBadRequest)
		return
	}

	job, err := h.submitter.Submit(r.Context(), req.AssetName)
	if err != nil {
		var subErr *engine.SubmissionError
		switch {
		case errors.Is(err, blob.ErrAssetNotFound):
			http.Error(w, "asset not found", http.StatusNotFound)
		case errors.As(err, &subErr):
			log.Printf("API: engine rejected submission for asset %s: %v", req.AssetName, err)
			http.Error(w, "engine rejected submission", http.StatusBadGateway)
		case errors.Is(err, engine.ErrUnavailable):
			log.Printf("API: engine unavailable for asset %s: %v", req.AssetName, err)
			http.Error(w, "engine unavailable, retry later", http.StatusServiceUnavailable)
		case errors.Is(err, storage.ErrConflict):
			http.Error(w, "submission conflict, retry", http.StatusConflict)
		default:
			log.Printf("API: submit failed for asset %s: %v", req.AssetName, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	assetName := mux.Vars(r)["asset"]

	rec, err := h.store.Get(assetName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "no job for asset", http.StatusNotFound)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "1"

	recs, err := h.store.List(activeOnly)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  recs,
		"count": len(recs),
	})
}

// WebhookHandler receives completion notifications from the engine.
// Responds 200 for accepted and for discarded (unknown job, duplicate)
// notifications, 401 on a failed authenticity check, and 503 when a
// write kept losing to concurrent writers so the engine redelivers.
func (h *Handlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		log.Printf("Webhook: rejected notification with bad signature from %s", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var n models.CallbackNotification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "malformed notification", http.StatusBadRequest)
		return
	}

	if err := h.callbacks.Process(&n); err != nil {
		if errors.Is(err, jobs.ErrTransitionContention) {
			http.Error(w, "write contention, redeliver", http.StatusServiceUnavailable)
			return
		}
		log.Printf("Webhook: failed to process notification for job %s: %v", n.JobID, err)
		http.Error(w, "failed to process notification", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ReconcileHandler runs one sweep on demand; the scheduler collaborator
// POSTs here on its interval.
func (h *Handlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.RunSweep(r.Context())
	if err != nil {
		log.Printf("API: reconcile sweep failed: %v", err)
		http.Error(w, "reconcile failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) verifySignature(body []byte, header string) bool {
	if len(h.secret) == 0 || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Sign computes the signature the engine is expected to send for body.
// Exported for tests and for local engine fakes.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
