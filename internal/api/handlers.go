package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/workmesh/workmesh/internal/registry"
	"github.com/workmesh/workmesh/pkg/models"
)

// Handlers binds the HTTP transport adapter to the capability registry.
type Handlers struct {
	registry     *registry.Registry
	controllerID string
}

// NewHandlers creates the handler set for the given registry.
func NewHandlers(reg *registry.Registry, controllerID string) *Handlers {
	return &Handlers{registry: reg, controllerID: controllerID}
}

// RegisterWorker handles POST /api/v1/workers.
func (h *Handlers) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req models.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration payload: "+err.Error())
		return
	}

	if err := h.registry.Register(req.WorkerID, req.EndpointURL, req.Capabilities); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":       "registered",
		"worker_id":    req.WorkerID,
		"capabilities": len(req.Capabilities),
	})
}

// Heartbeat handles POST /api/v1/workers/{workerID}/heartbeat. An
// unknown worker gets 404 so the caller knows to re-register.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if !h.registry.Heartbeat(workerID) {
		writeJSON(w, http.StatusNotFound, models.HeartbeatResponse{Acknowledged: false, Status: "unknown_worker"})
		return
	}
	writeJSON(w, http.StatusOK, models.HeartbeatResponse{Acknowledged: true, Status: "ok"})
}

// DeregisterWorker handles DELETE /api/v1/workers/{workerID}.
// Unconditional: deleting an absent worker still succeeds.
func (h *Handlers) DeregisterWorker(w http.ResponseWriter, r *http.Request) {
	h.registry.Deregister(chi.URLParam(r, "workerID"))
	w.WriteHeader(http.StatusNoContent)
}

// ListWorkers handles GET /api/v1/workers.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.registry.Workers()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// Route handles GET /api/v1/route?verb=...&capability=... and returns
// the first healthy endpoint providing the pair, or 404.
func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	verb := r.URL.Query().Get("verb")
	capability := r.URL.Query().Get("capability")
	if verb == "" || capability == "" {
		writeError(w, http.StatusBadRequest, "verb and capability query parameters are required")
		return
	}

	endpoint := h.registry.Route(verb, capability, nil)
	if endpoint == nil {
		writeError(w, http.StatusNotFound, "no healthy worker for "+verb+":"+capability)
		return
	}
	writeJSON(w, http.StatusOK, endpoint)
}

// ExportState handles GET /api/v1/state.
func (h *Handlers) ExportState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.ExportState(h.controllerID))
}

// ImportState handles POST /api/v1/state/import. The merge itself is an
// unimplemented extension point; the call is logged and acknowledged.
func (h *Handlers) ImportState(w http.ResponseWriter, r *http.Request) {
	var state models.RegistryState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, http.StatusBadRequest, "invalid state payload: "+err.Error())
		return
	}
	h.registry.ImportRemoteState(state.ControllerID, state)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "merge": "not_implemented"})
}

// ── Response helpers ─────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
