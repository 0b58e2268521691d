package server

import (
	"net/http"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/virtuallab/labsync/internal/connectivity"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
	"github.com/virtuallab/labsync/internal/metrics"
	"github.com/virtuallab/labsync/internal/offline"
	"github.com/virtuallab/labsync/internal/sync/queue"
	"github.com/virtuallab/labsync/internal/sync/scheduler"
)

// SyncHandler serves sync status, manual passes, the pending queue and the
// offline-mode toggle.
type SyncHandler struct {
	service   *offline.Service
	scheduler *scheduler.Scheduler
	queue     *queue.Queue
	monitor   *connectivity.Monitor
	metrics   *metrics.LatencyTracker
	logger    *logging.Logger
}

// GetHealth handles GET /api/health
func (h *SyncHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "labsync",
		"online":  h.monitor.Current(),
	})
}

// GetStatus handles GET /api/sync/status
// Returns scheduler state, the persisted last sync time, offline mode and
// handler latency.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx := r.Context()

	status, err := h.scheduler.GetStatus(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	offlineMode, err := h.service.IsOfflineModeEnabled(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	lastSync, err := h.service.LastSyncTime(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"scheduler":       status,
		"offline_mode":    offlineMode,
		"pending_changes": status.PendingItems,
	}
	if lastSync != nil {
		response["last_sync"] = lastSync.UnixMilli()
	}
	if h.metrics != nil {
		response["latency"] = h.metrics.GetAllStats()
	}
	writeJSON(w, http.StatusOK, response)
}

// TriggerSync handles POST /api/sync
// Runs a pass and returns its result. Responds 409 while another pass runs.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListQueue handles GET /api/queue
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	actions, err := h.service.PendingActions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(actions),
		"actions": actions,
	})
}

// DeleteQueued handles DELETE /api/queue/{id}
// Discards one pending action.
func (h *SyncHandler) DeleteQueued(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	removed, err := h.queue.Remove(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, errorBody("NOT_FOUND", "no queued action "+id))
		return
	}
	h.logger.Info("Queued action discarded", map[string]interface{}{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

// OfflineMode handles GET and PUT /api/offline-mode
func (h *SyncHandler) OfflineMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var request struct {
			Enabled *bool `json:"enabled"`
		}
		if err := gojson.NewDecoder(r.Body).Decode(&request); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(string(apperrors.ErrInvalid), "invalid request body"))
			return
		}
		if request.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, errorBody(string(apperrors.ErrInvalid), "enabled is required"))
			return
		}
		if err := h.service.SetOfflineMode(r.Context(), *request.Enabled); err != nil {
			h.writeError(w, err)
			return
		}
	default:
		methodNotAllowed(w)
		return
	}

	enabled, err := h.service.IsOfflineModeEnabled(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": enabled})
}

func (h *SyncHandler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorWithCode("Request failed", string(code), err)
	}
	if code == "" {
		code = apperrors.ErrInternal
	}
	writeJSON(w, status, errorBody(string(code), err.Error()))
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrNoHandler, apperrors.ErrConfig:
		return http.StatusUnprocessableEntity
	case apperrors.ErrNetworkUnreachable, apperrors.ErrRemoteTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorBody(code, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"timestamp": time.Now().UnixMilli(),
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	gojson.NewEncoder(w).Encode(v)
}
