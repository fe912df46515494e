package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
)

type APIHandler struct {
	manager interfaces.WorkflowManager
	logger  arbor.ILogger
}

func NewAPIHandler(manager interfaces.WorkflowManager, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		manager: manager,
		logger:  logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// HealthHandler reports "ok" while the manager runs and at least one
// browser worker is alive, "degraded" otherwise
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status := h.manager.Status()
	health := "ok"
	alive := 0
	if status.Pool != nil {
		alive = status.Pool.Alive
	}
	if !status.IsRunning || (status.Pool != nil && alive == 0) {
		health = "degraded"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        health,
		"workflow":      status.IsRunning,
		"workers_alive": alive,
		"active_tasks":  status.ActiveTasks,
		"version":       common.GetVersion(),
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
