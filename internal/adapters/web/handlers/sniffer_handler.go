package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safelink/safelink/internal/core/services/sniffer"
)

// SnifferHandler exposes the capture lifecycle. baseCtx outlives individual
// requests so the capture loops are not tied to the starting request.
type SnifferHandler struct {
	Supervisor *sniffer.Supervisor
	baseCtx    context.Context
}

// NewSnifferHandler creates a SnifferHandler.
func NewSnifferHandler(ctx context.Context, s *sniffer.Supervisor) *SnifferHandler {
	return &SnifferHandler{Supervisor: s, baseCtx: ctx}
}

// HandleStart starts capturing. The optional body names the interfaces;
// otherwise the configured set is used.
func (h *SnifferHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Interfaces []string `json:"interfaces"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := h.Supervisor.Start(h.baseCtx, req.Interfaces); err != nil {
		if errors.Is(err, sniffer.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Supervisor.Status())
}

// HandleStop stops capturing.
func (h *SnifferHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.Supervisor.Stop(); err != nil {
		if errors.Is(err, sniffer.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleStatus reports the lifecycle snapshot plus worker stats.
func (h *SnifferHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sniffer": h.Supervisor.Status(),
		"workers": h.Supervisor.Workers(),
	})
}
