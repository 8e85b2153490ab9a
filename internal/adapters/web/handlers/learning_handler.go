package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/safelink/safelink/internal/core/services/learner"
)

// LearningHandler exposes the continuous-learning loop. baseCtx outlives
// individual requests so a started loop is not tied to one of them.
type LearningHandler struct {
	Learner *learner.Learner
	baseCtx context.Context
}

// NewLearningHandler creates a LearningHandler.
func NewLearningHandler(ctx context.Context, l *learner.Learner) *LearningHandler {
	return &LearningHandler{Learner: l, baseCtx: ctx}
}

// HandleStatus reports learner statistics.
func (h *LearningHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Learner.Status())
}

// HandleTrainNow forces a training cycle. A cycle already in flight
// answers 409.
func (h *LearningHandler) HandleTrainNow(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Learner.TrainNow(r.Context())
	if err != nil {
		if errors.Is(err, learner.ErrTrainingBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleStart enables the background learning loop.
func (h *LearningHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.Learner.Start(h.baseCtx)
	writeJSON(w, http.StatusOK, map[string]string{"status": "learning_started"})
}

// HandleStop disables the background learning loop.
func (h *LearningHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.Learner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "learning_stopped"})
}
