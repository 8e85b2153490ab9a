package handlers

import (
	"net/http"

	"github.com/safelink/safelink/internal/core/ports"
)

// LiveFeedHandler serves a polling snapshot of the newest alerts for
// clients that cannot hold a websocket.
type LiveFeedHandler struct {
	Store ports.AlertStore
}

// NewLiveFeedHandler creates a LiveFeedHandler.
func NewLiveFeedHandler(store ports.AlertStore) *LiveFeedHandler {
	return &LiveFeedHandler{Store: store}
}

// HandleFeed returns the newest alerts, newest first.
func (h *LiveFeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	alerts, err := h.Store.Latest(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}
