package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/safelink/safelink/internal/adapters/storage"
	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
)

// ThreatHandler manages the local threat-indicator table.
type ThreatHandler struct {
	Store ports.ThreatIntelStore
}

// NewThreatHandler creates a ThreatHandler.
func NewThreatHandler(store ports.ThreatIntelStore) *ThreatHandler {
	return &ThreatHandler{Store: store}
}

type indicatorRequest struct {
	domain.ThreatIndicator
	TTLHours int `json:"ttl_hours"`
}

// HandleIndicators lists indicators on GET and creates one or many on POST.
func (h *ThreatHandler) HandleIndicators(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listIndicators(w, r)
	case http.MethodPost:
		h.createIndicators(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *ThreatHandler) listIndicators(w http.ResponseWriter, r *http.Request) {
	filter := domain.ThreatFilter{
		Type:     domain.ThreatType(r.URL.Query().Get("type")),
		Severity: domain.ThreatSeverity(r.URL.Query().Get("severity")),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}
	list, err := h.Store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indicators": list, "count": len(list)})
}

// createIndicators accepts either a single indicator object or a bulk
// payload {"indicators": [...]}.
func (h *ThreatHandler) createIndicators(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var bulk struct {
		Indicators []indicatorRequest `json:"indicators"`
	}
	if err := json.Unmarshal(raw, &bulk); err == nil && len(bulk.Indicators) > 0 {
		imported, failed := 0, 0
		for _, req := range bulk.Indicators {
			if err := storage.ValidateIndicator(req.ThreatIndicator); err != nil {
				failed++
				continue
			}
			if _, err := h.Store.Add(r.Context(), req.ThreatIndicator, req.TTLHours); err != nil {
				failed++
				continue
			}
			imported++
		}
		writeJSON(w, http.StatusOK, map[string]any{"imported": imported, "failed": failed})
		return
	}

	var req indicatorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := storage.ValidateIndicator(req.ThreatIndicator); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ind, err := h.Store.Add(r.Context(), req.ThreatIndicator, req.TTLHours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ind)
}

// HandleIndicator serves GET/PUT/DELETE for one indicator by id.
func (h *ThreatHandler) HandleIndicator(w http.ResponseWriter, r *http.Request) {
	id64, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid indicator id")
		return
	}
	id := uint(id64)

	switch r.Method {
	case http.MethodGet:
		ind, err := h.Store.Get(r.Context(), id)
		if err != nil {
			h.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ind)
	case http.MethodPut:
		var req indicatorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ind, err := h.Store.Update(r.Context(), id, req.ThreatIndicator)
		if err != nil {
			h.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ind)
	case http.MethodDelete:
		if err := h.Store.Delete(r.Context(), id); err != nil {
			h.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleStats summarizes the indicator table.
func (h *ThreatHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleCleanup deactivates expired indicators.
func (h *ThreatHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.Store.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deactivated": n})
}

func (h *ThreatHandler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrIndicatorNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
