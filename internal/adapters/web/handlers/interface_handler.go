package handlers

import (
	"net/http"

	"github.com/safelink/safelink/internal/adapters/capture"
)

// InterfaceHandler reports capture-capable interfaces and their counters.
type InterfaceHandler struct {
	Registry *capture.Registry
	// Discover is swappable for tests; defaults to pcap device discovery.
	Discover func() ([]capture.InterfaceInfo, error)
}

// NewInterfaceHandler creates an InterfaceHandler.
func NewInterfaceHandler(registry *capture.Registry) *InterfaceHandler {
	return &InterfaceHandler{Registry: registry, Discover: capture.Discover}
}

// HandleList returns discovered interfaces plus per-interface capture stats.
func (h *InterfaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	devices, err := h.Discover()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interfaces": devices,
		"stats":      h.Registry.Stats(),
	})
}
