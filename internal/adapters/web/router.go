// Package web assembles the HTTP server: routing, handlers and the
// websocket live feed.
package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/safelink/safelink/internal/adapters/web/handlers"
	"github.com/safelink/safelink/internal/adapters/web/websocket"
)

// Handlers carries the endpoint implementations the router mounts.
type Handlers struct {
	Sniffer   *handlers.SnifferHandler
	Alerts    *handlers.AlertHandler
	Learning  *handlers.LearningHandler
	Threats   *handlers.ThreatHandler
	Interface *handlers.InterfaceHandler
	LiveFeed  *handlers.LiveFeedHandler
	WS        *websocket.Handler
}

// SetupRoutes mounts every endpoint on a gorilla router.
func SetupRoutes(h Handlers) http.Handler {
	r := mux.NewRouter()

	// Capture lifecycle
	r.HandleFunc("/sniffer/start", h.Sniffer.HandleStart).Methods(http.MethodPost)
	r.HandleFunc("/sniffer/stop", h.Sniffer.HandleStop).Methods(http.MethodPost)
	r.HandleFunc("/sniffer/status", h.Sniffer.HandleStatus).Methods(http.MethodGet)

	// Alerts
	r.HandleFunc("/alerts/latest", h.Alerts.HandleLatest).Methods(http.MethodGet)
	r.HandleFunc("/alerts/history", h.Alerts.HandleHistory).Methods(http.MethodGet)
	r.HandleFunc("/alerts/stats", h.Alerts.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/alerts/attackers", h.Alerts.HandleAttackers).Methods(http.MethodGet)
	r.HandleFunc("/alerts/archived", h.Alerts.HandleArchived).Methods(http.MethodGet)
	r.HandleFunc("/alerts/download", h.Alerts.HandleDownload).Methods(http.MethodGet)
	r.HandleFunc("/alerts/archive", h.Alerts.HandleArchive).Methods(http.MethodPost)
	r.HandleFunc("/alerts/rotate", h.Alerts.HandleRotate).Methods(http.MethodPost)
	r.HandleFunc("/alerts/cleanup", h.Alerts.HandleCleanup).Methods(http.MethodDelete)

	// Continuous learning
	r.HandleFunc("/learning/status", h.Learning.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/learning/train-now", h.Learning.HandleTrainNow).Methods(http.MethodPost)
	r.HandleFunc("/learning/start", h.Learning.HandleStart).Methods(http.MethodPost)
	r.HandleFunc("/learning/stop", h.Learning.HandleStop).Methods(http.MethodPost)

	// Threat intelligence
	r.HandleFunc("/threat_intel/indicators", h.Threats.HandleIndicators).
		Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/threat_intel/indicators/{id:[0-9]+}", h.Threats.HandleIndicator).
		Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/threat_intel/stats", h.Threats.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/threat_intel/cleanup", h.Threats.HandleCleanup).Methods(http.MethodPost)

	// Interfaces and live data
	r.HandleFunc("/interfaces", h.Interface.HandleList).Methods(http.MethodGet)
	r.HandleFunc("/live-feed", h.LiveFeed.HandleFeed).Methods(http.MethodGet)
	r.Handle("/ws/updates", h.WS)

	// Metrics
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}
