package handlers

import (
	"encoding/csv"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
)

// AlertHandler serves alert queries, CSV export and lifecycle operations.
type AlertHandler struct {
	Store    ports.AlertStore
	Archiver ports.AlertArchiver
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(store ports.AlertStore, archiver ports.AlertArchiver) *AlertHandler {
	return &AlertHandler{Store: store, Archiver: archiver}
}

// HandleLatest returns the newest alerts, newest first.
func (h *AlertHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	alerts, err := h.Store.Latest(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// HandleHistory returns a paginated alert listing.
func (h *AlertHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	alerts, err := h.Store.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts), "offset": offset})
}

// HandleStats returns aggregated alert counters.
func (h *AlertHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleAttackers groups alerts by source address, most active first.
func (h *AlertHandler) HandleAttackers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	attackers, err := h.Store.BySource(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attackers": attackers, "count": len(attackers)})
}

// HandleArchived lists archived alerts, optionally restricted to the last
// N days.
func (h *AlertHandler) HandleArchived(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 0)
	limit := queryInt(r, "limit", 100)
	archived, err := h.Archiver.Archived(r.Context(), days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": archived, "count": len(archived)})
}

// HandleDownload streams the active alerts as CSV. With
// ?archive_after_download=true the exported alerts are archived once the
// export succeeds.
func (h *AlertHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Store.Since(r.Context(), 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		`attachment; filename="alerts_`+time.Now().Format("20060102_150405")+`.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "timestamp", "module", "reason", "src_ip", "src_mac"})
	for _, a := range alerts {
		cw.Write([]string{
			strconv.FormatUint(uint64(a.ID), 10),
			a.Timestamp.Format(time.RFC3339),
			string(a.Module),
			a.Reason,
			a.SrcIP,
			a.SrcMAC,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Println("CSV export error:", err)
		return
	}

	if r.URL.Query().Get("archive_after_download") == "true" && len(alerts) > 0 {
		ids := make([]uint, len(alerts))
		for i, a := range alerts {
			ids[i] = a.ID
		}
		if n, err := h.Archiver.Archive(r.Context(), ids, domain.ArchiveCSVExport); err != nil {
			log.Println("Archive after download failed:", err)
		} else {
			log.Printf("Archived %d alerts after CSV export", n)
		}
	}
}

// HandleArchive archives the named alerts, or every active alert when no
// ids are given.
func (h *AlertHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []uint `json:"ids"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	n, err := h.Archiver.Archive(r.Context(), req.IDs, domain.ArchiveManual)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": n})
}

// HandleRotate archives active alerts older than the given number of days.
func (h *AlertHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Days int `json:"days"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Days <= 0 {
		req.Days = 30
	}
	n, err := h.Archiver.Rotate(r.Context(), req.Days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotated": n, "days": req.Days})
}

// HandleCleanup hard-deletes archived alerts past the retention window.
func (h *AlertHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 365)
	n, err := h.Archiver.CleanupArchives(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n, "days": days})
}
