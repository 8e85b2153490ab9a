package domain

import (
	"time"
)

// Module identifies which detection stage raised an alert.
type Module string

const (
	ModuleDFA           Module = "DFA"
	ModuleARPAnomaly    Module = "ARP_ANOMALY"
	ModuleVendorAnomaly Module = "VENDOR_ANOMALY"
	ModuleANN           Module = "ANN"
)

// ArchiveReason records why an alert was moved to the archive table.
type ArchiveReason string

const (
	ArchiveManual    ArchiveReason = "manual"
	ArchiveCSVExport ArchiveReason = "csv_export"
	ArchiveRotation  ArchiveReason = "auto_rotation"
	ArchiveSizeLimit ArchiveReason = "size_limit"
)

// Alert is a durable detection event. Alerts are append-only: once emitted
// they are never mutated, only copied into ArchivedAlert.
type Alert struct {
	ID        uint           `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Module    Module         `json:"module"`
	Reason    string         `json:"reason"`
	SrcIP     string         `json:"src_ip,omitempty"`
	SrcMAC    string         `json:"src_mac,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Confidence returns the structured classifier confidence carried in the
// details bag, if present. The learner labels from this value and never
// parses it out of the reason text.
func (a Alert) Confidence() (float64, bool) {
	if a.Details == nil {
		return 0, false
	}
	switch v := a.Details["confidence"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// ArchivedAlert mirrors Alert with archive bookkeeping.
type ArchivedAlert struct {
	ID            uint          `json:"id"`
	OriginalID    uint          `json:"original_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Module        Module        `json:"module"`
	Reason        string        `json:"reason"`
	SrcIP         string        `json:"src_ip,omitempty"`
	SrcMAC        string        `json:"src_mac,omitempty"`
	ArchivedAt    time.Time     `json:"archived_at"`
	ArchiveReason ArchiveReason `json:"archive_reason"`
}

// AlertStats is an aggregated snapshot of the alert store.
type AlertStats struct {
	ActiveAlerts   int            `json:"active_alerts"`
	ArchivedAlerts int            `json:"archived_alerts"`
	TotalAlerts    int            `json:"total_alerts"`
	ByModule       map[string]int `json:"active_by_module"`
	OldestActive   *time.Time     `json:"oldest_active,omitempty"`
	NewestActive   *time.Time     `json:"newest_active,omitempty"`
}

// AttackerSummary groups alerts by their source address.
type AttackerSummary struct {
	SrcIP      string    `json:"src_ip"`
	SrcMAC     string    `json:"src_mac"`
	AlertCount int       `json:"alert_count"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}
