// Package ports defines the interfaces through which the core services
// talk to adapters. The core never imports persistence schema types.
package ports

import (
	"context"

	"github.com/safelink/safelink/internal/core/domain"
)

// Alerter is the sink the detection pipeline raises alerts into.
type Alerter interface {
	Raise(ctx context.Context, module domain.Module, reason, srcIP, srcMAC string, details map[string]any) error
}

// AlertStore persists alerts and answers history queries.
type AlertStore interface {
	Alerter
	Latest(ctx context.Context, limit int) ([]domain.Alert, error)
	History(ctx context.Context, limit, offset int) ([]domain.Alert, error)
	BySource(ctx context.Context, limit int) ([]domain.AttackerSummary, error)
	Since(ctx context.Context, id uint, limit int) ([]domain.Alert, error)
	CountSince(ctx context.Context, id uint) (int64, error)
	Stats(ctx context.Context) (domain.AlertStats, error)
}

// AlertArchiver manages the alert lifecycle: archive, rotate, cleanup.
type AlertArchiver interface {
	// Archive moves the given alerts into the archive table. A nil or
	// empty id slice archives every active alert.
	Archive(ctx context.Context, ids []uint, reason domain.ArchiveReason) (int, error)
	Rotate(ctx context.Context, daysToKeep int) (int, error)
	LimitActive(ctx context.Context, maxAlerts int) (int, error)
	CleanupArchives(ctx context.Context, daysToKeep int) (int, error)
	Archived(ctx context.Context, days, limit int) ([]domain.ArchivedAlert, error)
}

// ThreatIntelStore is the local indicator table.
type ThreatIntelStore interface {
	Add(ctx context.Context, ind domain.ThreatIndicator, ttlHours int) (domain.ThreatIndicator, error)
	Get(ctx context.Context, id uint) (domain.ThreatIndicator, error)
	// Search looks up an active, non-false-positive indicator by value.
	// A match increments hit_count and last_hit in the same transaction.
	Search(ctx context.Context, value string) (domain.ThreatIndicator, bool, error)
	List(ctx context.Context, filter domain.ThreatFilter) ([]domain.ThreatIndicator, error)
	Update(ctx context.Context, id uint, ind domain.ThreatIndicator) (domain.ThreatIndicator, error)
	Delete(ctx context.Context, id uint) error
	CleanupExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (domain.ThreatStats, error)
}

// Publisher pushes events to subscribed clients. Publish must never block
// the caller; slow subscribers are the hub's problem.
type Publisher interface {
	Publish(eventType string, data any)
}
