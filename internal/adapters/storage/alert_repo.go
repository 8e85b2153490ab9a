package storage

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
	"github.com/safelink/safelink/internal/telemetry"
)

// AlertRepo is the persistent alert append log. After a committed insert it
// pushes a new_alert event to the hub; a nil publisher disables fan-out.
type AlertRepo struct {
	db  *gorm.DB
	hub ports.Publisher
}

// NewAlertRepo builds the repository.
func NewAlertRepo(db *gorm.DB, hub ports.Publisher) *AlertRepo {
	return &AlertRepo{db: db, hub: hub}
}

// Raise inserts one alert row. A DB error logs and returns; the pipeline
// continues. The broadcast happens only after the commit.
func (r *AlertRepo) Raise(ctx context.Context, module domain.Module, reason, srcIP, srcMAC string, details map[string]any) error {
	model := AlertModel{
		Timestamp: time.Now(),
		Module:    string(module),
		Reason:    reason,
		SrcIP:     srcIP,
		SrcMAC:    srcMAC,
	}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			model.Details = string(data)
		}
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		log.Printf("Failed to persist alert (%s): %v", module, err)
		return err
	}

	telemetry.AlertsRaised.WithLabelValues(string(module)).Inc()

	if r.hub != nil {
		r.hub.Publish("new_alert", alertToDomain(model))
	}
	return nil
}

// Latest returns the most recent alerts, newest first.
func (r *AlertRepo) Latest(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []AlertModel
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toAlerts(models), nil
}

// History pages through alerts, newest first.
func (r *AlertRepo) History(ctx context.Context, limit, offset int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []AlertModel
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toAlerts(models), nil
}

// BySource groups alerts by (src_ip, src_mac), most alerts first.
func (r *AlertRepo) BySource(ctx context.Context, limit int) ([]domain.AttackerSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []domain.AttackerSummary
	err := r.db.WithContext(ctx).Model(&AlertModel{}).
		Select("src_ip, src_mac, COUNT(*) as alert_count, MIN(timestamp) as first_seen, MAX(timestamp) as last_seen").
		Where("src_ip != '' OR src_mac != ''").
		Group("src_ip, src_mac").
		Order("alert_count DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// Since returns alerts with id greater than the watermark, in id order.
func (r *AlertRepo) Since(ctx context.Context, id uint, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 10000
	}
	var models []AlertModel
	err := r.db.WithContext(ctx).Where("id > ?", id).Order("id ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toAlerts(models), nil
}

// CountSince counts alerts past the watermark.
func (r *AlertRepo) CountSince(ctx context.Context, id uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&AlertModel{}).Where("id > ?", id).Count(&n).Error
	return n, err
}

// Stats aggregates the active and archived tables.
func (r *AlertRepo) Stats(ctx context.Context) (domain.AlertStats, error) {
	db := r.db.WithContext(ctx)
	var stats domain.AlertStats

	var active, archived int64
	if err := db.Model(&AlertModel{}).Count(&active).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&ArchivedAlertModel{}).Count(&archived).Error; err != nil {
		return stats, err
	}
	stats.ActiveAlerts = int(active)
	stats.ArchivedAlerts = int(archived)
	stats.TotalAlerts = int(active + archived)

	type moduleCount struct {
		Module string
		N      int
	}
	var counts []moduleCount
	if err := db.Model(&AlertModel{}).
		Select("module, COUNT(*) as n").Group("module").Scan(&counts).Error; err != nil {
		return stats, err
	}
	stats.ByModule = make(map[string]int, len(counts))
	for _, c := range counts {
		stats.ByModule[c.Module] = c.N
	}

	if active > 0 {
		var oldest, newest AlertModel
		if err := db.Order("timestamp ASC").First(&oldest).Error; err == nil {
			stats.OldestActive = &oldest.Timestamp
		}
		if err := db.Order("timestamp DESC").First(&newest).Error; err == nil {
			stats.NewestActive = &newest.Timestamp
		}
	}
	return stats, nil
}

func toAlerts(models []AlertModel) []domain.Alert {
	out := make([]domain.Alert, len(models))
	for i, m := range models {
		out[i] = alertToDomain(m)
	}
	return out
}

var _ ports.AlertStore = (*AlertRepo)(nil)
