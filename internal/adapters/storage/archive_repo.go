package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
)

// ArchiveRepo manages the alert lifecycle: moving rows into the archive
// table and purging old archives. Every move happens in one transaction so
// an alert is never duplicated or lost mid-copy.
type ArchiveRepo struct {
	db *gorm.DB
}

// NewArchiveRepo builds the repository.
func NewArchiveRepo(db *gorm.DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

// Archive moves the given alerts to the archive table. An empty id slice
// archives every active alert. Returns the number of rows moved.
func (r *ArchiveRepo) Archive(ctx context.Context, ids []uint, reason domain.ArchiveReason) (int, error) {
	moved := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&AlertModel{})
		if len(ids) > 0 {
			query = query.Where("id IN ?", ids)
		}
		var alerts []AlertModel
		if err := query.Find(&alerts).Error; err != nil {
			return err
		}
		if len(alerts) == 0 {
			return nil
		}

		now := time.Now()
		rows := make([]ArchivedAlertModel, len(alerts))
		deleteIDs := make([]uint, len(alerts))
		for i, a := range alerts {
			rows[i] = ArchivedAlertModel{
				OriginalID:    a.ID,
				Timestamp:     a.Timestamp,
				Module:        a.Module,
				Reason:        a.Reason,
				SrcIP:         a.SrcIP,
				SrcMAC:        a.SrcMAC,
				Details:       a.Details,
				ArchivedAt:    now,
				ArchiveReason: string(reason),
			}
			deleteIDs[i] = a.ID
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return err
		}
		if err := tx.Delete(&AlertModel{}, deleteIDs).Error; err != nil {
			return err
		}
		moved = len(alerts)
		return nil
	})
	return moved, err
}

// Rotate archives active alerts older than the cutoff.
func (r *ArchiveRepo) Rotate(ctx context.Context, daysToKeep int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	var ids []uint
	err := r.db.WithContext(ctx).Model(&AlertModel{}).
		Where("timestamp < ?", cutoff).Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return r.Archive(ctx, ids, domain.ArchiveRotation)
}

// LimitActive archives the oldest alerts until at most maxAlerts remain.
func (r *ArchiveRepo) LimitActive(ctx context.Context, maxAlerts int) (int, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&AlertModel{}).Count(&total).Error; err != nil {
		return 0, err
	}
	excess := int(total) - maxAlerts
	if excess <= 0 {
		return 0, nil
	}

	var ids []uint
	err := r.db.WithContext(ctx).Model(&AlertModel{}).
		Order("id ASC").Limit(excess).Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	return r.Archive(ctx, ids, domain.ArchiveSizeLimit)
}

// CleanupArchives hard-deletes archived rows older than the cutoff.
func (r *ArchiveRepo) CleanupArchives(ctx context.Context, daysToKeep int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	res := r.db.WithContext(ctx).
		Where("archived_at < ?", cutoff).Delete(&ArchivedAlertModel{})
	return int(res.RowsAffected), res.Error
}

// Archived lists archived alerts from the last N days, newest first.
func (r *ArchiveRepo) Archived(ctx context.Context, days, limit int) ([]domain.ArchivedAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Order("archived_at DESC").Limit(limit)
	if days > 0 {
		query = query.Where("archived_at >= ?", time.Now().AddDate(0, 0, -days))
	}
	var models []ArchivedAlertModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ArchivedAlert, len(models))
	for i, m := range models {
		out[i] = archivedToDomain(m)
	}
	return out, nil
}

var _ ports.AlertArchiver = (*ArchiveRepo)(nil)
