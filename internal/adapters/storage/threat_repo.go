package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
	"github.com/safelink/safelink/internal/telemetry"
)

// ErrIndicatorNotFound is returned for lookups of missing indicators.
var ErrIndicatorNotFound = errors.New("threat indicator not found")

// ThreatRepo is the local threat intelligence table.
type ThreatRepo struct {
	db *gorm.DB
}

// NewThreatRepo builds the repository.
func NewThreatRepo(db *gorm.DB) *ThreatRepo {
	return &ThreatRepo{db: db}
}

// Add upserts an indicator on its (type, value) key. A positive ttlHours
// sets the expiry; an existing row refreshes last_seen and takes the higher
// confidence.
func (r *ThreatRepo) Add(ctx context.Context, ind domain.ThreatIndicator, ttlHours int) (domain.ThreatIndicator, error) {
	now := time.Now()
	if ind.FirstSeen.IsZero() {
		ind.FirstSeen = now
	}
	ind.LastSeen = now
	ind.Active = true
	if ttlHours > 0 {
		exp := now.Add(time.Duration(ttlHours) * time.Hour)
		ind.ExpiresAt = &exp
	}

	var out ThreatIndicatorModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ThreatIndicatorModel
		err := tx.Where("indicator_type = ? AND indicator_value = ?", string(ind.Type), ind.Value).
			First(&existing).Error
		switch {
		case err == nil:
			existing.LastSeen = now
			existing.IsActive = true
			existing.ExpiresAt = ind.ExpiresAt
			if ind.Confidence > existing.Confidence {
				existing.Confidence = ind.Confidence
			}
			if ind.Severity != "" {
				existing.Severity = string(ind.Severity)
			}
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			out = existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			model := threatToModel(ind)
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			out = model
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return domain.ThreatIndicator{}, err
	}
	return threatToDomain(out), nil
}

// Get returns an indicator by id.
func (r *ThreatRepo) Get(ctx context.Context, id uint) (domain.ThreatIndicator, error) {
	var model ThreatIndicatorModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ThreatIndicator{}, ErrIndicatorNotFound
	}
	if err != nil {
		return domain.ThreatIndicator{}, err
	}
	return threatToDomain(model), nil
}

// Search looks up an active, non-false-positive, unexpired indicator by
// value. A match increments hit_count and last_hit inside the same
// transaction as the match test.
func (r *ThreatRepo) Search(ctx context.Context, value string) (domain.ThreatIndicator, bool, error) {
	var model ThreatIndicatorModel
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("indicator_value = ? AND is_active = ? AND false_positive = ?", value, true, false).
			Where("expires_at IS NULL OR expires_at > ?", time.Now()).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		now := time.Now()
		model.HitCount++
		model.LastHit = &now
		return tx.Save(&model).Error
	})
	if err != nil || !found {
		return domain.ThreatIndicator{}, false, err
	}
	telemetry.ThreatHits.Inc()
	return threatToDomain(model), true, nil
}

// List returns indicators matching the filter, newest first.
func (r *ThreatRepo) List(ctx context.Context, filter domain.ThreatFilter) ([]domain.ThreatIndicator, error) {
	query := r.db.WithContext(ctx).Model(&ThreatIndicatorModel{})
	if filter.Type != "" {
		query = query.Where("indicator_type = ?", string(filter.Type))
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", string(filter.Severity))
	}
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var models []ThreatIndicatorModel
	err := query.Order("last_seen DESC").Limit(limit).Offset(filter.Offset).Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ThreatIndicator, len(models))
	for i, m := range models {
		out[i] = threatToDomain(m)
	}
	return out, nil
}

// Update overwrites the mutable fields of an indicator.
func (r *ThreatRepo) Update(ctx context.Context, id uint, ind domain.ThreatIndicator) (domain.ThreatIndicator, error) {
	var model ThreatIndicatorModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrIndicatorNotFound
			}
			return err
		}
		updated := threatToModel(ind)
		updated.ID = model.ID
		updated.FirstSeen = model.FirstSeen
		updated.HitCount = model.HitCount
		updated.LastHit = model.LastHit
		if updated.LastSeen.IsZero() {
			updated.LastSeen = model.LastSeen
		}
		model = updated
		return tx.Save(&model).Error
	})
	if err != nil {
		return domain.ThreatIndicator{}, err
	}
	return threatToDomain(model), nil
}

// Delete removes an indicator.
func (r *ThreatRepo) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&ThreatIndicatorModel{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIndicatorNotFound
	}
	return nil
}

// CleanupExpired deactivates indicators past their expiry. Returns the
// number of rows touched.
func (r *ThreatRepo) CleanupExpired(ctx context.Context) (int, error) {
	res := r.db.WithContext(ctx).Model(&ThreatIndicatorModel{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, time.Now()).
		Update("is_active", false)
	return int(res.RowsAffected), res.Error
}

// Stats summarizes the indicator table.
func (r *ThreatRepo) Stats(ctx context.Context) (domain.ThreatStats, error) {
	db := r.db.WithContext(ctx)
	stats := domain.ThreatStats{
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}

	var total, active int64
	if err := db.Model(&ThreatIndicatorModel{}).Count(&total).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&ThreatIndicatorModel{}).Where("is_active = ?", true).Count(&active).Error; err != nil {
		return stats, err
	}
	stats.Total = int(total)
	stats.Active = int(active)

	type bucket struct {
		Key string
		N   int
	}
	var byType []bucket
	if err := db.Model(&ThreatIndicatorModel{}).
		Select("indicator_type as key, COUNT(*) as n").Group("indicator_type").Scan(&byType).Error; err != nil {
		return stats, err
	}
	for _, b := range byType {
		stats.ByType[b.Key] = b.N
	}

	var bySev []bucket
	if err := db.Model(&ThreatIndicatorModel{}).
		Select("severity as key, COUNT(*) as n").Group("severity").Scan(&bySev).Error; err != nil {
		return stats, err
	}
	for _, b := range bySev {
		stats.BySeverity[b.Key] = b.N
	}
	return stats, nil
}

// ValidateIndicator rejects obviously malformed indicator values.
func ValidateIndicator(ind domain.ThreatIndicator) error {
	if ind.Value == "" {
		return fmt.Errorf("indicator value is required")
	}
	switch ind.Type {
	case domain.ThreatIP, domain.ThreatMAC, domain.ThreatDomain, domain.ThreatHash, domain.ThreatURL:
		return nil
	default:
		return fmt.Errorf("unknown indicator type %q", ind.Type)
	}
}

var _ ports.ThreatIntelStore = (*ThreatRepo)(nil)
