// Package storage implements the persistence ports over GORM and SQLite:
// the alert append log, the archive lifecycle and the threat indicator table.
package storage

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/safelink/safelink/internal/core/domain"
)

// AlertModel is the GORM model for active alerts.
type AlertModel struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index;not null"`
	Module    string    `gorm:"index"`
	Reason    string
	SrcIP     string `gorm:"index"`
	SrcMAC    string `gorm:"index"`
	Details   string // JSON encoded detail bag
}

// ArchivedAlertModel mirrors AlertModel with archive bookkeeping.
type ArchivedAlertModel struct {
	ID            uint `gorm:"primaryKey"`
	OriginalID    uint `gorm:"index"`
	Timestamp     time.Time
	Module        string
	Reason        string
	SrcIP         string
	SrcMAC        string
	Details       string
	ArchivedAt    time.Time `gorm:"index"`
	ArchiveReason string
}

// ThreatIndicatorModel is the GORM model for threat intel indicators.
// (IndicatorType, IndicatorValue) is unique.
type ThreatIndicatorModel struct {
	ID             uint   `gorm:"primaryKey"`
	IndicatorType  string `gorm:"uniqueIndex:idx_type_value"`
	IndicatorValue string `gorm:"uniqueIndex:idx_type_value"`
	Severity       string
	Confidence     float64
	Source         string
	Description    string
	Tags           string // CSV encoded
	FirstSeen      time.Time
	LastSeen       time.Time
	ExpiresAt      *time.Time
	IsActive       bool `gorm:"index"`
	FalsePositive  bool
	HitCount       int
	LastHit        *time.Time
}

// Open initializes the database and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&AlertModel{}, &ArchivedAlertModel{}, &ThreatIndicatorModel{}); err != nil {
		return nil, err
	}

	db.Exec("CREATE INDEX IF NOT EXISTS idx_alerts_src ON alert_models(src_ip, src_mac)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_threats_value ON threat_indicator_models(indicator_value)")

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func alertToDomain(m AlertModel) domain.Alert {
	a := domain.Alert{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Module:    domain.Module(m.Module),
		Reason:    m.Reason,
		SrcIP:     m.SrcIP,
		SrcMAC:    m.SrcMAC,
	}
	if m.Details != "" {
		var details map[string]any
		if err := json.Unmarshal([]byte(m.Details), &details); err == nil {
			a.Details = details
		}
	}
	return a
}

func archivedToDomain(m ArchivedAlertModel) domain.ArchivedAlert {
	return domain.ArchivedAlert{
		ID:            m.ID,
		OriginalID:    m.OriginalID,
		Timestamp:     m.Timestamp,
		Module:        domain.Module(m.Module),
		Reason:        m.Reason,
		SrcIP:         m.SrcIP,
		SrcMAC:        m.SrcMAC,
		ArchivedAt:    m.ArchivedAt,
		ArchiveReason: domain.ArchiveReason(m.ArchiveReason),
	}
}

func threatToDomain(m ThreatIndicatorModel) domain.ThreatIndicator {
	t := domain.ThreatIndicator{
		ID:            m.ID,
		Type:          domain.ThreatType(m.IndicatorType),
		Value:         m.IndicatorValue,
		Severity:      domain.ThreatSeverity(m.Severity),
		Confidence:    m.Confidence,
		Source:        m.Source,
		Description:   m.Description,
		FirstSeen:     m.FirstSeen,
		LastSeen:      m.LastSeen,
		ExpiresAt:     m.ExpiresAt,
		Active:        m.IsActive,
		FalsePositive: m.FalsePositive,
		HitCount:      m.HitCount,
		LastHit:       m.LastHit,
	}
	if m.Tags != "" {
		t.Tags = strings.Split(m.Tags, ",")
	}
	return t
}

func threatToModel(t domain.ThreatIndicator) ThreatIndicatorModel {
	return ThreatIndicatorModel{
		ID:             t.ID,
		IndicatorType:  string(t.Type),
		IndicatorValue: t.Value,
		Severity:       string(t.Severity),
		Confidence:     t.Confidence,
		Source:         t.Source,
		Description:    t.Description,
		Tags:           strings.Join(t.Tags, ","),
		FirstSeen:      t.FirstSeen,
		LastSeen:       t.LastSeen,
		ExpiresAt:      t.ExpiresAt,
		IsActive:       t.Active,
		FalsePositive:  t.FalsePositive,
		HitCount:       t.HitCount,
		LastHit:        t.LastHit,
	}
}
