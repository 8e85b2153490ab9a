package domain

import (
	"time"
)

// ThreatType classifies a threat indicator value.
type ThreatType string

const (
	ThreatIP     ThreatType = "ip"
	ThreatMAC    ThreatType = "mac"
	ThreatDomain ThreatType = "domain"
	ThreatHash   ThreatType = "hash"
	ThreatURL    ThreatType = "url"
)

// ThreatSeverity levels, highest first.
type ThreatSeverity string

const (
	SeverityCritical ThreatSeverity = "critical"
	SeverityHigh     ThreatSeverity = "high"
	SeverityMedium   ThreatSeverity = "medium"
	SeverityLow      ThreatSeverity = "low"
	SeverityInfo     ThreatSeverity = "info"
)

// ThreatIndicator is a locally stored indicator of compromise.
// (Type, Value) is unique across the table.
type ThreatIndicator struct {
	ID            uint           `json:"id"`
	Type          ThreatType     `json:"indicator_type"`
	Value         string         `json:"indicator_value"`
	Severity      ThreatSeverity `json:"severity"`
	Confidence    float64        `json:"confidence"`
	Source        string         `json:"source,omitempty"`
	Description   string         `json:"description,omitempty"`
	Tags          []string       `json:"tags"`
	FirstSeen     time.Time      `json:"first_seen"`
	LastSeen      time.Time      `json:"last_seen"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	Active        bool           `json:"is_active"`
	FalsePositive bool           `json:"false_positive"`
	HitCount      int            `json:"hit_count"`
	LastHit       *time.Time     `json:"last_hit,omitempty"`
}

// Expired reports whether the indicator's TTL has lapsed.
func (t ThreatIndicator) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// ThreatFilter narrows indicator listings.
type ThreatFilter struct {
	Type     ThreatType
	Severity ThreatSeverity
	Active   *bool
	Limit    int
	Offset   int
}

// ThreatStats summarizes the indicator table.
type ThreatStats struct {
	Total      int            `json:"total_indicators"`
	Active     int            `json:"active_indicators"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
}
