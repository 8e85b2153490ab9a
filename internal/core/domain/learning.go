package domain

import (
	"time"
)

// CycleOutcome is the result of one continuous-learning cycle.
type CycleOutcome string

const (
	OutcomeCommitted CycleOutcome = "committed"
	OutcomeRejected  CycleOutcome = "rejected"
	OutcomeSkipped   CycleOutcome = "skipped"
)

// TrainingMetrics is returned by an incremental classifier update.
type TrainingMetrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	Samples  int     `json:"samples"`
}

// CycleRecord captures the metrics of one training cycle.
type CycleRecord struct {
	Timestamp    time.Time       `json:"timestamp"`
	Outcome      CycleOutcome    `json:"outcome"`
	TrainingTime float64         `json:"training_time"`
	Samples      int             `json:"num_samples"`
	Metrics      TrainingMetrics `json:"metrics"`
}

// ModelVersion records one committed checkpoint.
type ModelVersion struct {
	Timestamp time.Time       `json:"timestamp"`
	Path      string          `json:"model_path"`
	Metrics   TrainingMetrics `json:"metrics"`
}

// LearnerStatus is the learner's public statistics snapshot.
type LearnerStatus struct {
	Enabled          bool          `json:"enabled"`
	IsTraining       bool          `json:"is_training"`
	LastTrainingTime *time.Time    `json:"last_training_time,omitempty"`
	LastProcessedID  uint          `json:"last_processed_alert_id"`
	TotalCycles      int           `json:"total_training_cycles"`
	ModelVersions    int           `json:"model_versions"`
	RecentHistory    []CycleRecord `json:"recent_history"`
}
