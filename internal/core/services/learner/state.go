package learner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
)

const (
	maxHistoryRecords = 100
	maxVersionRecords = 20
)

// State is the learner's durable bookkeeping. The watermark
// LastProcessedAlertID only ever advances on a committed cycle.
type State struct {
	LastProcessedAlertID uint                  `json:"last_processed_alert_id"`
	LastTrainingTime     *time.Time            `json:"last_training_time,omitempty"`
	TotalCycles          int                   `json:"total_training_cycles"`
	History              []domain.CycleRecord  `json:"training_history"`
	Versions             []domain.ModelVersion `json:"model_versions"`
}

func (s *State) appendCycle(rec domain.CycleRecord) {
	s.TotalCycles++
	s.History = append(s.History, rec)
	if len(s.History) > maxHistoryRecords {
		s.History = s.History[len(s.History)-maxHistoryRecords:]
	}
}

func (s *State) appendVersion(v domain.ModelVersion) {
	s.Versions = append(s.Versions, v)
	if len(s.Versions) > maxVersionRecords {
		s.Versions = s.Versions[len(s.Versions)-maxVersionRecords:]
	}
}

// LoadState reads the state file. A missing file yields a zero state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading learner state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing learner state %s: %w", path, err)
	}
	return &s, nil
}

// SaveState writes the state atomically: temp file, sync, rename.
func SaveState(path string, s *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
