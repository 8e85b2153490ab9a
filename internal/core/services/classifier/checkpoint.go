package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// ErrCheckpointMismatch is returned when a checkpoint's feature order does
// not match the expected schema.
var ErrCheckpointMismatch = errors.New("checkpoint feature set mismatch")

// checkpointVersion tags the on-disk format.
const checkpointVersion = "1"

// Scaler holds per-feature standardization statistics.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Transform standardizes a batch into a fresh copy. Features with zero
// spread pass through unscaled.
func (s *Scaler) Transform(x [][]float64) [][]float64 {
	if s == nil || len(s.Mean) == 0 {
		return x
	}
	out := make([][]float64, len(x))
	for r, row := range x {
		o := make([]float64, len(row))
		for j, v := range row {
			std := s.Std[j]
			if std == 0 {
				std = 1
			}
			o[j] = (v - s.Mean[j]) / std
		}
		out[r] = o
	}
	return out
}

// FitScaler computes mean and standard deviation per feature column.
func FitScaler(x [][]float64) *Scaler {
	if len(x) == 0 {
		return &Scaler{}
	}
	dim := len(x[0])
	s := &Scaler{Mean: make([]float64, dim), Std: make([]float64, dim)}
	n := float64(len(x))
	for _, row := range x {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range x {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
	}
	return s
}

// Checkpoint is the persisted classifier state.
type Checkpoint struct {
	Version      string   `json:"version"`
	FeatureNames []string `json:"feature_names"`
	HiddenDims   []int    `json:"hidden_dims"`
	Dropout      float64  `json:"dropout"`
	Scaler       *Scaler  `json:"scaler"`
	Net          *Net     `json:"net"`
}

// SaveCheckpoint writes the checkpoint atomically: temp file in the target
// directory, fsync, rename.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
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

// LoadCheckpoint reads a checkpoint from disk. When expectedFeatures is
// non-empty, a differing feature order fails with ErrCheckpointMismatch.
func LoadCheckpoint(path string, expectedFeatures []string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	if cp.Net == nil {
		return nil, fmt.Errorf("checkpoint %s has no model state", path)
	}
	cp.Net.reseed(1)

	if len(expectedFeatures) > 0 {
		if len(expectedFeatures) != len(cp.FeatureNames) {
			return nil, fmt.Errorf("%w: %d features on disk, %d expected",
				ErrCheckpointMismatch, len(cp.FeatureNames), len(expectedFeatures))
		}
		for i, name := range expectedFeatures {
			if cp.FeatureNames[i] != name {
				return nil, fmt.Errorf("%w: position %d is %q, expected %q",
					ErrCheckpointMismatch, i, cp.FeatureNames[i], name)
			}
		}
	}
	return &cp, nil
}

// CopyFile duplicates a checkpoint file, used for pre-training backups.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
