// Package learner closes the feedback loop: it periodically harvests
// recent alerts, labels them from deterministic detections and confident
// classifier verdicts, retrains the model incrementally and keeps the
// new weights only when validation holds up.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
	"github.com/safelink/safelink/internal/core/services/classifier"
	"github.com/safelink/safelink/internal/core/services/feature"
	"github.com/safelink/safelink/internal/telemetry"
)

// ErrTrainingBusy is returned when a cycle is requested while one runs.
var ErrTrainingBusy = errors.New("training already in progress")

// Auto-labeling bounds for classifier-raised alerts. Verdicts between the
// two are too ambiguous to learn from.
const (
	spoofConfidence  = 0.95
	benignConfidence = 0.30
)

const tickInterval = time.Minute

// Options tune the learning loop. Zero values take the defaults.
type Options struct {
	Interval     time.Duration
	MinSamples   int
	BatchSize    int
	LearningRate float64
	MaxHistory   int
	MinAccuracy  float64
	MaxLoss      float64
	BackupDir    string
	StateFile    string
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Hour
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 1e-4
	}
	if o.MaxHistory <= 0 {
		o.MaxHistory = 10000
	}
	if o.MinAccuracy <= 0 {
		o.MinAccuracy = 70
	}
	if o.MaxLoss <= 0 {
		o.MaxLoss = 2.0
	}
	return o
}

// Learner runs the continuous-learning loop.
type Learner struct {
	store     ports.AlertStore
	model     *classifier.Classifier
	extractor *feature.Extractor
	opts      Options

	training atomic.Bool
	enabled  atomic.Bool

	mu    sync.Mutex
	state *State

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a learner, restoring its state file if present.
func New(store ports.AlertStore, model *classifier.Classifier, extractor *feature.Extractor, opts Options) (*Learner, error) {
	opts = opts.withDefaults()
	state, err := LoadState(opts.StateFile)
	if err != nil {
		return nil, err
	}
	return &Learner{
		store:     store,
		model:     model,
		extractor: extractor,
		opts:      opts,
		state:     state,
	}, nil
}

// Start launches the background loop. Idempotent while running.
func (l *Learner) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.enabled.Store(true)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.runCycle(ctx, false); err != nil && !errors.Is(err, ErrTrainingBusy) {
					log.Println("Learning cycle error:", err)
				}
			}
		}
	}()
	log.Printf("Continuous learning started: interval=%s min_samples=%d", l.opts.Interval, l.opts.MinSamples)
}

// Stop halts the background loop and waits for an in-flight cycle.
func (l *Learner) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.cancel = nil
	l.enabled.Store(false)
	l.wg.Wait()
}

// TrainNow forces a cycle, bypassing the interval and sample gates.
func (l *Learner) TrainNow(ctx context.Context) (domain.CycleRecord, error) {
	return l.runCycle(ctx, true)
}

// Status reports the learner's statistics.
func (l *Learner) Status() domain.LearnerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.state.History
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	return domain.LearnerStatus{
		Enabled:          l.enabled.Load(),
		IsTraining:       l.training.Load(),
		LastTrainingTime: l.state.LastTrainingTime,
		LastProcessedID:  l.state.LastProcessedAlertID,
		TotalCycles:      l.state.TotalCycles,
		ModelVersions:    len(l.state.Versions),
		RecentHistory:    append([]domain.CycleRecord(nil), recent...),
	}
}

// runCycle executes one gate-collect-label-train-validate pass.
func (l *Learner) runCycle(ctx context.Context, forced bool) (domain.CycleRecord, error) {
	if !l.training.CompareAndSwap(false, true) {
		return domain.CycleRecord{}, ErrTrainingBusy
	}
	defer l.training.Store(false)

	l.mu.Lock()
	watermark := l.state.LastProcessedAlertID
	lastRun := l.state.LastTrainingTime
	l.mu.Unlock()

	if !forced {
		if lastRun != nil && time.Since(*lastRun) < l.opts.Interval {
			return l.skip("interval not elapsed")
		}
		n, err := l.store.CountSince(ctx, watermark)
		if err != nil {
			return domain.CycleRecord{}, err
		}
		if n < int64(l.opts.MinSamples) {
			return l.skip(fmt.Sprintf("%d new alerts, need %d", n, l.opts.MinSamples))
		}
	}

	alerts, err := l.store.Since(ctx, watermark, l.opts.MaxHistory)
	if err != nil {
		return domain.CycleRecord{}, err
	}
	x, y := l.labelAlerts(alerts)
	if len(x) == 0 {
		return l.skip("no labelable alerts")
	}

	started := time.Now()
	backup, err := l.backupCheckpoint()
	if err != nil {
		return domain.CycleRecord{}, err
	}

	metrics, err := l.model.IncrementalUpdate(x, y, classifier.UpdateOptions{
		LearningRate: l.opts.LearningRate,
		BatchSize:    l.opts.BatchSize,
	})
	if err != nil {
		return domain.CycleRecord{}, err
	}

	rec := domain.CycleRecord{
		Timestamp:    time.Now(),
		TrainingTime: time.Since(started).Seconds(),
		Samples:      metrics.Samples,
		Metrics:      metrics,
	}

	if metrics.Accuracy >= l.opts.MinAccuracy && metrics.Loss <= l.opts.MaxLoss {
		rec.Outcome = domain.OutcomeCommitted
		l.commit(rec, alerts[len(alerts)-1].ID, metrics)
	} else {
		rec.Outcome = domain.OutcomeRejected
		l.rollback(rec, backup, metrics)
	}
	telemetry.TrainingCycles.WithLabelValues(string(rec.Outcome)).Inc()
	return rec, nil
}

func (l *Learner) skip(why string) (domain.CycleRecord, error) {
	log.Println("Learning cycle skipped:", why)
	telemetry.TrainingCycles.WithLabelValues(string(domain.OutcomeSkipped)).Inc()
	return domain.CycleRecord{Timestamp: time.Now(), Outcome: domain.OutcomeSkipped}, nil
}

// labelAlerts turns alerts into a training set. Deterministic detections
// are spoofs by definition; classifier alerts count only when the recorded
// confidence is decisive.
func (l *Learner) labelAlerts(alerts []domain.Alert) ([][]float64, []float64) {
	var x [][]float64
	var y []float64
	for _, alert := range alerts {
		var label float64
		switch alert.Module {
		case domain.ModuleDFA:
			label = 1
		case domain.ModuleANN:
			conf, ok := alert.Confidence()
			if !ok {
				continue
			}
			switch {
			case conf >= spoofConfidence:
				label = 1
			case conf <= benignConfidence:
				label = 0
			default:
				continue
			}
		default:
			continue
		}
		x = append(x, l.extractor.FromAlert(alert))
		y = append(y, label)
	}
	return x, y
}

// backupCheckpoint copies the current model file aside. Returns "" when no
// checkpoint exists yet.
func (l *Learner) backupCheckpoint() (string, error) {
	path := l.model.Path()
	if path == "" {
		return "", nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	if err := os.MkdirAll(l.opts.BackupDir, 0o755); err != nil {
		return "", err
	}
	backup := filepath.Join(l.opts.BackupDir,
		fmt.Sprintf("ann_model_%s.json", time.Now().Format("20060102_150405")))
	if err := classifier.CopyFile(path, backup); err != nil {
		return "", fmt.Errorf("backing up checkpoint: %w", err)
	}
	return backup, nil
}

func (l *Learner) commit(rec domain.CycleRecord, lastID uint, metrics domain.TrainingMetrics) {
	if err := l.model.Save(""); err != nil {
		log.Println("Checkpoint save failed:", err)
	}
	now := rec.Timestamp

	l.mu.Lock()
	l.state.LastProcessedAlertID = lastID
	l.state.LastTrainingTime = &now
	l.state.appendCycle(rec)
	l.state.appendVersion(domain.ModelVersion{
		Timestamp: now,
		Path:      l.model.Path(),
		Metrics:   metrics,
	})
	l.persistLocked()
	l.mu.Unlock()

	log.Printf("Training cycle committed: samples=%d accuracy=%.1f%% loss=%.4f",
		metrics.Samples, metrics.Accuracy, metrics.Loss)
}

// rollback restores the pre-cycle checkpoint. The watermark stays put so a
// later cycle sees the same alerts again.
func (l *Learner) rollback(rec domain.CycleRecord, backup string, metrics domain.TrainingMetrics) {
	if backup != "" {
		if err := classifier.CopyFile(backup, l.model.Path()); err != nil {
			log.Println("Checkpoint restore failed:", err)
		} else if err := l.model.Reload(); err != nil {
			log.Println("Model reload failed:", err)
		}
	}

	l.mu.Lock()
	l.state.appendCycle(rec)
	l.persistLocked()
	l.mu.Unlock()

	log.Printf("Training cycle rejected: accuracy=%.1f%% loss=%.4f (need accuracy>=%.0f, loss<=%.1f)",
		metrics.Accuracy, metrics.Loss, l.opts.MinAccuracy, l.opts.MaxLoss)
}

func (l *Learner) persistLocked() {
	if l.opts.StateFile == "" {
		return
	}
	if err := SaveState(l.opts.StateFile, l.state); err != nil {
		log.Println("Learner state save failed:", err)
	}
}
