package classifier

import (
	"errors"
	"log"
	"math/rand"
	"sync"

	"github.com/safelink/safelink/internal/core/domain"
)

// Default topology, matching the shipped checkpoints.
var DefaultHiddenDims = []int{512, 256, 128, 64}

const DefaultDropout = 0.35

// Defaults for incremental updates.
const (
	DefaultEpochs       = 3
	DefaultLearningRate = 1e-4
	DefaultWeightDecay  = 1e-4
	DefaultBatchSize    = 32
)

// ErrDimensionMismatch is returned when an input vector width differs from
// the model's feature count.
var ErrDimensionMismatch = errors.New("feature vector width mismatch")

// Prediction is one inference outcome.
type Prediction struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
}

// Classifier wraps the network behind a read/write lock: inference takes
// shared access, training and reloads take exclusive access.
type Classifier struct {
	mu sync.RWMutex

	featureNames []string
	scaler       *Scaler
	net          *Net
	path         string
}

// New builds a randomly initialized classifier over the given feature order.
func New(featureNames []string, hidden []int, dropout float64, path string) *Classifier {
	if len(hidden) == 0 {
		hidden = DefaultHiddenDims
	}
	return &Classifier{
		featureNames: featureNames,
		scaler:       &Scaler{},
		net:          NewNet(len(featureNames), hidden, dropout, 1),
		path:         path,
	}
}

// Load restores a classifier from a checkpoint, verifying the feature order
// against expectedFeatures when given.
func Load(path string, expectedFeatures []string) (*Classifier, error) {
	cp, err := LoadCheckpoint(path, expectedFeatures)
	if err != nil {
		return nil, err
	}
	log.Printf("Classifier loaded from %s: %d features, hidden %v",
		path, len(cp.FeatureNames), cp.HiddenDims)
	return &Classifier{
		featureNames: cp.FeatureNames,
		scaler:       cp.Scaler,
		net:          cp.Net,
		path:         path,
	}, nil
}

// FeatureNames returns the ordered feature list the model expects.
func (c *Classifier) FeatureNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.featureNames))
	copy(out, c.featureNames)
	return out
}

// InputSize returns the expected vector width.
func (c *Classifier) InputSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.featureNames)
}

// Predict scores one vector. Deterministic: scaling by the persisted
// statistics, running batch-norm estimates, no dropout.
func (c *Classifier) Predict(vector []float64) (Prediction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(vector) != len(c.featureNames) {
		return Prediction{}, ErrDimensionMismatch
	}
	scaled := c.scaler.Transform([][]float64{vector})
	logit := c.net.Forward(scaled)[0]
	p := sigmoid(logit)
	label := 0
	if p >= 0.5 {
		label = 1
	}
	return Prediction{Label: label, Probability: p}, nil
}

// PredictBatch scores a batch of vectors.
func (c *Classifier) PredictBatch(matrix [][]float64) ([]Prediction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, row := range matrix {
		if len(row) != len(c.featureNames) {
			return nil, ErrDimensionMismatch
		}
	}
	logits := c.net.Forward(c.scaler.Transform(matrix))
	out := make([]Prediction, len(logits))
	for i, z := range logits {
		p := sigmoid(z)
		label := 0
		if p >= 0.5 {
			label = 1
		}
		out[i] = Prediction{Label: label, Probability: p}
	}
	return out, nil
}

// UpdateOptions tune an incremental update; zero values take the defaults.
type UpdateOptions struct {
	Epochs       int
	LearningRate float64
	WeightDecay  float64
	BatchSize    int
}

func (o UpdateOptions) withDefaults() UpdateOptions {
	if o.Epochs <= 0 {
		o.Epochs = DefaultEpochs
	}
	if o.LearningRate <= 0 {
		o.LearningRate = DefaultLearningRate
	}
	if o.WeightDecay <= 0 {
		o.WeightDecay = DefaultWeightDecay
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// IncrementalUpdate trains the model on a labeled batch under exclusive
// lock and leaves it back in inference mode. The returned loss is the mean
// over epochs of the summed minibatch losses; accuracy is a percentage
// over every prediction made during the update.
func (c *Classifier) IncrementalUpdate(x [][]float64, y []float64, opts UpdateOptions) (domain.TrainingMetrics, error) {
	opts = opts.withDefaults()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(x) == 0 || len(x) != len(y) {
		return domain.TrainingMetrics{}, errors.New("empty or mismatched training batch")
	}
	for _, row := range x {
		if len(row) != len(c.featureNames) {
			return domain.TrainingMetrics{}, ErrDimensionMismatch
		}
	}

	scaled := c.scaler.Transform(x)
	rng := rand.New(rand.NewSource(int64(len(x))))

	var totalLoss float64
	correct, total := 0, 0
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		order := rng.Perm(len(scaled))
		var epochLoss float64
		for start := 0; start < len(order); start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > len(order) {
				end = len(order)
			}
			bx := make([][]float64, 0, end-start)
			by := make([]float64, 0, end-start)
			for _, idx := range order[start:end] {
				bx = append(bx, scaled[idx])
				by = append(by, y[idx])
			}
			loss, ok := c.net.trainStep(bx, by, opts.LearningRate, opts.WeightDecay)
			epochLoss += loss * float64(len(bx))
			correct += ok
			total += len(bx)
		}
		// Per-sample mean, so the value is comparable across batch sizes.
		totalLoss += epochLoss / float64(len(x))
	}

	metrics := domain.TrainingMetrics{
		Loss:    totalLoss / float64(opts.Epochs),
		Samples: len(x),
	}
	if total > 0 {
		metrics.Accuracy = 100 * float64(correct) / float64(total)
	}
	return metrics, nil
}

// FitScalerFrom refits the standardization statistics from a sample matrix.
func (c *Classifier) FitScalerFrom(x [][]float64) {
	s := FitScaler(x)
	c.mu.Lock()
	c.scaler = s
	c.mu.Unlock()
}

// Save persists the full state atomically to path, or to the classifier's
// own path when empty.
func (c *Classifier) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if path == "" {
		path = c.path
	}
	return SaveCheckpoint(path, &Checkpoint{
		Version:      checkpointVersion,
		FeatureNames: c.featureNames,
		HiddenDims:   c.net.Hidden,
		Dropout:      c.net.Dropout,
		Scaler:       c.scaler,
		Net:          c.net,
	})
}

// Reload replaces the in-memory state from the checkpoint on disk, used
// after a rollback restores a backup file.
func (c *Classifier) Reload() error {
	cp, err := LoadCheckpoint(c.path, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.featureNames = cp.FeatureNames
	c.scaler = cp.Scaler
	c.net = cp.Net
	c.mu.Unlock()
	return nil
}

// Path returns the checkpoint path this classifier persists to.
func (c *Classifier) Path() string { return c.path }
