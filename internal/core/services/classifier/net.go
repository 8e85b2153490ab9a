// Package classifier implements the learned binary model of the pipeline:
// a feed-forward network over fixed-width feature vectors with incremental
// updates and atomic JSON checkpoints.
package classifier

import (
	"math"
	"math/rand"
)

const (
	bnEps      = 1e-5
	bnMomentum = 0.1

	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// dense is a fully connected layer. Weights are row-major (out x in).
type dense struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`

	// Adam moments, not persisted.
	mw, vw, mb, vb []float64
}

func newDense(in, out int, rng *rand.Rand) *dense {
	d := &dense{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
	// Kaiming-style uniform init scaled by fan-in.
	bound := math.Sqrt(1.0 / float64(in))
	for i := range d.W {
		d.W[i] = (rng.Float64()*2 - 1) * bound
	}
	for i := range d.B {
		d.B[i] = (rng.Float64()*2 - 1) * bound
	}
	return d
}

func (d *dense) ensureMoments() {
	if d.mw == nil {
		d.mw = make([]float64, len(d.W))
		d.vw = make([]float64, len(d.W))
		d.mb = make([]float64, len(d.B))
		d.vb = make([]float64, len(d.B))
	}
}

// forward computes x @ W^T + b for a batch (rows = samples).
func (d *dense) forward(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for r, row := range x {
		o := make([]float64, d.Out)
		for j := 0; j < d.Out; j++ {
			sum := d.B[j]
			w := d.W[j*d.In : (j+1)*d.In]
			for i, v := range row {
				sum += w[i] * v
			}
			o[j] = sum
		}
		out[r] = o
	}
	return out
}

// backward consumes the upstream gradient, applies an Adam step with L2
// weight decay, and returns the gradient w.r.t. the layer input.
func (d *dense) backward(x, gradOut [][]float64, opt *adamOpt) [][]float64 {
	d.ensureMoments()

	gw := make([]float64, len(d.W))
	gb := make([]float64, len(d.B))
	gradIn := make([][]float64, len(x))

	for r := range x {
		gi := make([]float64, d.In)
		for j := 0; j < d.Out; j++ {
			g := gradOut[r][j]
			gb[j] += g
			w := d.W[j*d.In : (j+1)*d.In]
			gwRow := gw[j*d.In : (j+1)*d.In]
			for i, v := range x[r] {
				gwRow[i] += g * v
				gi[i] += g * w[i]
			}
		}
		gradIn[r] = gi
	}

	opt.step(d.W, gw, d.mw, d.vw)
	opt.step(d.B, gb, d.mb, d.vb)
	return gradIn
}

// batchNorm normalizes each feature over the batch during training and by
// running statistics during inference.
type batchNorm struct {
	Gamma       []float64 `json:"gamma"`
	Beta        []float64 `json:"beta"`
	RunningMean []float64 `json:"running_mean"`
	RunningVar  []float64 `json:"running_var"`

	mg, vg, mb, vb []float64

	// per-batch caches for backward
	batchMean, batchVar []float64
	xhat                [][]float64
}

func newBatchNorm(dim int) *batchNorm {
	bn := &batchNorm{
		Gamma:       make([]float64, dim),
		Beta:        make([]float64, dim),
		RunningMean: make([]float64, dim),
		RunningVar:  make([]float64, dim),
	}
	for i := range bn.Gamma {
		bn.Gamma[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

func (bn *batchNorm) ensureMoments() {
	if bn.mg == nil {
		bn.mg = make([]float64, len(bn.Gamma))
		bn.vg = make([]float64, len(bn.Gamma))
		bn.mb = make([]float64, len(bn.Beta))
		bn.vb = make([]float64, len(bn.Beta))
	}
}

func (bn *batchNorm) forwardEval(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for r, row := range x {
		o := make([]float64, len(row))
		for j, v := range row {
			o[j] = bn.Gamma[j]*(v-bn.RunningMean[j])/math.Sqrt(bn.RunningVar[j]+bnEps) + bn.Beta[j]
		}
		out[r] = o
	}
	return out
}

func (bn *batchNorm) forwardTrain(x [][]float64) [][]float64 {
	n := float64(len(x))
	dim := len(bn.Gamma)

	mean := make([]float64, dim)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}

	variance := make([]float64, dim)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			variance[j] += d * d
		}
	}
	for j := range variance {
		variance[j] /= n
	}

	bn.batchMean, bn.batchVar = mean, variance
	bn.xhat = make([][]float64, len(x))
	out := make([][]float64, len(x))
	for r, row := range x {
		xh := make([]float64, dim)
		o := make([]float64, dim)
		for j, v := range row {
			xh[j] = (v - mean[j]) / math.Sqrt(variance[j]+bnEps)
			o[j] = bn.Gamma[j]*xh[j] + bn.Beta[j]
		}
		bn.xhat[r] = xh
		out[r] = o
	}

	// Running statistics track the unbiased batch variance.
	unbias := 1.0
	if n > 1 {
		unbias = n / (n - 1)
	}
	for j := range bn.RunningMean {
		bn.RunningMean[j] = (1-bnMomentum)*bn.RunningMean[j] + bnMomentum*mean[j]
		bn.RunningVar[j] = (1-bnMomentum)*bn.RunningVar[j] + bnMomentum*variance[j]*unbias
	}
	return out
}

func (bn *batchNorm) backward(gradOut [][]float64, opt *adamOpt) [][]float64 {
	bn.ensureMoments()

	n := float64(len(gradOut))
	dim := len(bn.Gamma)

	gGamma := make([]float64, dim)
	gBeta := make([]float64, dim)
	sumG := make([]float64, dim)
	sumGX := make([]float64, dim)
	for r, row := range gradOut {
		for j, g := range row {
			gGamma[j] += g * bn.xhat[r][j]
			gBeta[j] += g
			sumG[j] += g
			sumGX[j] += g * bn.xhat[r][j]
		}
	}

	gradIn := make([][]float64, len(gradOut))
	for r, row := range gradOut {
		gi := make([]float64, dim)
		for j, g := range row {
			invStd := 1.0 / math.Sqrt(bn.batchVar[j]+bnEps)
			gi[j] = bn.Gamma[j] * invStd / n *
				(n*g - sumG[j] - bn.xhat[r][j]*sumGX[j])
		}
		gradIn[r] = gi
	}

	opt.step(bn.Gamma, gGamma, bn.mg, bn.vg)
	opt.step(bn.Beta, gBeta, bn.mb, bn.vb)
	return gradIn
}

// adamOpt applies Adam updates with decoupled step counting shared across
// all parameter tensors of one optimization pass.
type adamOpt struct {
	lr          float64
	weightDecay float64
	t           int
}

func (o *adamOpt) step(params, grads, m, v []float64) {
	bc1 := 1 - math.Pow(adamBeta1, float64(o.t))
	bc2 := 1 - math.Pow(adamBeta2, float64(o.t))
	for i := range params {
		g := grads[i] + o.weightDecay*params[i]
		m[i] = adamBeta1*m[i] + (1-adamBeta1)*g
		v[i] = adamBeta2*v[i] + (1-adamBeta2)*g*g
		mhat := m[i] / bc1
		vhat := v[i] / bc2
		params[i] -= o.lr * mhat / (math.Sqrt(vhat) + adamEps)
	}
}

// Net is the fixed-topology model: per hidden width a dense layer, batch
// normalization, rectifier and dropout, then a final dense layer producing
// one logit per sample.
type Net struct {
	InputDim  int          `json:"input_dim"`
	Hidden    []int        `json:"hidden_dims"`
	Dropout   float64      `json:"dropout"`
	Linears   []*dense     `json:"linears"`
	Norms     []*batchNorm `json:"norms"`
	OutLinear *dense       `json:"out"`

	rng *rand.Rand
	opt *adamOpt
}

// NewNet builds a randomly initialized network. The seed makes unit tests
// reproducible.
func NewNet(inputDim int, hidden []int, dropout float64, seed int64) *Net {
	rng := rand.New(rand.NewSource(seed))
	n := &Net{InputDim: inputDim, Hidden: hidden, Dropout: dropout, rng: rng}
	prev := inputDim
	for _, h := range hidden {
		n.Linears = append(n.Linears, newDense(prev, h, rng))
		n.Norms = append(n.Norms, newBatchNorm(h))
		prev = h
	}
	n.OutLinear = newDense(prev, 1, rng)
	return n
}

// reseed restores the unexported runtime state after JSON decoding.
func (n *Net) reseed(seed int64) {
	n.rng = rand.New(rand.NewSource(seed))
}

// Forward runs inference: running statistics, no dropout.
func (n *Net) Forward(x [][]float64) []float64 {
	h := x
	for i, lin := range n.Linears {
		h = relu(n.Norms[i].forwardEval(lin.forward(h)))
	}
	out := n.OutLinear.forward(h)
	logits := make([]float64, len(out))
	for i, row := range out {
		logits[i] = row[0]
	}
	return logits
}

type trainCache struct {
	linIn [][][]float64
	actIn [][][]float64 // post-BN pre-ReLU
	masks [][][]float64
	outIn [][]float64
}

// trainStep runs one minibatch: forward with batch statistics and dropout,
// BCE-with-logits loss, backward with Adam. Returns the batch loss and the
// number of correct predictions.
func (n *Net) trainStep(x [][]float64, y []float64, lr, weightDecay float64) (float64, int) {
	if n.opt == nil {
		n.opt = &adamOpt{lr: lr, weightDecay: weightDecay}
	}
	n.opt.lr = lr
	n.opt.weightDecay = weightDecay
	n.opt.t++

	cache := trainCache{}
	h := x
	for i, lin := range n.Linears {
		cache.linIn = append(cache.linIn, h)
		z := n.Norms[i].forwardTrain(lin.forward(h))
		cache.actIn = append(cache.actIn, z)
		h = relu(z)
		var maskOut [][]float64
		h, maskOut = n.dropout(h)
		cache.masks = append(cache.masks, maskOut)
	}
	cache.outIn = h
	out := n.OutLinear.forward(h)

	// Loss and logit gradient: dL/dz = (sigmoid(z) - y) / batch.
	batch := float64(len(x))
	var loss float64
	correct := 0
	gradOut := make([][]float64, len(out))
	for r, row := range out {
		z := row[0]
		loss += bceWithLogits(z, y[r])
		p := sigmoid(z)
		if (p >= 0.5) == (y[r] >= 0.5) {
			correct++
		}
		gradOut[r] = []float64{(p - y[r]) / batch}
	}
	loss /= batch

	grad := n.OutLinear.backward(cache.outIn, gradOut, n.opt)
	for i := len(n.Linears) - 1; i >= 0; i-- {
		// dropout then ReLU gates
		for r := range grad {
			for j := range grad[r] {
				grad[r][j] *= cache.masks[i][r][j]
				if cache.actIn[i][r][j] <= 0 {
					grad[r][j] = 0
				}
			}
		}
		grad = n.Norms[i].backward(grad, n.opt)
		grad = n.Linears[i].backward(cache.linIn[i], grad, n.opt)
	}

	return loss, correct
}

// dropout applies inverted dropout, returning the scaled activations and
// the effective mask (keep-scale or zero per unit).
func (n *Net) dropout(x [][]float64) ([][]float64, [][]float64) {
	keep := 1 - n.Dropout
	out := make([][]float64, len(x))
	mask := make([][]float64, len(x))
	if n.Dropout <= 0 {
		for r, row := range x {
			out[r] = row
			m := make([]float64, len(row))
			for j := range m {
				m[j] = 1
			}
			mask[r] = m
		}
		return out, mask
	}
	for r, row := range x {
		o := make([]float64, len(row))
		m := make([]float64, len(row))
		for j, v := range row {
			if n.rng.Float64() < keep {
				m[j] = 1 / keep
				o[j] = v / keep
			}
		}
		out[r] = o
		mask[r] = m
	}
	return out, mask
}

func relu(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for r, row := range x {
		o := make([]float64, len(row))
		for j, v := range row {
			if v > 0 {
				o[j] = v
			}
		}
		out[r] = o
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// bceWithLogits is the numerically stable binary cross-entropy on a logit.
func bceWithLogits(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}
