package model

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"mnist-forge/internal/vector"
)

const (
	probFloor = 1e-12
	probCeil  = 1.0
	gradClip  = 1.0
)

// Softmax is a single affine layer followed by softmax: y = softmax(W·x + b).
// It is not safe for concurrent use; Train mutates it in place.
type Softmax struct {
	weights []vector.Vector
	bias    vector.Vector
	epoch   int
}

// New constructs a model with the requested initialisation. rng is only
// consulted for InitRandom; a nil rng falls back to a fixed seed.
func New(classes, features int, init Init, rng *rand.Rand) (*Softmax, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("model: classes must be > 0 (got %d)", classes)
	}
	if features <= 0 {
		return nil, fmt.Errorf("model: features must be > 0 (got %d)", features)
	}
	if init == InitRandom && rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	weights := make([]vector.Vector, classes)
	for c := range weights {
		row := make([]float32, features)
		if init == InitRandom {
			for j := range row {
				row[j] = rng.Float32()
			}
		}
		weights[c] = vector.FromData(row)
	}
	bias, err := vector.Zeros(classes)
	if err != nil {
		return nil, err
	}
	return &Softmax{weights: weights, bias: bias}, nil
}

// Classes returns the number of output classes.
func (m *Softmax) Classes() int { return len(m.weights) }

// Features returns the expected input length.
func (m *Softmax) Features() int { return m.weights[0].Len() }

// Epoch returns the number of completed training epochs.
func (m *Softmax) Epoch() int { return m.epoch }

// Weights returns a copy of the per-class weight rows.
func (m *Softmax) Weights() []vector.Vector {
	out := make([]vector.Vector, len(m.weights))
	for i, w := range m.weights {
		out[i] = vector.FromData(w.Data())
	}
	return out
}

// Bias returns a copy of the bias vector.
func (m *Softmax) Bias() vector.Vector {
	return vector.FromData(m.bias.Data())
}

func softmax(z vector.Vector) vector.Vector {
	// Shifting by the max leaves the result unchanged and keeps exp finite.
	shift := float32(math.Inf(-1))
	for _, v := range z.Data() {
		if v > shift {
			shift = v
		}
	}
	e := z.SubtractScalar(shift).Exp()
	return e.DivideScalar(e.Sum())
}

// Predict returns the class probabilities for x.
func (m *Softmax) Predict(x vector.Vector) (vector.Vector, error) {
	if x.Len() != m.Features() {
		return vector.Vector{}, fmt.Errorf("model: predict input has %d features, want %d: %w", x.Len(), m.Features(), ErrShapeMismatch)
	}
	logits := make([]float32, len(m.weights))
	for c, w := range m.weights {
		dot, err := w.Dot(x)
		if err != nil {
			return vector.Vector{}, err
		}
		logits[c] = dot
	}
	z, err := vector.FromData(logits).Add(m.bias)
	if err != nil {
		return vector.Vector{}, err
	}
	return softmax(z), nil
}

// Loss is the clipped categorical cross-entropy averaged over classes.
func (m *Softmax) Loss(yTrue, yPred vector.Vector) (float32, error) {
	if yTrue.Len() != yPred.Len() {
		return 0, fmt.Errorf("model: loss target has %d classes, prediction %d: %w", yTrue.Len(), yPred.Len(), ErrShapeMismatch)
	}
	if yTrue.Len() == 0 {
		return 0, nil
	}
	truth := yTrue.Data()
	clipped := yPred.Clamp(probFloor, probCeil).Data()
	var sum float32
	for i, t := range truth {
		sum += -t * float32(math.Log(float64(clipped[i])))
	}
	return sum / float32(len(truth)), nil
}

// LossDeriv returns clip(yPred) - yTrue, the gradient with respect to the logits.
func (m *Softmax) LossDeriv(yTrue, yPred vector.Vector) (vector.Vector, error) {
	d, err := yPred.Clamp(probFloor, probCeil).Subtract(yTrue)
	if err != nil {
		return vector.Vector{}, fmt.Errorf("model: loss derivative: %w", err)
	}
	return d, nil
}

// score runs the forward pass for one example and reports its loss and
// whether the predicted class matches the target class.
func (m *Softmax) score(x, y vector.Vector) (vector.Vector, float32, bool, error) {
	pred, err := m.Predict(x)
	if err != nil {
		return vector.Vector{}, 0, false, err
	}
	loss, err := m.Loss(y, pred)
	if err != nil {
		return vector.Vector{}, 0, false, err
	}
	want, err := y.Argmax()
	if err != nil {
		return vector.Vector{}, 0, false, err
	}
	got, err := pred.Argmax()
	if err != nil {
		return vector.Vector{}, 0, false, err
	}
	return pred, loss, want == got, nil
}

// step applies one clipped gradient-descent update for a single example.
func (m *Softmax) step(x, grad vector.Vector, lr float32) error {
	g := grad.Data()
	for c, w := range m.weights {
		gradW := x.MultiplyScalar(g[c]).Clamp(-gradClip, gradClip)
		updated, err := w.Subtract(gradW.MultiplyScalar(lr))
		if err != nil {
			return err
		}
		m.weights[c] = updated
	}
	gradB := grad.Clamp(-gradClip, gradClip)
	bias, err := m.bias.Subtract(gradB.MultiplyScalar(lr))
	if err != nil {
		return err
	}
	m.bias = bias
	return nil
}

func summarise(totalLoss float32, correct, total int) Result {
	r := Result{Correct: correct, Total: total}
	if total == 0 {
		return r
	}
	r.Loss = totalLoss / float32(total)
	if correct > 0 {
		r.Accuracy = float32(correct) / float32(total)
	}
	return r
}

// Train runs online gradient descent for the given number of epochs, one
// update per example in dataset order. A failure aborts the call and leaves
// any updates already applied in place.
func (m *Softmax) Train(xs, ys []vector.Vector, epochs int, lr float32, obs Observer) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("model: %d inputs but %d targets: %w", len(xs), len(ys), ErrShapeMismatch)
	}
	for e := 0; e < epochs; e++ {
		start := time.Now()
		var totalLoss float32
		correct := 0
		for i := range xs {
			pred, loss, hit, err := m.score(xs[i], ys[i])
			if err != nil {
				return fmt.Errorf("model: epoch %d example %d: %w", m.epoch+1, i, err)
			}
			totalLoss += loss
			if hit {
				correct++
			}
			grad, err := m.LossDeriv(ys[i], pred)
			if err != nil {
				return err
			}
			if err := m.step(xs[i], grad, lr); err != nil {
				return fmt.Errorf("model: epoch %d example %d: %w", m.epoch+1, i, err)
			}
		}
		res := summarise(totalLoss, correct, len(xs))
		m.epoch++
		if obs != nil {
			obs.ObserveEpoch(EpochStats{
				Epoch:    m.epoch,
				Loss:     res.Loss,
				Accuracy: res.Accuracy,
				Examples: len(xs),
				Duration: time.Since(start),
			})
		}
	}
	return nil
}

// Evaluate runs the forward pass over a labelled set without updating the
// parameters.
func (m *Softmax) Evaluate(xs, ys []vector.Vector) (Result, error) {
	if len(xs) != len(ys) {
		return Result{}, fmt.Errorf("model: %d inputs but %d targets: %w", len(xs), len(ys), ErrShapeMismatch)
	}
	var totalLoss float32
	correct := 0
	for i := range xs {
		_, loss, hit, err := m.score(xs[i], ys[i])
		if err != nil {
			return Result{}, fmt.Errorf("model: evaluate example %d: %w", i, err)
		}
		totalLoss += loss
		if hit {
			correct++
		}
	}
	return summarise(totalLoss, correct, len(xs)), nil
}
