package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"mnist-forge/internal/vector"
)

func vec(vals ...float32) vector.Vector {
	return vector.FromData(vals)
}

func mustModel(t *testing.T, c Checkpoint) *Softmax {
	t.Helper()
	m, err := c.ToModel()
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	return m
}

func TestNewShapes(t *testing.T) {
	m, err := New(OutputSize, InputSize, InitRandom, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Classes() != OutputSize || m.Features() != InputSize || m.Epoch() != 0 {
		t.Fatalf("unexpected shape classes=%d features=%d epoch=%d", m.Classes(), m.Features(), m.Epoch())
	}
	for c, w := range m.Weights() {
		for _, v := range w.Data() {
			if v < 0 || v >= 1 || math.IsNaN(float64(v)) {
				t.Fatalf("weight row %d out of [0,1): %f", c, v)
			}
		}
	}
	if m.Bias().Len() != OutputSize || m.Bias().Sum() != 0 {
		t.Fatalf("bias not zero-filled: %v", m.Bias().Data())
	}

	z, err := New(3, 4, InitZero, nil)
	if err != nil {
		t.Fatalf("New zero: %v", err)
	}
	for _, w := range z.Weights() {
		if w.Sum() != 0 {
			t.Fatalf("expected zero weights, got %v", w.Data())
		}
	}
	if _, err := New(0, 4, InitZero, nil); err == nil {
		t.Fatalf("expected error for zero classes")
	}
}

func TestSoftmaxIsDistribution(t *testing.T) {
	p := softmax(vec(3, -2, 0.5, 10))
	var sum float64
	for _, v := range p.Data() {
		if v <= 0 || v > 1 {
			t.Fatalf("probability out of (0,1]: %f", v)
		}
		sum += float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("probabilities sum to %f", sum)
	}
}

func TestPredict(t *testing.T) {
	m, _ := New(OutputSize, InputSize, InitRandom, rand.New(rand.NewSource(11)))
	x := make([]float32, InputSize)
	for i := range x {
		x[i] = float32(i%255) / 255
	}
	p, err := m.Predict(vector.FromData(x))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Len() != OutputSize {
		t.Fatalf("expected %d outputs, got %d", OutputSize, p.Len())
	}
	if math.Abs(float64(p.Sum())-1) > 1e-5 {
		t.Fatalf("probabilities sum to %f", p.Sum())
	}
	if _, err := m.Predict(vec(1, 2, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestPredictUsesBias(t *testing.T) {
	m := mustModel(t, Checkpoint{
		Weights: [][]float32{{0, 0}, {0, 0}},
		Bias:    []float32{0, 5},
	})
	p, err := m.Predict(vec(1, 1))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if idx, _ := p.Argmax(); idx != 1 {
		t.Fatalf("expected bias to select class 1, got %d", idx)
	}
}

func TestLoss(t *testing.T) {
	m, _ := New(3, 2, InitZero, nil)
	loss, err := m.Loss(vec(1, 0, 0), vec(1, 0, 0))
	if err != nil {
		t.Fatalf("Loss: %v", err)
	}
	if math.Abs(float64(loss)) > 1e-7 {
		t.Fatalf("expected zero loss, got %f", loss)
	}

	m2, _ := New(2, 2, InitZero, nil)
	loss, _ = m2.Loss(vec(0, 1), vec(0.5, 0.5))
	want := -math.Log(0.5) / 2
	if math.Abs(float64(loss)-want) > 1e-6 {
		t.Fatalf("expected class-averaged loss %f, got %f", want, loss)
	}

	// A zero prediction for the true class is clipped rather than producing Inf.
	loss, _ = m2.Loss(vec(1, 0), vec(0, 1))
	if math.IsInf(float64(loss), 0) || math.IsNaN(float64(loss)) {
		t.Fatalf("expected finite clipped loss, got %f", loss)
	}
	if _, err := m2.Loss(vec(1, 0, 0), vec(0.5, 0.5)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestLossDeriv(t *testing.T) {
	m, _ := New(3, 2, InitZero, nil)
	d, err := m.LossDeriv(vec(0, 1, 0), vec(0.2, 0.7, 0.1))
	if err != nil {
		t.Fatalf("LossDeriv: %v", err)
	}
	if !d.Equal(vec(0.2, -0.3, 0.1), 1e-6) {
		t.Fatalf("unexpected gradient %v", d.Data())
	}
	if _, err := m.LossDeriv(vec(0, 1), vec(0.2, 0.7, 0.1)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestTrainDecreasesLoss(t *testing.T) {
	m, _ := New(2, 2, InitZero, nil)
	xs := []vector.Vector{vec(1, 0), vec(0, 1)}
	ys := []vector.Vector{vec(1, 0), vec(0, 1)}

	var history []EpochStats
	obs := ObserverFunc(func(s EpochStats) { history = append(history, s) })
	if err := m.Train(xs, ys, 10, 0.5, obs); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(history) != 10 {
		t.Fatalf("expected 10 observations, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Loss >= history[i-1].Loss {
			t.Fatalf("loss did not decrease at epoch %d: %f -> %f", history[i].Epoch, history[i-1].Loss, history[i].Loss)
		}
		if history[i].Epoch != i+1 {
			t.Fatalf("expected epoch %d, got %d", i+1, history[i].Epoch)
		}
	}
	if m.Epoch() != 10 {
		t.Fatalf("expected epoch 10, got %d", m.Epoch())
	}
	res, err := m.Evaluate(xs, ys)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Accuracy != 1 || res.Correct != 2 {
		t.Fatalf("expected perfect accuracy, got %+v", res)
	}
}

func TestTrainClipsGradients(t *testing.T) {
	m := mustModel(t, Checkpoint{
		Weights: [][]float32{{0}, {0}},
		Bias:    []float32{0, 0},
	})
	// Prediction is [0.5, 0.5], so the raw weight gradients are -5 and +5.
	const lr = 0.1
	if err := m.Train([]vector.Vector{vec(10)}, []vector.Vector{vec(1, 0)}, 1, lr, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	w := m.Weights()
	w0, _ := w[0].At(0)
	w1, _ := w[1].At(0)
	if math.Abs(float64(w0-lr)) > 1e-6 || math.Abs(float64(w1+lr)) > 1e-6 {
		t.Fatalf("expected clipped updates +/-%f, got %f %f", lr, w0, w1)
	}
	if !m.Bias().Equal(vec(0.5*lr, -0.5*lr), 1e-6) {
		t.Fatalf("unexpected bias %v", m.Bias().Data())
	}
}

func TestTrainShapeMismatch(t *testing.T) {
	m, _ := New(2, 2, InitZero, nil)
	err := m.Train([]vector.Vector{vec(1, 0)}, nil, 1, 0.1, nil)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}

	// The first example is applied before the malformed second one aborts the epoch.
	xs := []vector.Vector{vec(1, 0), vec(1, 0, 0)}
	ys := []vector.Vector{vec(1, 0), vec(0, 1)}
	err = m.Train(xs, ys, 3, 0.1, nil)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if m.Epoch() != 0 {
		t.Fatalf("expected epoch to stay 0, got %d", m.Epoch())
	}
	if m.Bias().Equal(vec(0, 0), 0) {
		t.Fatalf("expected partial update to remain applied")
	}
}

func TestEvaluateZeroCorrect(t *testing.T) {
	m := mustModel(t, Checkpoint{
		Weights: [][]float32{{0, 0}, {0, 0}},
		Bias:    []float32{5, 0},
	})
	before := FromModel(m)
	res, err := m.Evaluate([]vector.Vector{vec(1, 1), vec(0, 1)}, []vector.Vector{vec(0, 1), vec(0, 1)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Accuracy != 0 || res.Correct != 0 || res.Total != 2 {
		t.Fatalf("expected zero accuracy, got %+v", res)
	}
	if res.Loss <= 0 {
		t.Fatalf("expected positive loss, got %f", res.Loss)
	}
	if after := FromModel(m); after.Bias[0] != before.Bias[0] || after.Epoch != before.Epoch {
		t.Fatalf("evaluate mutated the model")
	}

	empty, err := m.Evaluate(nil, nil)
	if err != nil {
		t.Fatalf("Evaluate empty: %v", err)
	}
	if empty.Accuracy != 0 || empty.Loss != 0 {
		t.Fatalf("expected zero metrics on empty set, got %+v", empty)
	}
	if _, err := m.Evaluate([]vector.Vector{vec(1, 1)}, nil); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
