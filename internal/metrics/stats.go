package metrics

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Window accumulates throughput stats across multiple epochs.
type Window struct {
	examples     int
	compute      time.Duration
	epochs       int
	lastLoss     float64
	lastAccuracy float64
}

// Record adds a new epoch measurement to the window.
func (w *Window) Record(examples int, computeTime time.Duration, loss, accuracy float64) {
	w.examples += examples
	w.compute += computeTime
	w.epochs++
	w.lastLoss = loss
	w.lastAccuracy = accuracy
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	if w.compute > 0 {
		snap.ExamplesPerSec = float64(w.examples) / w.compute.Seconds()
	}
	if w.epochs > 0 {
		snap.AvgEpochMS = (w.compute.Seconds() * 1000) / float64(w.epochs)
	}
	snap.LastLoss = w.lastLoss
	snap.LastAccuracy = w.lastAccuracy

	w.examples = 0
	w.compute = 0
	w.epochs = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ExamplesPerSec float64
	AvgEpochMS     float64
	LastLoss       float64
	LastAccuracy   float64
}

// Point is one epoch's training outcome.
type Point struct {
	Epoch    int
	Loss     float64
	Accuracy float64
}

// History keeps every recorded epoch of a run.
type History struct {
	points []Point
}

// Add appends an epoch outcome.
func (h *History) Add(p Point) {
	h.points = append(h.points, p)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int {
	return len(h.points)
}

// Points returns a copy of the recorded epochs.
func (h *History) Points() []Point {
	out := make([]Point, len(h.points))
	copy(out, h.points)
	return out
}

func (h *History) losses() []float64 {
	out := make([]float64, len(h.points))
	for i, p := range h.points {
		out[i] = p.Loss
	}
	return out
}

// MeanLoss returns the mean loss across recorded epochs, or 0 if empty.
func (h *History) MeanLoss() float64 {
	if len(h.points) == 0 {
		return 0
	}
	return stat.Mean(h.losses(), nil)
}

// Best returns the epoch with the lowest loss. The earliest epoch wins ties.
func (h *History) Best() (Point, bool) {
	if len(h.points) == 0 {
		return Point{}, false
	}
	return h.points[floats.MinIdx(h.losses())], true
}
