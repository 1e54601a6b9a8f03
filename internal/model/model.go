package model

import (
	"errors"
	"time"

	"mnist-forge/internal/vector"
)

// Default dimensions for flattened 28x28 digit images.
const (
	InputSize  = 28 * 28
	OutputSize = 10
)

var (
	// ErrShapeMismatch is returned when inputs or targets disagree with the
	// model dimensions or with each other.
	ErrShapeMismatch = vector.ErrShapeMismatch
	// ErrMalformedCheckpoint is returned when a checkpoint cannot describe a model.
	ErrMalformedCheckpoint = errors.New("model: malformed checkpoint")
	// ErrNonFinite is returned when a model holding NaN or Inf parameters is
	// encoded, typically after training diverged.
	ErrNonFinite = errors.New("model: non-finite parameters")
)

// Init selects how weights are initialised.
type Init int

const (
	// InitRandom draws every weight uniformly from [0, 1).
	InitRandom Init = iota
	// InitZero starts all weights at zero.
	InitZero
)

// EpochStats is the progress observation emitted after every completed epoch.
type EpochStats struct {
	Epoch    int
	Loss     float32
	Accuracy float32
	Examples int
	Duration time.Duration
}

// Observer receives per-epoch progress from Train.
type Observer interface {
	ObserveEpoch(stats EpochStats)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(stats EpochStats)

// ObserveEpoch calls f(stats).
func (f ObserverFunc) ObserveEpoch(stats EpochStats) {
	f(stats)
}

// Result summarises a pass over a labelled set.
type Result struct {
	Loss     float32
	Accuracy float32
	Correct  int
	Total    int
}
