package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"mnist-forge/internal/vector"
)

// Checkpoint is the flat, serialisable form of a Softmax model.
type Checkpoint struct {
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
	Epoch   int         `json:"epoch"`
}

// FromModel flattens m into a Checkpoint.
func FromModel(m *Softmax) Checkpoint {
	weights := make([][]float32, len(m.weights))
	for i, w := range m.weights {
		weights[i] = w.Data()
	}
	return Checkpoint{
		Weights: weights,
		Bias:    m.bias.Data(),
		Epoch:   m.epoch,
	}
}

// Validate checks that the checkpoint describes a well-formed model.
func (c Checkpoint) Validate() error {
	if len(c.Weights) == 0 {
		return fmt.Errorf("%w: no weight rows", ErrMalformedCheckpoint)
	}
	features := len(c.Weights[0])
	if features == 0 {
		return fmt.Errorf("%w: empty weight row", ErrMalformedCheckpoint)
	}
	for i, row := range c.Weights {
		if len(row) != features {
			return fmt.Errorf("%w: weight row %d has %d values, want %d", ErrMalformedCheckpoint, i, len(row), features)
		}
	}
	if len(c.Bias) != len(c.Weights) {
		return fmt.Errorf("%w: bias has %d values, want %d", ErrMalformedCheckpoint, len(c.Bias), len(c.Weights))
	}
	if c.Epoch < 0 {
		return fmt.Errorf("%w: negative epoch %d", ErrMalformedCheckpoint, c.Epoch)
	}
	return nil
}

// ToModel rebuilds a Softmax model from the checkpoint.
func (c Checkpoint) ToModel() (*Softmax, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	weights := make([]vector.Vector, len(c.Weights))
	for i, row := range c.Weights {
		weights[i] = vector.FromData(row)
	}
	return &Softmax{
		weights: weights,
		bias:    vector.FromData(c.Bias),
		epoch:   c.Epoch,
	}, nil
}

// Marshal encodes the checkpoint document. JSON has no encoding for NaN or
// Inf, so a diverged model fails with ErrNonFinite.
func (c Checkpoint) Marshal() ([]byte, error) {
	if err := c.checkFinite(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

func (c Checkpoint) checkFinite() error {
	for i, row := range c.Weights {
		for j, w := range row {
			if isNonFinite(w) {
				return fmt.Errorf("%w: weight [%d][%d] is %v", ErrNonFinite, i, j, w)
			}
		}
	}
	for i, b := range c.Bias {
		if isNonFinite(b) {
			return fmt.Errorf("%w: bias [%d] is %v", ErrNonFinite, i, b)
		}
	}
	return nil
}

func isNonFinite(v float32) bool {
	f := float64(v)
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// Unmarshal decodes and validates a checkpoint document.
func Unmarshal(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrMalformedCheckpoint, err)
	}
	if err := c.Validate(); err != nil {
		return Checkpoint{}, err
	}
	return c, nil
}

// DumpString returns the checkpoint document for m.
func DumpString(m *Softmax) (string, error) {
	data, err := FromModel(m).Marshal()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LoadString rebuilds a model from a checkpoint document.
func LoadString(doc string) (*Softmax, error) {
	c, err := Unmarshal([]byte(doc))
	if err != nil {
		return nil, err
	}
	return c.ToModel()
}

// SaveFile writes the checkpoint for m to path. The document is written to a
// temporary file in the same directory and renamed into place. A model with
// NaN or Inf parameters is rejected with ErrNonFinite and path is untouched.
func SaveFile(path string, m *Softmax) error {
	data, err := FromModel(m).Marshal()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a checkpoint document from path and rebuilds the model.
func LoadFile(path string) (*Softmax, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	return c.ToModel()
}
