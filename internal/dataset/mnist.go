package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"mnist-forge/internal/vector"
)

// ErrTruncated indicates the raw dataset is shorter than its layout requires.
var ErrTruncated = errors.New("dataset: truncated input")

// Layout describes the packed blob: train images, train labels, test images
// and test labels stored back to back, one byte per pixel and per label.
type Layout struct {
	TrainSize int
	TestSize  int
	Features  int
	Classes   int
}

// DefaultLayout is the 60k/10k split of 28x28 digits.
var DefaultLayout = Layout{
	TrainSize: 60000,
	TestSize:  10000,
	Features:  28 * 28,
	Classes:   10,
}

// Size returns the number of bytes the layout occupies.
func (l Layout) Size() int {
	return (l.TrainSize+l.TestSize)*l.Features + l.TrainSize + l.TestSize
}

func (l Layout) validate() error {
	if l.TrainSize < 0 || l.TestSize < 0 {
		return fmt.Errorf("dataset: negative split sizes %d/%d", l.TrainSize, l.TestSize)
	}
	if l.Features <= 0 || l.Classes <= 0 {
		return fmt.Errorf("dataset: features and classes must be > 0 (got %d, %d)", l.Features, l.Classes)
	}
	return nil
}

// Set holds normalised features and one-hot targets for both splits.
type Set struct {
	TrainX []vector.Vector
	TrainY []vector.Vector
	TestX  []vector.Vector
	TestY  []vector.Vector
}

// Limit truncates the splits to at most train and test examples. Non-positive
// limits leave a split untouched.
func (s *Set) Limit(train, test int) {
	if train > 0 && train < len(s.TrainX) {
		s.TrainX = s.TrainX[:train]
		s.TrainY = s.TrainY[:train]
	}
	if test > 0 && test < len(s.TestX) {
		s.TestX = s.TestX[:test]
		s.TestY = s.TestY[:test]
	}
}

// OneHot encodes label over classes.
func OneHot(label, classes int) (vector.Vector, error) {
	if label < 0 || label >= classes {
		return vector.Vector{}, fmt.Errorf("dataset: label %d outside [0,%d)", label, classes)
	}
	v, err := vector.Zeros(classes)
	if err != nil {
		return vector.Vector{}, err
	}
	if err := v.Set(label, 1); err != nil {
		return vector.Vector{}, err
	}
	return v, nil
}

func normalise(pixels []byte) vector.Vector {
	out := make([]float32, len(pixels))
	for i, p := range pixels {
		out[i] = float32(p) / 255
	}
	return vector.FromData(out)
}

func decodeImages(raw []byte, count, features int) []vector.Vector {
	out := make([]vector.Vector, count)
	for i := range out {
		start := i * features
		out[i] = normalise(raw[start : start+features])
	}
	return out
}

func decodeLabels(raw []byte, count, classes int) ([]vector.Vector, error) {
	out := make([]vector.Vector, count)
	for i := range out {
		v, err := OneHot(int(raw[i]), classes)
		if err != nil {
			return nil, fmt.Errorf("label %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Decode splits a packed blob according to layout.
func Decode(raw []byte, layout Layout) (*Set, error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}
	if len(raw) < layout.Size() {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrTruncated, len(raw), layout.Size())
	}
	trainXOff := 0
	trainYOff := trainXOff + layout.TrainSize*layout.Features
	testXOff := trainYOff + layout.TrainSize
	testYOff := testXOff + layout.TestSize*layout.Features

	set := &Set{
		TrainX: decodeImages(raw[trainXOff:trainYOff], layout.TrainSize, layout.Features),
		TestX:  decodeImages(raw[testXOff:testYOff], layout.TestSize, layout.Features),
	}
	var err error
	if set.TrainY, err = decodeLabels(raw[trainYOff:testXOff], layout.TrainSize, layout.Classes); err != nil {
		return nil, fmt.Errorf("train %w", err)
	}
	if set.TestY, err = decodeLabels(raw[testYOff:], layout.TestSize, layout.Classes); err != nil {
		return nil, fmt.Errorf("test %w", err)
	}
	return set, nil
}

func readGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return data, nil
}

// LoadGzip reads a gzip-compressed packed blob from path.
func LoadGzip(path string, layout Layout) (*Set, error) {
	raw, err := readGzip(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw, layout)
}
