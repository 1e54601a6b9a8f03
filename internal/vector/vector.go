package vector

import (
	"errors"
	"fmt"
	"math"

	"github.com/viant/vec/search"
	"gonum.org/v1/gonum/blas/blas32"
)

var (
	// ErrConstruction indicates a vector was requested with neither data nor size,
	// or with both but disagreeing on length.
	ErrConstruction = errors.New("vector: invalid construction")
	// ErrShapeMismatch indicates two operands have different lengths.
	ErrShapeMismatch = errors.New("vector: shape mismatch")
	// ErrIndexOutOfRange indicates an element access beyond the vector bounds.
	ErrIndexOutOfRange = errors.New("vector: index out of range")
	// ErrEmpty indicates a reduction that is undefined on an empty vector.
	ErrEmpty = errors.New("vector: empty vector")
)

// Vector is a fixed-length dense float32 buffer. Arithmetic never mutates the
// operands; every operation returns a freshly allocated Vector. Set is the only
// in-place mutation.
type Vector struct {
	data []float32
}

// FromData builds a vector holding a copy of data.
func FromData(data []float32) Vector {
	out := make([]float32, len(data))
	copy(out, data)
	return Vector{data: out}
}

// Zeros builds a zero-filled vector of the given size.
func Zeros(size int) (Vector, error) {
	if size < 0 {
		return Vector{}, fmt.Errorf("%w: negative size %d", ErrConstruction, size)
	}
	return Vector{data: make([]float32, size)}, nil
}

// New validates the data-or-size form. A nil data slice means "data not given"
// and a negative size means "size not given".
func New(data []float32, size int) (Vector, error) {
	switch {
	case data == nil && size < 0:
		return Vector{}, fmt.Errorf("%w: either data or size must be provided", ErrConstruction)
	case data != nil && size >= 0 && len(data) != size:
		return Vector{}, fmt.Errorf("%w: data length %d does not match size %d", ErrConstruction, len(data), size)
	case data != nil:
		return FromData(data), nil
	default:
		return Zeros(size)
	}
}

// Len returns the number of elements.
func (v Vector) Len() int {
	return len(v.data)
}

// Data returns a copy of the underlying elements.
func (v Vector) Data() []float32 {
	out := make([]float32, len(v.data))
	copy(out, v.data)
	return out
}

// At returns the element at index i.
func (v Vector) At(i int) (float32, error) {
	if i < 0 || i >= len(v.data) {
		return 0, fmt.Errorf("%w: index %d, len %d", ErrIndexOutOfRange, i, len(v.data))
	}
	return v.data[i], nil
}

// Set writes value at index i in place.
func (v *Vector) Set(i int, value float32) error {
	if i < 0 || i >= len(v.data) {
		return fmt.Errorf("%w: index %d, len %d", ErrIndexOutOfRange, i, len(v.data))
	}
	v.data[i] = value
	return nil
}

func (v Vector) sameShape(other Vector) error {
	if len(v.data) != len(other.data) {
		return fmt.Errorf("%w: %d vs %d", ErrShapeMismatch, len(v.data), len(other.data))
	}
	return nil
}

func (v Vector) zip(other Vector, op func(a, b float32) float32) (Vector, error) {
	if err := v.sameShape(other); err != nil {
		return Vector{}, err
	}
	out := make([]float32, len(v.data))
	for i := range v.data {
		out[i] = op(v.data[i], other.data[i])
	}
	return Vector{data: out}, nil
}

func (v Vector) apply(op func(a float32) float32) Vector {
	out := make([]float32, len(v.data))
	for i, a := range v.data {
		out[i] = op(a)
	}
	return Vector{data: out}
}

// Multiply returns the elementwise product.
func (v Vector) Multiply(other Vector) (Vector, error) {
	return v.zip(other, func(a, b float32) float32 { return a * b })
}

// Divide returns the elementwise quotient. Division by zero yields Inf or NaN.
func (v Vector) Divide(other Vector) (Vector, error) {
	return v.zip(other, func(a, b float32) float32 { return a / b })
}

// Add returns the elementwise sum.
func (v Vector) Add(other Vector) (Vector, error) {
	return v.zip(other, func(a, b float32) float32 { return a + b })
}

// Subtract returns the elementwise difference.
func (v Vector) Subtract(other Vector) (Vector, error) {
	return v.zip(other, func(a, b float32) float32 { return a - b })
}

// MultiplyScalar scales every element by s.
func (v Vector) MultiplyScalar(s float32) Vector {
	return v.apply(func(a float32) float32 { return a * s })
}

// DivideScalar divides every element by s.
func (v Vector) DivideScalar(s float32) Vector {
	return v.apply(func(a float32) float32 { return a / s })
}

// AddScalar adds s to every element.
func (v Vector) AddScalar(s float32) Vector {
	return v.apply(func(a float32) float32 { return a + s })
}

// SubtractScalar subtracts s from every element.
func (v Vector) SubtractScalar(s float32) Vector {
	return v.apply(func(a float32) float32 { return a - s })
}

// Dot returns the sum of elementwise products.
func (v Vector) Dot(other Vector) (float32, error) {
	if err := v.sameShape(other); err != nil {
		return 0, err
	}
	if len(v.data) == 0 {
		return 0, nil
	}
	x := blas32.Vector{N: len(v.data), Data: v.data, Inc: 1}
	y := blas32.Vector{N: len(other.data), Data: other.data, Inc: 1}
	return blas32.Dot(x, y), nil
}

// Exp applies the natural exponential to every element.
func (v Vector) Exp() Vector {
	return v.apply(func(a float32) float32 { return float32(math.Exp(float64(a))) })
}

// Clamp limits every element to [lo, hi].
func (v Vector) Clamp(lo, hi float32) Vector {
	return v.apply(func(a float32) float32 {
		if a < lo {
			return lo
		}
		if a > hi {
			return hi
		}
		return a
	})
}

// Sum returns the total of all elements.
func (v Vector) Sum() float32 {
	var sum float32
	for _, a := range v.data {
		sum += a
	}
	return sum
}

// Argmax returns the index of the first occurrence of the largest element.
func (v Vector) Argmax() (int, error) {
	if len(v.data) == 0 {
		return 0, fmt.Errorf("%w: argmax", ErrEmpty)
	}
	best := 0
	for i, a := range v.data {
		if a > v.data[best] {
			best = i
		}
	}
	return best, nil
}

// Norm returns the Euclidean magnitude.
func (v Vector) Norm() float32 {
	if len(v.data) == 0 {
		return 0
	}
	return search.Float32s(v.data).Magnitude()
}

// Distance returns the Euclidean distance to other.
func (v Vector) Distance(other Vector) (float32, error) {
	if err := v.sameShape(other); err != nil {
		return 0, err
	}
	if len(v.data) == 0 {
		return 0, nil
	}
	return search.Float32s(v.data).EuclideanDistance(other.data), nil
}

// Equal reports whether both vectors have the same length and every element
// differs by at most tol.
func (v Vector) Equal(other Vector, tol float32) bool {
	if len(v.data) != len(other.data) {
		return false
	}
	for i := range v.data {
		d := v.data[i] - other.data[i]
		if d < 0 {
			d = -d
		}
		if d > tol || d != d {
			return false
		}
	}
	return true
}
