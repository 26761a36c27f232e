package tensor

import (
	"fmt"
	"math/rand"
)

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively. Stride is the
// number of elements between the starts of two consecutive rows (for row‑major
// matrices this is equal to C). Data holds the flattened matrix values.
//
// Linear layers store their weights as a Mat of shape (out_features,
// in_features); activations flow through them as (batch, features).
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, fmt.Errorf("%w: %d values for %dx%d matrix", ErrShapeMismatch, len(data), r, c)
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}, nil
}

// Row returns a view of the i‑th row of the matrix as a slice. The slice
// has length equal to the number of columns. Modifications to the returned
// slice update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// Clone returns a compact deep copy of m.
func (m Mat) Clone() Mat {
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// Tensor returns m as a rank-2 tensor. The data is copied when m is strided.
func (m Mat) Tensor() *Tensor {
	if m.Stride != m.C {
		m = m.Clone()
	}
	return &Tensor{shape: []int{m.R, m.C}, data: m.Data}
}

// Mat returns a rank-2 tensor as a matrix sharing the same data. Rank-1
// tensors are treated as a single row.
func (t *Tensor) Mat() (Mat, error) {
	switch len(t.shape) {
	case 1:
		return NewMatFromData(1, t.shape[0], t.data)
	case 2:
		return NewMatFromData(t.shape[0], t.shape[1], t.data)
	default:
		return Mat{}, fmt.Errorf("%w: rank %d tensor is not a matrix", ErrShapeMismatch, len(t.shape))
	}
}

// FillRand fills the matrix with reproducible pseudo‑random values in
// (-scale/2, scale/2). The seed controls the random sequence; multiple calls
// with the same seed produce identical matrices.
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = (rng.Float32() - 0.5) * scale
		}
	}
}

var errNegativeDim = fmtError("negative dimension for matrix")

type fmtError string

func (e fmtError) Error() string { return string(e) }
