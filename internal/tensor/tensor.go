package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when two shapes cannot be combined, either
// because they are not broadcast compatible or because a reshape would change
// the number of elements.
var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor is a dense row-major n-dimensional array of float32 values.
//
// Operations on a Tensor never modify the receiver unless the method name says
// so; they allocate and return a new Tensor.
type Tensor struct {
	shape []int
	data  []float32
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: cloneInts(shape), data: make([]float32, n)}, nil
}

// FromData wraps data in a tensor of the given shape. The slice is not copied.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Tensor{shape: cloneInts(shape), data: data}, nil
}

// MustFromData is like FromData but panics on error. Intended for tests and
// literals.
func MustFromData(data []float32, shape ...int) *Tensor {
	t, err := FromData(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// Scalar returns a rank-1 tensor with a single element. It broadcasts against
// any shape.
func Scalar(v float32) *Tensor {
	return &Tensor{shape: []int{1}, data: []float32{v}}
}

// Full returns a tensor of the given shape with every element set to v.
func Full(v float32, shape ...int) (*Tensor, error) {
	t, err := New(shape...)
	if err != nil {
		return nil, err
	}
	for i := range t.data {
		t.data[i] = v
	}
	return t, nil
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return cloneInts(t.shape) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the extent of axis i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns the backing slice. Writes through it modify the tensor.
func (t *Tensor) Data() []float32 { return t.data }

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float32 {
	if len(idx) != len(t.shape) {
		panic("tensor: index rank mismatch")
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic("tensor: index out of range")
		}
		off = off*t.shape[i] + v
	}
	return t.data[off]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: cloneInts(t.shape), data: data}
}

// Reshape returns a view with a new shape sharing the same data. A single -1
// extent is inferred from the element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	shape = cloneInts(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer == -1:
			infer = i
		case d <= 0:
			return nil, fmt.Errorf("%w: invalid reshape %v", ErrShapeMismatch, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShapeMismatch, t.shape, shape)
		}
		shape[infer] = len(t.data) / known
		known *= shape[infer]
	}
	if known != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShapeMismatch, t.shape, shape)
	}
	return &Tensor{shape: shape, data: t.data}, nil
}

// Slice fixes axis to index and returns the remaining sub-tensor as a copy.
// Slicing a rank-1 tensor yields a single-element tensor of shape [1].
func (t *Tensor) Slice(axis, index int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.shape) {
		return nil, fmt.Errorf("%w: axis %d out of range for rank %d", ErrShapeMismatch, axis, len(t.shape))
	}
	if index < 0 || index >= t.shape[axis] {
		return nil, fmt.Errorf("%w: index %d out of range for axis %d (extent %d)", ErrShapeMismatch, index, axis, t.shape[axis])
	}
	outer := 1
	for _, d := range t.shape[:axis] {
		outer *= d
	}
	inner := 1
	for _, d := range t.shape[axis+1:] {
		inner *= d
	}
	out := make([]float32, 0, outer*inner)
	for o := 0; o < outer; o++ {
		start := (o*t.shape[axis] + index) * inner
		out = append(out, t.data[start:start+inner]...)
	}
	shape := make([]int, 0, len(t.shape)-1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, t.shape[axis+1:]...)
	if len(shape) == 0 {
		shape = []int{1}
	}
	return &Tensor{shape: shape, data: out}, nil
}

// Min returns the smallest element.
func (t *Tensor) Min() float32 {
	m := float32(math.Inf(1))
	for _, v := range t.data {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest element.
func (t *Tensor) Max() float32 {
	m := float32(math.Inf(-1))
	for _, v := range t.data {
		if v > m {
			m = v
		}
	}
	return m
}

// AbsMax returns max(|x|) over all elements.
func (t *Tensor) AbsMax() float32 {
	return absMax(t.data)
}

// Mean returns the arithmetic mean, accumulated in float64.
func (t *Tensor) Mean() float64 {
	if len(t.data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.data {
		sum += float64(v)
	}
	return sum / float64(len(t.data))
}

// Map applies fn to every element and returns the result.
func (t *Tensor) Map(fn func(float32) float32) *Tensor {
	out := make([]float32, len(t.data))
	for i, v := range t.data {
		out[i] = fn(v)
	}
	return &Tensor{shape: cloneInts(t.shape), data: out}
}

// Abs returns |t| element-wise.
func (t *Tensor) Abs() *Tensor {
	return t.Map(func(v float32) float32 { return float32(math.Abs(float64(v))) })
}

// Square returns t*t element-wise.
func (t *Tensor) Square() *Tensor {
	return t.Map(func(v float32) float32 { return v * v })
}

// Equal reports whether both tensors have the same shape and elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if !sameShape(t.shape, o.shape) {
		return false
	}
	for i := range t.data {
		if t.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v%v", t.shape, t.data)
}

func absMax(xs []float32) float32 {
	var m float32
	for _, v := range xs {
		if v < 0 {
			v = -v
		}
		if v > m {
			m = v
		}
	}
	return m
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: invalid dim %d", ErrShapeMismatch, d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("%w: tensor too large", ErrShapeMismatch)
		}
		n *= d
	}
	return n, nil
}

func cloneInts(xs []int) []int {
	out := make([]int, len(xs))
	copy(out, xs)
	return out
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
