package tensor

import "fmt"

// BroadcastShapes returns the shape obtained by broadcasting a against b.
// Shapes are aligned on their trailing axes; each pair of extents must be equal
// or one of them must be 1.
func BroadcastShapes(a, b []int) ([]int, error) {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		case db == 1:
			out[n-i] = da
		default:
			return nil, fmt.Errorf("%w: %v and %v are not broadcastable", ErrShapeMismatch, a, b)
		}
	}
	return out, nil
}

// BroadcastTo expands t to shape. Unlike BroadcastShapes the target shape is
// fixed: t may only grow along axes where it has extent 1.
func (t *Tensor) BroadcastTo(shape ...int) (*Tensor, error) {
	if _, err := numElements(shape); err != nil {
		return nil, err
	}
	if len(t.shape) > len(shape) {
		return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShapeMismatch, t.shape, shape)
	}
	if sameShape(t.shape, shape) {
		return t, nil
	}
	// Source strides aligned to the target rank, zero on broadcast axes.
	strides := make([]int, len(shape))
	pad := len(shape) - len(t.shape)
	stride := 1
	for i := len(t.shape) - 1; i >= 0; i-- {
		d := t.shape[i]
		switch {
		case d == shape[pad+i]:
			strides[pad+i] = stride
		case d == 1:
			strides[pad+i] = 0
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShapeMismatch, t.shape, shape)
		}
		stride *= d
	}

	out, _ := New(shape...)
	idx := make([]int, len(shape))
	src := 0
	for i := range out.data {
		out.data[i] = t.data[src]
		// Advance the multi-index like an odometer, keeping src in step.
		for ax := len(shape) - 1; ax >= 0; ax-- {
			idx[ax]++
			src += strides[ax]
			if idx[ax] < shape[ax] {
				break
			}
			src -= strides[ax] * idx[ax]
			idx[ax] = 0
		}
	}
	return out, nil
}

// Zip broadcasts a and b against each other and combines them element-wise.
func Zip(a, b *Tensor, fn func(x, y float32) float32) (*Tensor, error) {
	shape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	ea, err := a.BroadcastTo(shape...)
	if err != nil {
		return nil, err
	}
	eb, err := b.BroadcastTo(shape...)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(ea.data))
	for i := range out {
		out[i] = fn(ea.data[i], eb.data[i])
	}
	return &Tensor{shape: shape, data: out}, nil
}

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return Zip(a, b, func(x, y float32) float32 { return x + y })
}

// Sub returns a - b with broadcasting.
func Sub(a, b *Tensor) (*Tensor, error) {
	return Zip(a, b, func(x, y float32) float32 { return x - y })
}

// Mul returns a * b with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return Zip(a, b, func(x, y float32) float32 { return x * y })
}

// Div returns a / b with broadcasting. Division by zero follows IEEE rules.
func Div(a, b *Tensor) (*Tensor, error) {
	return Zip(a, b, func(x, y float32) float32 { return x / y })
}
