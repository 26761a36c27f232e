package nn

import (
	"fmt"

	"github.com/samcharles93/quanta/internal/tensor"
)

// Linear is a full-precision dense layer: y = x @ W^T + b.
type Linear struct {
	W tensor.Mat // (out, in)
	B []float32  // (out) or nil
}

// NewLinear builds a layer with reproducible random weights in (-1, 1) and,
// when bias is set, a random bias in (-0.5, 0.5).
func NewLinear(in, out int, bias bool, seed int64) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("%w: linear %dx%d", ErrShapeMismatch, out, in)
	}
	l := &Linear{W: tensor.NewMat(out, in)}
	tensor.FillRand(&l.W, seed, 2)
	if bias {
		b := tensor.NewMat(1, out)
		tensor.FillRand(&b, seed+1, 1)
		l.B = b.Data
	}
	return l, nil
}

// NewLinearFrom wraps existing weights (out, in) and an optional bias.
func NewLinearFrom(w tensor.Mat, bias []float32) (*Linear, error) {
	if w.R <= 0 || w.C <= 0 {
		return nil, fmt.Errorf("%w: empty weight matrix", ErrShapeMismatch)
	}
	if bias != nil && len(bias) != w.R {
		return nil, fmt.Errorf("%w: bias has %d values for %d outputs", ErrShapeMismatch, len(bias), w.R)
	}
	return &Linear{W: w, B: bias}, nil
}

func (l *Linear) InFeatures() int       { return l.W.C }
func (l *Linear) OutFeatures() int      { return l.W.R }
func (l *Linear) HasBias() bool         { return l.B != nil }
func (l *Linear) Weights() tensor.Mat   { return l.W }
func (l *Linear) BiasVector() []float32 { return l.B }

// Forward computes x @ W^T + b.
func (l *Linear) Forward(x tensor.Mat) (tensor.Mat, error) {
	y, err := tensor.MatMulT(x, l.W)
	if err != nil {
		return tensor.Mat{}, err
	}
	if l.B != nil {
		for i := 0; i < y.R; i++ {
			tensor.AddVec(y.Row(i), l.B)
		}
	}
	return y, nil
}
