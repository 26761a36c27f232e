package nn

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/pkg/quant"
)

// weightBits is the storage width of QuantizedLinear weights.
const weightBits = 8

// QuantizedLinear is a W8A16 dense layer. Weights are stored as int8 with one
// symmetric scale per output feature; activations, scales and bias are held at
// the working precision DType.
//
// A new layer is uninitialized. Forward fails with ErrNotQuantized until
// Quantize has been called with real weights.
type QuantizedLinear struct {
	in, out int
	dtype   tensor.DType
	hasBias bool

	// Policy decides what happens to an all-zero weight row.
	Policy quant.DegeneratePolicy

	weights   []int8    // (out, in) row-major
	scales    []float32 // (out)
	bias      []float32 // (out) or nil
	quantized bool
}

// NewQuantizedLinear returns an uninitialized layer.
func NewQuantizedLinear(in, out int, bias bool, dtype tensor.DType) (*QuantizedLinear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("%w: quantized linear %dx%d", ErrShapeMismatch, out, in)
	}
	return &QuantizedLinear{in: in, out: out, hasBias: bias, dtype: dtype}, nil
}

// NewQuantizedLinearFrom builds a layer from full-precision weights (out, in)
// and an optional bias, quantizing in one step.
func NewQuantizedLinearFrom(w tensor.Mat, bias []float32, dtype tensor.DType) (*QuantizedLinear, error) {
	q, err := NewQuantizedLinear(w.C, w.R, bias != nil, dtype)
	if err != nil {
		return nil, err
	}
	if err := q.Quantize(w); err != nil {
		return nil, err
	}
	if bias != nil {
		if err := q.SetBias(bias); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *QuantizedLinear) InFeatures() int     { return q.in }
func (q *QuantizedLinear) OutFeatures() int    { return q.out }
func (q *QuantizedLinear) HasBias() bool       { return q.hasBias }
func (q *QuantizedLinear) DType() tensor.DType { return q.dtype }
func (q *QuantizedLinear) Quantized() bool     { return q.quantized }

// Scales returns a copy of the per-row scales.
func (q *QuantizedLinear) Scales() []float32 {
	return append([]float32(nil), q.scales...)
}

// Bias returns a copy of the bias at working precision, or nil.
func (q *QuantizedLinear) Bias() []float32 {
	if q.bias == nil {
		return nil
	}
	return append([]float32(nil), q.bias...)
}

// Int8Weights returns a copy of the stored weights, row-major (out, in).
func (q *QuantizedLinear) Int8Weights() []int8 {
	return append([]int8(nil), q.weights...)
}

// Quantize replaces the stored weights with the per-row symmetric int8
// quantization of w:
//
//	scale[i] = max|w[i,:]| / 127
//	wq[i,j]  = round(w[i,j] / scale[i])
//
// Scales are rounded to the working precision before use; a scale that
// overflows it fails with ErrDegenerateRange. Rows are processed
// concurrently. On error the layer is left unchanged.
func (q *QuantizedLinear) Quantize(w tensor.Mat) error {
	if w.R != q.out || w.C != q.in {
		return fmt.Errorf("%w: weights %dx%d for layer %dx%d", ErrShapeMismatch, w.R, w.C, q.out, q.in)
	}
	qmin, qmax, err := quant.Range(weightBits)
	if err != nil {
		return err
	}

	weights := make([]int8, q.out*q.in)
	scales := make([]float32, q.out)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < q.out; i++ {
		g.Go(func() error {
			row := w.Row(i)
			scale := float32(float64(tensor.AbsMaxVec(row)) / float64(qmax))
			if !(scale > 0) || math.IsInf(float64(scale), 0) {
				if q.Policy != quant.Epsilon {
					return fmt.Errorf("row %d: %w", i, quant.ErrDegenerateRange)
				}
				scale = quant.MinScale
			}
			r := q.dtype.Round(scale)
			if math.IsInf(float64(r), 0) {
				return fmt.Errorf("row %d: scale %g overflows %s: %w", i, scale, q.dtype, quant.ErrDegenerateRange)
			}
			if r > 0 {
				scale = r
			}
			scales[i] = scale
			dst := weights[i*q.in : (i+1)*q.in]
			for j, v := range row {
				dst[j] = int8(quant.RoundClamp(float64(v)/float64(scale), qmin, qmax))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	q.weights = weights
	q.scales = scales
	q.quantized = true
	return nil
}

// SetBias installs the bias vector, rounded to the working precision. The
// layer keeps its own copy.
func (q *QuantizedLinear) SetBias(b []float32) error {
	if !q.hasBias {
		return fmt.Errorf("%w: layer was built without bias", ErrShapeMismatch)
	}
	if len(b) != q.out {
		return fmt.Errorf("%w: bias has %d values for %d outputs", ErrShapeMismatch, len(b), q.out)
	}
	bias := append([]float32(nil), b...)
	q.dtype.RoundInPlace(bias)
	q.bias = bias
	return nil
}

// Forward computes round(x) @ (wq)^T * scale + bias at the working precision.
func (q *QuantizedLinear) Forward(x tensor.Mat) (tensor.Mat, error) {
	if !q.quantized {
		return tensor.Mat{}, ErrNotQuantized
	}
	if x.C != q.in {
		return tensor.Mat{}, fmt.Errorf("%w: input has %d features, layer expects %d", ErrShapeMismatch, x.C, q.in)
	}
	xc := q.dtype.Cast(x)

	// Widen int8 weights for the float kernel.
	wf := tensor.NewMat(q.out, q.in)
	for i, v := range q.weights {
		wf.Data[i] = float32(v)
	}

	y, err := tensor.MatMulT(xc, wf)
	if err != nil {
		return tensor.Mat{}, err
	}
	for b := 0; b < y.R; b++ {
		row := y.Row(b)
		tensor.MulVec(row, q.scales)
		if q.bias != nil {
			tensor.AddVec(row, q.bias)
		}
	}
	q.dtype.RoundInPlace(y.Data)
	return y, nil
}

// Dequantized reconstructs the full-precision weights scale[i] * wq[i,:].
func (q *QuantizedLinear) Dequantized() (tensor.Mat, error) {
	if !q.quantized {
		return tensor.Mat{}, ErrNotQuantized
	}
	m := tensor.NewMat(q.out, q.in)
	for i := 0; i < q.out; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = q.scales[i] * float32(q.weights[i*q.in+j])
		}
	}
	return m, nil
}
