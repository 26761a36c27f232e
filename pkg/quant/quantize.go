package quant

import (
	"fmt"
	"math"

	"github.com/samcharles93/quanta/internal/tensor"
)

// Tensor is a quantized tensor: signed integers of width Bits laid out
// row-major with the shape of the real tensor they were derived from. Values
// are held in int32 regardless of width.
type Tensor struct {
	shape []int
	Data  []int32
	Bits  int
}

// NewTensor wraps integer data, validating shape and range.
func NewTensor(data []int32, bits int, shape ...int) (*Tensor, error) {
	qmin, qmax, err := Range(bits)
	if err != nil {
		return nil, err
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("%w: invalid dim %d", ErrShapeMismatch, d)
		}
		n *= d
	}
	if len(shape) == 0 || n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	for i, v := range data {
		if v < qmin || v > qmax {
			return nil, fmt.Errorf("element %d: %d outside [%d, %d]", i, v, qmin, qmax)
		}
	}
	return &Tensor{shape: append([]int(nil), shape...), Data: data, Bits: bits}, nil
}

// Shape returns a copy of the shape.
func (q *Tensor) Shape() []int { return append([]int(nil), q.shape...) }

// Len returns the number of elements.
func (q *Tensor) Len() int { return len(q.Data) }

// Reshape returns a view with a new shape. A single -1 extent is inferred.
func (q *Tensor) Reshape(shape ...int) (*Tensor, error) {
	view, err := q.Real().Reshape(shape...)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: view.Shape(), Data: q.Data, Bits: q.Bits}, nil
}

// Real widens the integers to float32 without rescaling.
func (q *Tensor) Real() *tensor.Tensor {
	out := make([]float32, len(q.Data))
	for i, v := range q.Data {
		out[i] = float32(v)
	}
	t, _ := tensor.FromData(out, q.shape...)
	return t
}

// Int8 narrows the storage to int8. It fails when Bits > 8.
func (q *Tensor) Int8() ([]int8, error) {
	if q.Bits > 8 {
		return nil, fmt.Errorf("%w: %d-bit tensor does not fit int8", ErrUnsupportedWidth, q.Bits)
	}
	out := make([]int8, len(q.Data))
	for i, v := range q.Data {
		out[i] = int8(v)
	}
	return out, nil
}

// Quantize maps t to integers of the given width:
//
//	q = clamp(round(t/scale + zeroPoint), qmin, qmax)
//
// scale and zeroPoint must broadcast to t's shape without growing it; pass
// tensor.Scalar for per-tensor parameters. Rounding is half to even.
func Quantize(t, scale, zeroPoint *tensor.Tensor, bits int) (*Tensor, error) {
	qmin, qmax, err := Range(bits)
	if err != nil {
		return nil, err
	}
	shape := t.Shape()
	s, err := scale.BroadcastTo(shape...)
	if err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	z, err := zeroPoint.BroadcastTo(shape...)
	if err != nil {
		return nil, fmt.Errorf("zero point: %w", err)
	}

	src, sd, zd := t.Data(), s.Data(), z.Data()
	out := make([]int32, len(src))
	for i, v := range src {
		out[i] = clampRound(float64(v)/float64(sd[i])+float64(zd[i]), qmin, qmax)
	}
	return &Tensor{shape: shape, Data: out, Bits: bits}, nil
}

// Dequantize reconstructs scale * (q - zeroPoint) with broadcasting.
func Dequantize(q *Tensor, scale, zeroPoint *tensor.Tensor) (*tensor.Tensor, error) {
	shape := q.Shape()
	s, err := scale.BroadcastTo(shape...)
	if err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	z, err := zeroPoint.BroadcastTo(shape...)
	if err != nil {
		return nil, fmt.Errorf("zero point: %w", err)
	}
	sd, zd := s.Data(), z.Data()
	out := make([]float32, len(q.Data))
	for i, v := range q.Data {
		out[i] = sd[i] * (float32(v) - zd[i])
	}
	return tensor.FromData(out, shape...)
}

// Quantize applies per-tensor parameters to t.
func (p Params) Quantize(t *tensor.Tensor) (*Tensor, error) {
	return Quantize(t, tensor.Scalar(p.Scale), tensor.Scalar(float32(p.ZeroPoint)), p.Bits)
}

// Dequantize reverses Quantize for per-tensor parameters.
func (p Params) Dequantize(q *Tensor) (*tensor.Tensor, error) {
	return Dequantize(q, tensor.Scalar(p.Scale), tensor.Scalar(float32(p.ZeroPoint)))
}

// Quantize applies per-channel scales to t with a zero point of 0.
func (p ChannelParams) Quantize(t *tensor.Tensor) (*Tensor, error) {
	return Quantize(t, p.Scales, tensor.Scalar(0), p.Bits)
}

// Dequantize reverses Quantize for per-channel parameters.
func (p ChannelParams) Dequantize(q *Tensor) (*tensor.Tensor, error) {
	return Dequantize(q, p.Scales, tensor.Scalar(0))
}

// QuantizeAffine derives affine parameters from t and quantizes it.
func QuantizeAffine(t *tensor.Tensor, bits int, policy DegeneratePolicy) (*Tensor, Params, error) {
	p, err := AffineParams(t, bits, policy)
	if err != nil {
		return nil, Params{}, err
	}
	q, err := p.Quantize(t)
	return q, p, err
}

// QuantizeSymmetric derives symmetric parameters from t and quantizes it.
func QuantizeSymmetric(t *tensor.Tensor, bits int, policy DegeneratePolicy) (*Tensor, Params, error) {
	p, err := SymmetricParams(t, bits, policy)
	if err != nil {
		return nil, Params{}, err
	}
	q, err := p.Quantize(t)
	return q, p, err
}

// QuantizeChannel derives per-channel symmetric scales along axis and
// quantizes t.
func QuantizeChannel(t *tensor.Tensor, axis, bits int, policy DegeneratePolicy) (*Tensor, ChannelParams, error) {
	p, err := ChannelSymmetricParams(t, axis, bits, policy)
	if err != nil {
		return nil, ChannelParams{}, err
	}
	q, err := p.Quantize(t)
	return q, p, err
}

// RoundClamp rounds v half to even and clamps it to [qmin, qmax]. NaN maps to
// zero clamped into range.
func RoundClamp(v float64, qmin, qmax int32) int32 {
	return clampRound(v, qmin, qmax)
}

func clampRound(v float64, qmin, qmax int32) int32 {
	if math.IsNaN(v) {
		v = 0
	}
	r := math.RoundToEven(v)
	if r < float64(qmin) {
		return qmin
	}
	if r > float64(qmax) {
		return qmax
	}
	return int32(r)
}
