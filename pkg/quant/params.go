package quant

import (
	"fmt"
	"math"
	"strings"

	"github.com/samcharles93/quanta/internal/tensor"
)

// DefaultBits is the integer width used when none is configured.
const DefaultBits = 8

// MinScale is the scale substituted for a degenerate range under the Epsilon
// policy.
const MinScale = 1e-8

const (
	minBits = 2
	maxBits = 16
)

// DegeneratePolicy selects what happens when a scale cannot be derived from
// the input range.
type DegeneratePolicy uint8

const (
	// Fail returns ErrDegenerateRange.
	Fail DegeneratePolicy = iota
	// Epsilon substitutes MinScale and carries on.
	Epsilon
)

func (p DegeneratePolicy) String() string {
	if p == Epsilon {
		return "epsilon"
	}
	return "fail"
}

// ParsePolicy accepts "fail" (or empty) and "epsilon".
func ParsePolicy(s string) (DegeneratePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail", "error":
		return Fail, nil
	case "epsilon", "eps", "clamp":
		return Epsilon, nil
	default:
		return Fail, fmt.Errorf("unknown degenerate policy %q (want fail or epsilon)", s)
	}
}

// Range returns the signed integer range [-2^(bits-1), 2^(bits-1)-1].
func Range(bits int) (qmin, qmax int32, err error) {
	if bits < minBits || bits > maxBits {
		return 0, 0, fmt.Errorf("%w: %d bits (supported %d..%d)", ErrUnsupportedWidth, bits, minBits, maxBits)
	}
	qmax = int32(1)<<(bits-1) - 1
	return -qmax - 1, qmax, nil
}

// Params are per-tensor quantization parameters.
type Params struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
	Bits      int     `json:"bits"`
}

// AffineParams derives an asymmetric scale and zero point from the range of t:
//
//	scale = (rmax - rmin) / (qmax - qmin)
//	zp    = qmin - rmin/scale, clamped to [qmin, qmax], otherwise rounded
//
// The round-trip bound |t - deq| <= scale holds only while the unclamped zero
// point lies in [qmin, qmax]. A range far from zero, such as [100, 102],
// clamps the zero point and the reconstruction error grows with the offset.
func AffineParams(t *tensor.Tensor, bits int, policy DegeneratePolicy) (Params, error) {
	qmin, qmax, err := Range(bits)
	if err != nil {
		return Params{}, err
	}
	rmin, rmax := float64(t.Min()), float64(t.Max())
	// The guard runs on the stored float32 so tiny ranges cannot underflow
	// to a zero scale.
	scale := float64(float32((rmax - rmin) / float64(qmax-qmin)))
	if !(scale > 0) || math.IsInf(scale, 0) {
		if policy != Epsilon {
			return Params{}, newRangeError(ModeAffine, float32(rmin), float32(rmax))
		}
		// A constant tensor: size the step so the constant itself is
		// representable at one end of the range.
		scale = float64(float32(max(math.Abs(rmin)/float64(qmax), MinScale)))
	}

	zp := float64(qmin) - rmin/scale
	var zeroPoint int32
	switch {
	case zp < float64(qmin):
		zeroPoint = qmin
	case zp > float64(qmax):
		zeroPoint = qmax
	default:
		zeroPoint = int32(math.RoundToEven(zp))
	}
	return Params{Scale: float32(scale), ZeroPoint: zeroPoint, Bits: bits}, nil
}

// SymmetricParams derives scale = max|t| / qmax with a zero point of 0.
func SymmetricParams(t *tensor.Tensor, bits int, policy DegeneratePolicy) (Params, error) {
	_, qmax, err := Range(bits)
	if err != nil {
		return Params{}, err
	}
	scale, err := symmetricScale(t.AbsMax(), qmax, policy)
	if err != nil {
		return Params{}, err
	}
	return Params{Scale: scale, Bits: bits}, nil
}

func symmetricScale(absMax float32, qmax int32, policy DegeneratePolicy) (float32, error) {
	scale := float32(float64(absMax) / float64(qmax))
	if !(scale > 0) || math.IsInf(float64(scale), 0) {
		if policy != Epsilon {
			return 0, newRangeError(ModeSymmetric, 0, absMax)
		}
		return MinScale, nil
	}
	return scale, nil
}

// ChannelParams hold one symmetric scale per index along Axis. Scales has
// extent 1 on every other axis so it broadcasts against the quantized tensor.
type ChannelParams struct {
	Axis   int            `json:"axis"`
	Bits   int            `json:"bits"`
	Scales *tensor.Tensor `json:"scales"`
}

// ChannelSymmetricParams applies SymmetricParams to every slice of t obtained
// by fixing axis to each of its indices in turn.
func ChannelSymmetricParams(t *tensor.Tensor, axis, bits int, policy DegeneratePolicy) (ChannelParams, error) {
	if _, _, err := Range(bits); err != nil {
		return ChannelParams{}, err
	}
	if axis < 0 || axis >= t.Rank() {
		return ChannelParams{}, fmt.Errorf("%w: axis %d for rank %d tensor", ErrShapeMismatch, axis, t.Rank())
	}

	n := t.Dim(axis)
	scales := make([]float32, n)
	for i := range n {
		sub, err := t.Slice(axis, i)
		if err != nil {
			return ChannelParams{}, err
		}
		p, err := SymmetricParams(sub, bits, policy)
		if err != nil {
			return ChannelParams{}, fmt.Errorf("channel %d: %w", i, err)
		}
		scales[i] = p.Scale
	}

	shape := make([]int, t.Rank())
	for i := range shape {
		shape[i] = 1
	}
	shape[axis] = n
	st, err := tensor.FromData(scales, shape...)
	if err != nil {
		return ChannelParams{}, err
	}
	return ChannelParams{Axis: axis, Bits: bits, Scales: st}, nil
}

// ScaleSlice returns the scales as a flat slice, one per channel.
func (p ChannelParams) ScaleSlice() []float32 {
	return p.Scales.Data()
}
