package tensor

import (
	"fmt"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is the floating-point working precision of activations, scales and
// biases. Values are always held in float32 slices; a narrower DType rounds
// them to the representable set of that format.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Bits returns the storage width of one element.
func (d DType) Bits() int {
	switch d {
	case F16, BF16:
		return 16
	default:
		return 32
	}
}

// ParseDType accepts the names printed by String plus the common long forms.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "float32", "fp32":
		return F32, nil
	case "f16", "float16", "fp16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	default:
		return F32, fmt.Errorf("unknown dtype %q (want f32, f16 or bf16)", s)
	}
}

// Round returns v as stored in this precision. f16 rounds to nearest even;
// bf16 truncates the low mantissa bits.
func (d DType) Round(v float32) float32 {
	switch d {
	case F16:
		return float16.Fromfloat32(v).Float32()
	case BF16:
		return bfloat16.DecodeFloat32(bfloat16.EncodeFloat32([]float32{v}))[0]
	default:
		return v
	}
}

// RoundInPlace rounds every element of xs to this precision.
func (d DType) RoundInPlace(xs []float32) {
	switch d {
	case F16:
		for i, v := range xs {
			xs[i] = float16.Fromfloat32(v).Float32()
		}
	case BF16:
		copy(xs, bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(xs)))
	}
}

// Cast returns a copy of m rounded to this precision.
func (d DType) Cast(m Mat) Mat {
	out := m.Clone()
	d.RoundInPlace(out.Data)
	return out
}
