// Package quant implements linear quantization of float tensors into signed
// fixed-width integers and the reverse reconstruction.
//
// Four granularities are provided: per-tensor affine, per-tensor symmetric,
// per-channel symmetric and per-group symmetric. All of them round half to
// even and clamp into the signed range of the configured width.
package quant

import (
	"fmt"
	"strings"

	"github.com/samcharles93/quanta/internal/tensor"
)

// Mode names a quantization granularity.
type Mode string

const (
	ModeAffine    Mode = "affine"
	ModeSymmetric Mode = "symmetric"
	ModeChannel   Mode = "channel"
	ModeGroup     Mode = "group"
)

func (m Mode) String() string { return string(m) }

// ParseMode accepts the mode names above.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAffine, nil
	case ModeAffine, ModeSymmetric, ModeChannel, ModeGroup:
		return m, nil
	case "asymmetric":
		return ModeAffine, nil
	case "per-channel", "per_channel":
		return ModeChannel, nil
	case "per-group", "per_group":
		return ModeGroup, nil
	default:
		return "", fmt.Errorf("unknown quantization mode %q", s)
	}
}

// Options configure a Scheme.
type Options struct {
	Mode      Mode
	Bits      int
	Axis      int
	GroupSize int
	Policy    DegeneratePolicy
}

// Result is the outcome of quantizing one tensor with a Scheme.
type Result struct {
	Quantized   *Tensor
	Dequantized *tensor.Tensor
	// Scales and ZeroPoints are flattened: one entry for per-tensor modes,
	// one per channel or group otherwise.
	Scales     []float32
	ZeroPoints []int32
}

// Scheme quantizes and reconstructs a tensor in one step.
type Scheme interface {
	Name() string
	Quantize(t *tensor.Tensor) (Result, error)
}

// NewScheme validates opts and returns the matching Scheme.
func NewScheme(opts Options) (Scheme, error) {
	if opts.Bits == 0 {
		opts.Bits = DefaultBits
	}
	if _, _, err := Range(opts.Bits); err != nil {
		return nil, err
	}
	switch opts.Mode {
	case ModeAffine, "":
		return affineScheme{opts}, nil
	case ModeSymmetric:
		return symmetricScheme{opts}, nil
	case ModeChannel:
		if opts.Axis < 0 {
			return nil, fmt.Errorf("%w: negative axis %d", ErrShapeMismatch, opts.Axis)
		}
		return channelScheme{opts}, nil
	case ModeGroup:
		if opts.GroupSize <= 0 {
			return nil, fmt.Errorf("group mode needs a positive group size, got %d", opts.GroupSize)
		}
		return groupScheme{opts}, nil
	default:
		return nil, fmt.Errorf("unknown quantization mode %q", opts.Mode)
	}
}

type affineScheme struct{ opts Options }

func (s affineScheme) Name() string { return fmt.Sprintf("affine-int%d", s.opts.Bits) }

func (s affineScheme) Quantize(t *tensor.Tensor) (Result, error) {
	q, p, err := QuantizeAffine(t, s.opts.Bits, s.opts.Policy)
	if err != nil {
		return Result{}, err
	}
	return tensorResult(q, p)
}

type symmetricScheme struct{ opts Options }

func (s symmetricScheme) Name() string { return fmt.Sprintf("symmetric-int%d", s.opts.Bits) }

func (s symmetricScheme) Quantize(t *tensor.Tensor) (Result, error) {
	q, p, err := QuantizeSymmetric(t, s.opts.Bits, s.opts.Policy)
	if err != nil {
		return Result{}, err
	}
	return tensorResult(q, p)
}

func tensorResult(q *Tensor, p Params) (Result, error) {
	r, err := p.Dequantize(q)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Quantized:   q,
		Dequantized: r,
		Scales:      []float32{p.Scale},
		ZeroPoints:  []int32{p.ZeroPoint},
	}, nil
}

type channelScheme struct{ opts Options }

func (s channelScheme) Name() string {
	return fmt.Sprintf("channel-int%d-axis%d", s.opts.Bits, s.opts.Axis)
}

func (s channelScheme) Quantize(t *tensor.Tensor) (Result, error) {
	q, p, err := QuantizeChannel(t, s.opts.Axis, s.opts.Bits, s.opts.Policy)
	if err != nil {
		return Result{}, err
	}
	r, err := p.Dequantize(q)
	if err != nil {
		return Result{}, err
	}
	scales := append([]float32(nil), p.ScaleSlice()...)
	return Result{Quantized: q, Dequantized: r, Scales: scales, ZeroPoints: make([]int32, len(scales))}, nil
}

type groupScheme struct{ opts Options }

func (s groupScheme) Name() string {
	return fmt.Sprintf("group-int%d-g%d", s.opts.Bits, s.opts.GroupSize)
}

func (s groupScheme) Quantize(t *tensor.Tensor) (Result, error) {
	q, p, err := QuantizeGroup(t, s.opts.GroupSize, s.opts.Bits, s.opts.Policy)
	if err != nil {
		return Result{}, err
	}
	r, err := p.Dequantize(q)
	if err != nil {
		return Result{}, err
	}
	scales := append([]float32(nil), p.Channel.ScaleSlice()...)
	return Result{Quantized: q, Dequantized: r, Scales: scales, ZeroPoints: make([]int32, len(scales))}, nil
}
