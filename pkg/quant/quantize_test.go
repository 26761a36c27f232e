package quant

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/quanta/internal/tensor"
)

func TestRoundTripWithinOneStep(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 100; trial++ {
		x := randomTensor(rng, 100*rng.Float32()+0.01, 4, 6)
		for _, bits := range []int{4, 8, 12} {
			for _, mode := range []string{"affine", "symmetric"} {
				var (
					q   *Tensor
					p   Params
					err error
				)
				if mode == "affine" {
					q, p, err = QuantizeAffine(x, bits, Fail)
				} else {
					q, p, err = QuantizeSymmetric(x, bits, Fail)
				}
				if err != nil {
					t.Fatalf("%s/%d: %v", mode, bits, err)
				}
				r, err := p.Dequantize(q)
				if err != nil {
					t.Fatalf("%s/%d: Dequantize: %v", mode, bits, err)
				}
				bound := float64(p.Scale) * (1 + 1e-4)
				for i, v := range x.Data() {
					if d := math.Abs(float64(v - r.Data()[i])); d > bound {
						t.Fatalf("%s/%d element %d: |%v - %v| = %v > scale %v",
							mode, bits, i, v, r.Data()[i], d, p.Scale)
					}
				}
			}
		}
	}
}

func TestQuantizeRangeInvariant(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(2))

	for trial := 0; trial < 200; trial++ {
		bits := 2 + rng.Intn(15)
		qmin, qmax, _ := Range(bits)
		x := randomTensor(rng, 1e4, 3, 3)
		// Arbitrary and often badly fitting parameters.
		scale := tensor.Scalar(rng.Float32()*10 + 1e-3)
		zp := tensor.Scalar(float32(rng.Intn(int(qmax-qmin)+1)) + float32(qmin))

		q, err := Quantize(x, scale, zp, bits)
		if err != nil {
			t.Fatalf("Quantize: %v", err)
		}
		for i, v := range q.Data {
			if v < qmin || v > qmax {
				t.Fatalf("bits %d element %d: %d outside [%d, %d]", bits, i, v, qmin, qmax)
			}
		}
	}
}

func TestQuantizeClampBoundary(t *testing.T) {
	t.Parallel()
	x := tensor.MustFromData([]float32{-129, -128, 127, 128, -1000, 1000}, 6)
	q, err := Quantize(x, tensor.Scalar(1), tensor.Scalar(0), 8)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	want := []int32{-128, -128, 127, 127, -128, 127}
	for i, v := range want {
		if q.Data[i] != v {
			t.Errorf("element %d (%v): expected %d, got %d", i, x.Data()[i], v, q.Data[i])
		}
	}
}

func TestQuantizeRoundsHalfToEven(t *testing.T) {
	t.Parallel()
	x := tensor.MustFromData([]float32{0.5, 1.5, 2.5, -0.5, -1.5, -2.5, 2.4, 2.6}, 8)
	q, err := Quantize(x, tensor.Scalar(1), tensor.Scalar(0), 8)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	want := []int32{0, 2, 2, 0, -2, -2, 2, 3}
	for i, v := range want {
		if q.Data[i] != v {
			t.Errorf("element %d (%v): expected %d, got %d", i, x.Data()[i], v, q.Data[i])
		}
	}
}

func TestQuantizeShapeMismatch(t *testing.T) {
	t.Parallel()
	x := tensor.MustFromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)

	if _, err := Quantize(x, tensor.MustFromData([]float32{1, 2}, 2), tensor.Scalar(0), 8); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for scale, got %v", err)
	}
	if _, err := Quantize(x, tensor.Scalar(1), tensor.MustFromData([]float32{0, 0, 0, 0}, 4), 8); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for zero point, got %v", err)
	}
	// A column of scales broadcasts.
	if _, err := Quantize(x, tensor.MustFromData([]float32{1, 2}, 2, 1), tensor.Scalar(0), 8); err != nil {
		t.Fatalf("column scales should broadcast: %v", err)
	}

	q, _ := Quantize(x, tensor.Scalar(1), tensor.Scalar(0), 8)
	if _, err := Dequantize(q, tensor.MustFromData([]float32{1, 2, 3, 4}, 4), tensor.Scalar(0)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch on dequantize, got %v", err)
	}
}

func TestQuantizeUnsupportedWidth(t *testing.T) {
	t.Parallel()
	x := tensor.MustFromData([]float32{1}, 1)
	if _, err := Quantize(x, tensor.Scalar(1), tensor.Scalar(0), 1); !errors.Is(err, ErrUnsupportedWidth) {
		t.Fatalf("expected ErrUnsupportedWidth, got %v", err)
	}
	if _, _, err := QuantizeSymmetric(x, 64, Fail); !errors.Is(err, ErrUnsupportedWidth) {
		t.Fatalf("expected ErrUnsupportedWidth, got %v", err)
	}
	if _, err := NewScheme(Options{Mode: ModeAffine, Bits: 20}); !errors.Is(err, ErrUnsupportedWidth) {
		t.Fatalf("expected ErrUnsupportedWidth from NewScheme, got %v", err)
	}
}

func TestChannelRoundTrip(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(5))
	x := randomTensor(rng, 3, 4, 8)
	// Give one row a much larger range so per-row scales differ.
	for j := 0; j < 8; j++ {
		x.Data()[j] *= 100
	}

	q, p, err := QuantizeChannel(x, 0, 8, Fail)
	if err != nil {
		t.Fatalf("QuantizeChannel: %v", err)
	}
	r, err := p.Dequantize(q)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	scales := p.ScaleSlice()
	for i := 0; i < 4; i++ {
		for j := 0; j < 8; j++ {
			idx := i*8 + j
			if d := math.Abs(float64(x.Data()[idx] - r.Data()[idx])); d > float64(scales[i])*(1+1e-4) {
				t.Fatalf("(%d,%d): error %v exceeds row scale %v", i, j, d, scales[i])
			}
		}
	}
	if scales[0] < 10*scales[1] {
		t.Fatalf("expected the scaled row to have a larger scale: %v", scales)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(9))
	x := randomTensor(rng, 2, 3, 8)

	q, p, err := QuantizeGroup(x, 4, 8, Fail)
	if err != nil {
		t.Fatalf("QuantizeGroup: %v", err)
	}
	if got := q.Shape(); len(got) != 2 || got[0] != 3 || got[1] != 8 {
		t.Fatalf("expected quantized shape [3 8], got %v", got)
	}
	scales := p.Channel.ScaleSlice()
	if len(scales) != 6 {
		t.Fatalf("expected 6 group scales, got %d", len(scales))
	}
	r, err := p.Dequantize(q)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	for i, v := range x.Data() {
		g := i / 4
		if d := math.Abs(float64(v - r.Data()[i])); d > float64(scales[g])*(1+1e-4) {
			t.Fatalf("element %d: error %v exceeds group scale %v", i, d, scales[g])
		}
	}

	if _, _, err := QuantizeGroup(x, 3, 8, Fail); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for indivisible groups, got %v", err)
	}
	cube := randomTensor(rng, 1, 2, 2, 2)
	if _, _, err := QuantizeGroup(cube, 2, 8, Fail); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for rank 3, got %v", err)
	}
}

func TestTensorInt8(t *testing.T) {
	t.Parallel()
	q, err := NewTensor([]int32{-128, 0, 127}, 8, 3)
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	b, err := q.Int8()
	if err != nil {
		t.Fatalf("Int8: %v", err)
	}
	if b[0] != -128 || b[2] != 127 {
		t.Fatalf("unexpected int8 values %v", b)
	}

	wide, _ := NewTensor([]int32{1000}, 16, 1)
	if _, err := wide.Int8(); !errors.Is(err, ErrUnsupportedWidth) {
		t.Fatalf("expected ErrUnsupportedWidth, got %v", err)
	}

	if _, err := NewTensor([]int32{200}, 8, 1); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := NewTensor([]int32{1, 2}, 8, 3); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
