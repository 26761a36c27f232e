package quant

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/quanta/internal/tensor"
)

func TestRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bits       int
		qmin, qmax int32
		wantErr    bool
	}{
		{8, -128, 127, false},
		{4, -8, 7, false},
		{2, -2, 1, false},
		{16, -32768, 32767, false},
		{1, 0, 0, true},
		{0, 0, 0, true},
		{17, 0, 0, true},
		{32, 0, 0, true},
	}
	for _, tc := range tests {
		qmin, qmax, err := Range(tc.bits)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedWidth) {
				t.Errorf("Range(%d): expected ErrUnsupportedWidth, got %v", tc.bits, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Range(%d): unexpected error: %v", tc.bits, err)
			continue
		}
		if qmin != tc.qmin || qmax != tc.qmax {
			t.Errorf("Range(%d): expected [%d, %d], got [%d, %d]", tc.bits, tc.qmin, tc.qmax, qmin, qmax)
		}
	}
}

func TestAffineParamsConcreteScenario(t *testing.T) {
	t.Parallel()
	x := tensor.MustFromData([]float32{-13.4, 23.1, 3.2, -5.9}, 2, 2)

	p, err := AffineParams(x, 8, Fail)
	if err != nil {
		t.Fatalf("AffineParams: %v", err)
	}
	if math.Abs(float64(p.Scale)-36.5/255) > 1e-6 {
		t.Fatalf("expected scale %v, got %v", 36.5/255, p.Scale)
	}
	if math.Abs(float64(p.Scale)-0.1431) > 1e-4 {
		t.Fatalf("expected scale ~0.1431, got %v", p.Scale)
	}
	// -128 - (-13.4 / 0.143137) = -34.38
	if p.ZeroPoint != -34 {
		t.Fatalf("expected zero point -34, got %d", p.ZeroPoint)
	}

	q, err := p.Quantize(x)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	want := []int32{-128, 127, -12, -75}
	for i, v := range want {
		if q.Data[i] != v {
			t.Fatalf("element %d: expected %d, got %d", i, v, q.Data[i])
		}
	}

	r, err := p.Dequantize(q)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	for i, v := range x.Data() {
		if d := math.Abs(float64(v - r.Data()[i])); d > float64(p.Scale) {
			t.Fatalf("element %d: reconstruction error %v exceeds scale %v", i, d, p.Scale)
		}
	}
}

func TestAffineZeroPointClamped(t *testing.T) {
	t.Parallel()

	// All-positive range far from zero: raw zero point falls below qmin.
	pos := tensor.MustFromData([]float32{100, 101, 102}, 3)
	p, err := AffineParams(pos, 8, Fail)
	if err != nil {
		t.Fatalf("AffineParams: %v", err)
	}
	if p.ZeroPoint != -128 {
		t.Fatalf("expected zero point clamped to -128, got %d", p.ZeroPoint)
	}
	// Once the zero point clamps, the per-element error is no longer bounded
	// by the scale.
	q, err := p.Quantize(pos)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	r, err := p.Dequantize(q)
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	if d := math.Abs(float64(pos.Data()[0] - r.Data()[0])); d <= float64(p.Scale) {
		t.Fatalf("expected clamped error above scale %v, got %v", p.Scale, d)
	}

	// All-negative range: raw zero point lands above qmax.
	neg := tensor.MustFromData([]float32{-100, -101, -102}, 3)
	p, err = AffineParams(neg, 8, Fail)
	if err != nil {
		t.Fatalf("AffineParams: %v", err)
	}
	if p.ZeroPoint != 127 {
		t.Fatalf("expected zero point clamped to 127, got %d", p.ZeroPoint)
	}
}

func TestAffineZeroPointInRange(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		x := randomTensor(rng, 10*rng.Float32()+0.1, 3, 5)
		for _, bits := range []int{2, 4, 8, 16} {
			p, err := AffineParams(x, bits, Fail)
			if err != nil {
				t.Fatalf("AffineParams: %v", err)
			}
			qmin, qmax, _ := Range(bits)
			if p.ZeroPoint < qmin || p.ZeroPoint > qmax {
				t.Fatalf("zero point %d outside [%d, %d]", p.ZeroPoint, qmin, qmax)
			}
		}
	}
}

func TestDegenerateRangeFails(t *testing.T) {
	t.Parallel()

	zeros, _ := tensor.New(2, 3)
	if _, err := SymmetricParams(zeros, 8, Fail); !errors.Is(err, ErrDegenerateRange) {
		t.Fatalf("symmetric all-zero: expected ErrDegenerateRange, got %v", err)
	}

	constant, _ := tensor.Full(3.5, 4)
	if _, err := AffineParams(constant, 8, Fail); !errors.Is(err, ErrDegenerateRange) {
		t.Fatalf("affine constant: expected ErrDegenerateRange, got %v", err)
	}

	rows := tensor.MustFromData([]float32{1, -2, 0, 0}, 2, 2)
	_, err := ChannelSymmetricParams(rows, 0, 8, Fail)
	if !errors.Is(err, ErrDegenerateRange) {
		t.Fatalf("channel with zero row: expected ErrDegenerateRange, got %v", err)
	}
}

func TestAffineTinyRangeIsDegenerate(t *testing.T) {
	t.Parallel()

	// 1e-44/255 is nonzero in float64 but underflows to 0 as float32.
	tiny := tensor.MustFromData([]float32{0, 1e-44}, 2)
	if _, err := AffineParams(tiny, 8, Fail); !errors.Is(err, ErrDegenerateRange) {
		t.Fatalf("expected ErrDegenerateRange, got %v", err)
	}

	q, p, err := QuantizeAffine(tiny, 8, Epsilon)
	if err != nil {
		t.Fatalf("QuantizeAffine(Epsilon): %v", err)
	}
	if p.Scale != MinScale {
		t.Fatalf("expected MinScale, got %v", p.Scale)
	}
	qmin, qmax, _ := Range(8)
	for i, v := range q.Data {
		if v < qmin || v > qmax {
			t.Fatalf("element %d: %d outside [%d, %d]", i, v, qmin, qmax)
		}
	}
}

func TestDegenerateRangeEpsilon(t *testing.T) {
	t.Parallel()

	zeros, _ := tensor.New(2, 3)
	q, p, err := QuantizeSymmetric(zeros, 8, Epsilon)
	if err != nil {
		t.Fatalf("QuantizeSymmetric: %v", err)
	}
	if p.Scale != MinScale {
		t.Fatalf("expected MinScale, got %v", p.Scale)
	}
	if math.IsNaN(float64(p.Scale)) || math.IsInf(float64(p.Scale), 0) {
		t.Fatalf("scale must be finite, got %v", p.Scale)
	}
	for i, v := range q.Data {
		if v != 0 {
			t.Fatalf("element %d: expected 0, got %d", i, v)
		}
	}

	for _, c := range []float32{5, -5, 0} {
		constant, _ := tensor.Full(c, 4)
		q, p, err := QuantizeAffine(constant, 8, Epsilon)
		if err != nil {
			t.Fatalf("QuantizeAffine(%v): %v", c, err)
		}
		if !(p.Scale > 0) {
			t.Fatalf("constant %v: expected positive scale, got %v", c, p.Scale)
		}
		r, err := p.Dequantize(q)
		if err != nil {
			t.Fatalf("Dequantize: %v", err)
		}
		for i, v := range r.Data() {
			if math.Abs(float64(v-c)) > 1e-5 {
				t.Fatalf("constant %v element %d: reconstructed %v", c, i, v)
			}
		}
	}
}

func TestSymmetricZeroPointAlwaysZero(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 100; trial++ {
		x := randomTensor(rng, 50, 4, 4)
		p, err := SymmetricParams(x, 8, Fail)
		if err != nil {
			t.Fatalf("SymmetricParams: %v", err)
		}
		if p.ZeroPoint != 0 {
			t.Fatalf("expected zero point 0, got %d", p.ZeroPoint)
		}
		want := float64(x.AbsMax()) / 127
		if math.Abs(float64(p.Scale)-want) > 1e-6*want {
			t.Fatalf("expected scale %v, got %v", want, p.Scale)
		}
	}
}

func TestChannelShapeInvariant(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))
	shape := []int{2, 3, 4}
	x := randomTensor(rng, 5, shape...)

	for axis, extent := range shape {
		p, err := ChannelSymmetricParams(x, axis, 8, Fail)
		if err != nil {
			t.Fatalf("axis %d: %v", axis, err)
		}
		if p.Scales.Len() != extent {
			t.Fatalf("axis %d: expected %d scales, got %d", axis, extent, p.Scales.Len())
		}
		got := p.Scales.Shape()
		for i, d := range got {
			want := 1
			if i == axis {
				want = extent
			}
			if d != want {
				t.Fatalf("axis %d: unexpected scale shape %v", axis, got)
			}
		}
		if _, err := tensor.Mul(x, p.Scales); err != nil {
			t.Fatalf("axis %d: scales do not broadcast: %v", axis, err)
		}
	}

	if _, err := ChannelSymmetricParams(x, 3, 8, Fail); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for axis 3, got %v", err)
	}
}

func TestChannelScalesPerRow(t *testing.T) {
	t.Parallel()
	x := tensor.MustFromData([]float32{
		1, -2, 0.5,
		10, 3, -20,
	}, 2, 3)

	rows, err := ChannelSymmetricParams(x, 0, 8, Fail)
	if err != nil {
		t.Fatalf("axis 0: %v", err)
	}
	wantRows := []float32{2.0 / 127, 20.0 / 127}
	for i, v := range wantRows {
		if math.Abs(float64(rows.ScaleSlice()[i]-v)) > 1e-7 {
			t.Fatalf("row %d: expected %v, got %v", i, v, rows.ScaleSlice()[i])
		}
	}

	cols, err := ChannelSymmetricParams(x, 1, 8, Fail)
	if err != nil {
		t.Fatalf("axis 1: %v", err)
	}
	wantCols := []float32{10.0 / 127, 3.0 / 127, 20.0 / 127}
	for i, v := range wantCols {
		if math.Abs(float64(cols.ScaleSlice()[i]-v)) > 1e-7 {
			t.Fatalf("col %d: expected %v, got %v", i, v, cols.ScaleSlice()[i])
		}
	}
}

func TestParsePolicyAndMode(t *testing.T) {
	t.Parallel()
	if p, err := ParsePolicy("epsilon"); err != nil || p != Epsilon {
		t.Fatalf("ParsePolicy(epsilon): got %v, %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != Fail {
		t.Fatalf("ParsePolicy(\"\"): got %v, %v", p, err)
	}
	if _, err := ParsePolicy("ignore"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if m, err := ParseMode("per-channel"); err != nil || m != ModeChannel {
		t.Fatalf("ParseMode(per-channel): got %v, %v", m, err)
	}
	if _, err := ParseMode("log"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func randomTensor(rng *rand.Rand, scale float32, shape ...int) *tensor.Tensor {
	x, err := tensor.New(shape...)
	if err != nil {
		panic(err)
	}
	for i := range x.Data() {
		x.Data()[i] = (rng.Float32()*2 - 1) * scale
	}
	return x
}
