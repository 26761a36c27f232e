package tensor

import (
	"errors"
	"math"
	"testing"
)

func matMulTNaive(x, w *Mat) Mat {
	dst := NewMat(x.R, w.R)
	for b := 0; b < x.R; b++ {
		for o := 0; o < w.R; o++ {
			var sum float32
			for k := 0; k < x.C; k++ {
				sum += x.Row(b)[k] * w.Row(o)[k]
			}
			dst.Row(b)[o] = sum
		}
	}
	return dst
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestMatMulTParMatchesNaive(t *testing.T) {
	x := NewMat(50, 70)
	w := NewMat(45, 70)
	FillRand(&x, 1, 2)
	FillRand(&w, 2, 0.02)

	want := matMulTNaive(&x, &w)
	got := NewMat(50, 45)
	MatMulTInto(&got, &x, &w, 4)

	if maxAbs := maxAbsDiff(want.Data, got.Data); maxAbs > 1e-6 {
		t.Fatalf("max abs diff %g", maxAbs)
	}
}

func TestMatMulTShapeMismatch(t *testing.T) {
	t.Parallel()
	x := NewMat(2, 3)
	w := NewMat(4, 5)
	if _, err := MatMulT(x, w); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestMatMulTSmall(t *testing.T) {
	t.Parallel()
	x, _ := NewMatFromData(1, 2, []float32{1, 2})
	w, _ := NewMatFromData(3, 2, []float32{1, 0, 0, 1, 1, 1})
	y, err := MatMulT(x, w)
	if err != nil {
		t.Fatalf("MatMulT: %v", err)
	}
	want := []float32{1, 2, 3}
	for i, v := range want {
		if y.Data[i] != v {
			t.Fatalf("element %d: expected %v, got %v", i, v, y.Data[i])
		}
	}
}

func TestMatTensorRoundTrip(t *testing.T) {
	t.Parallel()
	m, _ := NewMatFromData(2, 2, []float32{1, 2, 3, 4})
	x := m.Tensor()
	back, err := x.Mat()
	if err != nil {
		t.Fatalf("Mat: %v", err)
	}
	if back.R != 2 || back.C != 2 || back.Data[3] != 4 {
		t.Fatalf("unexpected matrix %+v", back)
	}

	cube := MustFromData(make([]float32, 8), 2, 2, 2)
	if _, err := cube.Mat(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for rank 3, got %v", err)
	}
}

func BenchmarkMatMulT(b *testing.B) {
	x := NewMat(32, 1024)
	w := NewMat(1024, 1024)
	FillRand(&x, 1, 2)
	FillRand(&w, 2, 0.02)
	dst := NewMat(32, 1024)

	for b.Loop() {
		MatMulTInto(&dst, &x, &w, 8)
	}
}
