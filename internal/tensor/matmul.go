package tensor

import (
	"fmt"
	"runtime"
	"sync"
)

// parMinWork is the number of multiply-adds below which MatMulT stays on the
// calling goroutine.
const parMinWork = 1 << 15

// MatMulT computes x @ w^T. x is (batch, in) and w is (out, in); the result is
// (batch, out). This is the dense linear transform used by every linear layer.
func MatMulT(x, w Mat) (Mat, error) {
	if x.C != w.C {
		return Mat{}, fmt.Errorf("%w: input has %d features, weights expect %d", ErrShapeMismatch, x.C, w.C)
	}
	dst := NewMat(x.R, w.R)
	MatMulTInto(&dst, &x, &w, runtime.GOMAXPROCS(0))
	return dst, nil
}

// MatMulTInto writes x @ w^T into dst using up to workers goroutines. Output
// features are split into contiguous chunks; each worker owns its columns of
// dst so no synchronisation beyond the final wait is needed.
func MatMulTInto(dst, x, w *Mat, workers int) {
	if dst.R != x.R || dst.C != w.R || x.C != w.C {
		panic("MatMulTInto: dimension mismatch")
	}
	if workers < 1 || x.R*w.R*w.C < parMinWork {
		workers = 1
	}
	workers = min(workers, w.R)
	if workers <= 1 {
		matMulTRange(dst, x, w, 0, w.R)
		return
	}

	var wg sync.WaitGroup
	chunk := (w.R + workers - 1) / workers
	for i := range workers {
		rs := i * chunk
		re := min(rs+chunk, w.R)
		if rs >= re {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			matMulTRange(dst, x, w, rs, re)
		}()
	}
	wg.Wait()
}

func matMulTRange(dst, x, w *Mat, rs, re int) {
	for b := 0; b < x.R; b++ {
		xr := x.Row(b)
		out := dst.Row(b)
		for o := rs; o < re; o++ {
			out[o] = Dot(xr, w.Row(o))
		}
	}
}
