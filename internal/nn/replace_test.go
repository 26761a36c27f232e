package nn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/pkg/quant"
)

func quietOptions(exclude ...string) ReplaceOptions {
	return ReplaceOptions{
		Exclude: exclude,
		Logger:  logger.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func mustLinear(t *testing.T, in, out int, bias bool, seed int64) *Linear {
	t.Helper()
	l, err := NewLinear(in, out, bias, seed)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	return l
}

// testGraph builds
//
//	encoder{fc1 8->6, act, fc2 6->4}, decoder{proj 4->4}, lm_head 4->3
func testGraph(t *testing.T) *Block {
	t.Helper()
	encoder := NewBlock().
		MustAdd("fc1", mustLinear(t, 8, 6, true, 1)).
		MustAdd("act", ReLU{}).
		MustAdd("fc2", mustLinear(t, 6, 4, false, 2))
	decoder := NewBlock().
		MustAdd("proj", mustLinear(t, 4, 4, true, 3))
	return NewBlock().
		MustAdd("encoder", encoder).
		MustAdd("decoder", decoder).
		MustAdd("lm_head", mustLinear(t, 4, 3, true, 4))
}

func kinds(t *testing.T, root Module) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := Walk(root, func(path string, m Module) error {
		switch m.(type) {
		case *Linear:
			out[path] = "linear"
		case *QuantizedLinear:
			out[path] = "quantized"
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return out
}

func TestReplaceLinear(t *testing.T) {
	t.Parallel()
	g := testGraph(t)
	x := randMat(2, 8, 99)
	before, err := g.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	rep, err := ReplaceLinear(context.Background(), g, W8A16Factory(tensor.F32, quant.Fail), quietOptions("lm_head"))
	if err != nil {
		t.Fatalf("ReplaceLinear: %v", err)
	}

	want := map[string]string{
		"encoder.fc1":  "quantized",
		"encoder.fc2":  "quantized",
		"decoder.proj": "quantized",
		"lm_head":      "linear",
	}
	got := kinds(t, g)
	for path, kind := range want {
		if got[path] != kind {
			t.Errorf("%s: expected %s, got %q", path, kind, got[path])
		}
	}

	var paths []string
	for _, l := range rep.Replaced {
		paths = append(paths, l.Path)
		if l.WeightMSE <= 0 || l.WeightMSE > 1e-3 {
			t.Errorf("%s: unexpected weight MSE %v", l.Path, l.WeightMSE)
		}
	}
	if !slices.Equal(paths, []string{"encoder.fc1", "encoder.fc2", "decoder.proj"}) {
		t.Fatalf("unexpected replaced paths %v", paths)
	}
	if !slices.Equal(rep.Skipped, []string{"lm_head"}) {
		t.Fatalf("unexpected skipped paths %v", rep.Skipped)
	}

	// Bias is carried over.
	dec, _ := g.Get("decoder")
	proj, _ := dec.(*Block).Get("proj")
	if ql := proj.(*QuantizedLinear); !ql.HasBias() || ql.bias == nil {
		t.Fatal("replacement lost its bias")
	}

	after, err := g.Forward(x)
	if err != nil {
		t.Fatalf("Forward after replace: %v", err)
	}
	for i := range before.Data {
		if d := math.Abs(float64(after.Data[i] - before.Data[i])); d > 0.1 {
			t.Fatalf("output %d drifted by %v", i, d)
		}
	}
}

func TestReplaceExcludesNameAtEveryDepth(t *testing.T) {
	t.Parallel()
	inner := NewBlock().MustAdd("proj", mustLinear(t, 4, 4, false, 1))
	outer := NewBlock().
		MustAdd("proj", mustLinear(t, 4, 4, false, 2)).
		MustAdd("inner", inner).
		MustAdd("out", mustLinear(t, 4, 2, false, 3))
	root := NewBlock().MustAdd("outer", outer)

	rep, err := ReplaceLinear(context.Background(), root, W8A16Factory(tensor.F32, quant.Fail), quietOptions("proj"))
	if err != nil {
		t.Fatalf("ReplaceLinear: %v", err)
	}
	got := kinds(t, root)
	if got["outer.proj"] != "linear" || got["outer.inner.proj"] != "linear" {
		t.Fatalf("excluded layers were replaced: %v", got)
	}
	if got["outer.out"] != "quantized" {
		t.Fatalf("outer.out was not replaced: %v", got)
	}
	if len(rep.Skipped) != 2 {
		t.Fatalf("expected 2 skipped layers, got %v", rep.Skipped)
	}

	// Full paths work too.
	root = NewBlock().MustAdd("outer", NewBlock().
		MustAdd("proj", mustLinear(t, 4, 4, false, 2)).
		MustAdd("inner", NewBlock().MustAdd("proj", mustLinear(t, 4, 4, false, 1))))
	if _, err := ReplaceLinear(context.Background(), root, W8A16Factory(tensor.F32, quant.Fail), quietOptions("outer.inner.proj")); err != nil {
		t.Fatalf("ReplaceLinear: %v", err)
	}
	got = kinds(t, root)
	if got["outer.proj"] != "quantized" || got["outer.inner.proj"] != "linear" {
		t.Fatalf("unexpected kinds after path exclusion: %v", got)
	}
}

func TestReplaceStopsBeforeFailingLayer(t *testing.T) {
	t.Parallel()
	zero, _ := NewLinearFrom(tensor.NewMat(2, 4), nil)
	root := NewBlock().
		MustAdd("a", mustLinear(t, 4, 4, false, 1)).
		MustAdd("b", zero).
		MustAdd("c", mustLinear(t, 2, 2, false, 2))

	rep, err := ReplaceLinear(context.Background(), root, W8A16Factory(tensor.F32, quant.Fail), quietOptions())
	if !errors.Is(err, quant.ErrDegenerateRange) {
		t.Fatalf("expected ErrDegenerateRange, got %v", err)
	}
	got := kinds(t, root)
	if got["a"] != "quantized" || got["b"] != "linear" || got["c"] != "linear" {
		t.Fatalf("unexpected kinds after failure: %v", got)
	}
	if len(rep.Replaced) != 1 {
		t.Fatalf("expected 1 replaced layer in partial report, got %d", len(rep.Replaced))
	}
}

func TestReplaceFactoryError(t *testing.T) {
	t.Parallel()
	root := NewBlock().MustAdd("a", mustLinear(t, 4, 4, false, 1))
	boom := errors.New("boom")
	factory := func(in, out int, bias bool) (Quantizable, error) { return nil, boom }

	if _, err := ReplaceLinear(context.Background(), root, factory, quietOptions()); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if kinds(t, root)["a"] != "linear" {
		t.Fatal("layer replaced despite factory error")
	}
}

func TestReplaceRootMustBeContainer(t *testing.T) {
	t.Parallel()
	_, err := ReplaceLinear(context.Background(), mustLinear(t, 2, 2, false, 1), W8A16Factory(tensor.F32, quant.Fail), quietOptions())
	if !errors.Is(err, ErrGraphConflict) {
		t.Fatalf("expected ErrGraphConflict, got %v", err)
	}
}

func TestReplaceCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := testGraph(t)
	if _, err := ReplaceLinear(ctx, root, W8A16Factory(tensor.F32, quant.Fail), quietOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for path, kind := range kinds(t, root) {
		if kind != "linear" {
			t.Fatalf("%s replaced after cancellation", path)
		}
	}
}

func TestReplaceIsIdempotent(t *testing.T) {
	t.Parallel()
	root := testGraph(t)
	factory := W8A16Factory(tensor.BF16, quant.Fail)
	if _, err := ReplaceLinear(context.Background(), root, factory, quietOptions()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	rep, err := ReplaceLinear(context.Background(), root, factory, quietOptions())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(rep.Replaced) != 0 || len(rep.Skipped) != 0 {
		t.Fatalf("second pass touched layers: %+v", rep)
	}
}
