package toy

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/nn"
	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/pkg/quant"
)

func TestModelIsDeterministic(t *testing.T) {
	t.Parallel()
	cfg := Config{Input: 6, Hidden: 5, Output: 3, Seed: 1}
	a, err := NewModel(cfg)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	b, _ := NewModel(cfg)

	x := Probe(2, 6, 9)
	ya, err := a.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	yb, _ := b.Forward(x)
	if ya.R != 2 || ya.C != 3 {
		t.Fatalf("expected 2x3 output, got %dx%d", ya.R, ya.C)
	}
	for i := range ya.Data {
		if ya.Data[i] != yb.Data[i] {
			t.Fatalf("output %d differs between identical models", i)
		}
	}
}

func TestModelRejectsBadSizes(t *testing.T) {
	t.Parallel()
	if _, err := NewModel(Config{Input: 0, Hidden: 4, Output: 2}); err == nil {
		t.Fatal("expected error for zero input size")
	}
}

// The head stays at full precision while the MLPs go to W8A16; the output
// should stay close to the original.
func TestReplaceKeepsOutputClose(t *testing.T) {
	t.Parallel()
	m, err := NewModel(DefaultConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	x := Probe(4, DefaultConfig().Input, 3)
	before, _ := m.Forward(x)

	rep, err := nn.ReplaceLinear(context.Background(), m, nn.W8A16Factory(tensor.F16, quant.Fail), nn.ReplaceOptions{
		Exclude: []string{"lm_head"},
		Logger:  logger.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("ReplaceLinear: %v", err)
	}
	if len(rep.Replaced) != 4 || len(rep.Skipped) != 1 {
		t.Fatalf("expected 4 replaced and 1 skipped, got %+v", rep)
	}
	after, err := m.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	rel, err := RelativeDrift(before, after)
	if err != nil {
		t.Fatalf("RelativeDrift: %v", err)
	}
	if rel > 0.05 {
		t.Fatalf("relative output drift %v too large", rel)
	}
}

func TestRelativeDrift(t *testing.T) {
	t.Parallel()
	a := tensor.Mat{R: 1, C: 2, Stride: 2, Data: []float32{3, 4}}
	b := tensor.Mat{R: 1, C: 2, Stride: 2, Data: []float32{3, 4.5}}
	got, err := RelativeDrift(a, b)
	if err != nil {
		t.Fatalf("RelativeDrift: %v", err)
	}
	if math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("expected 0.1, got %v", got)
	}
	if got, _ := RelativeDrift(tensor.NewMat(1, 2), tensor.NewMat(1, 2)); got != 0 {
		t.Fatalf("expected 0 for matching zero outputs, got %v", got)
	}
	if _, err := RelativeDrift(a, tensor.NewMat(2, 1)); err == nil {
		t.Fatal("expected shape error")
	}
}
