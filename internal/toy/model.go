// Package toy builds a small deterministic model used by the CLI demo and by
// tests: two MLP blocks followed by an output head.
package toy

import (
	"fmt"
	"math"

	"github.com/samcharles93/quanta/internal/nn"
	"github.com/samcharles93/quanta/internal/tensor"
)

// Config sizes the toy model.
type Config struct {
	Input  int
	Hidden int
	Output int
	Seed   int64
}

// DefaultConfig is the model the CLI uses when no checkpoint is given.
func DefaultConfig() Config {
	return Config{Input: 16, Hidden: 32, Output: 8, Seed: 42}
}

// NewModel builds
//
//	encoder { fc1: in->hidden, act, fc2: hidden->hidden }
//	decoder { fc1: hidden->hidden, act, fc2: hidden->hidden }
//	lm_head: hidden->out (no bias)
//
// with weights derived from cfg.Seed.
func NewModel(cfg Config) (*nn.Block, error) {
	if cfg.Input <= 0 || cfg.Hidden <= 0 || cfg.Output <= 0 {
		return nil, fmt.Errorf("toy model: invalid sizes %+v", cfg)
	}
	seed := cfg.Seed
	linear := func(in, out int, bias bool) (*nn.Linear, error) {
		seed += 7
		return nn.NewLinear(in, out, bias, seed)
	}
	mlp := func(in int) (*nn.Block, error) {
		fc1, err := linear(in, cfg.Hidden, true)
		if err != nil {
			return nil, err
		}
		fc2, err := linear(cfg.Hidden, cfg.Hidden, true)
		if err != nil {
			return nil, err
		}
		return nn.NewBlock().MustAdd("fc1", fc1).MustAdd("act", nn.ReLU{}).MustAdd("fc2", fc2), nil
	}

	encoder, err := mlp(cfg.Input)
	if err != nil {
		return nil, err
	}
	decoder, err := mlp(cfg.Hidden)
	if err != nil {
		return nil, err
	}
	head, err := linear(cfg.Hidden, cfg.Output, false)
	if err != nil {
		return nil, err
	}
	return nn.NewBlock().
		MustAdd("encoder", encoder).
		MustAdd("decoder", decoder).
		MustAdd("lm_head", head), nil
}

// Probe returns a reproducible (batch, in) input.
func Probe(batch, in int, seed int64) tensor.Mat {
	m := tensor.NewMat(batch, in)
	tensor.FillRand(&m, seed, 2)
	return m
}

// RelativeDrift is ||after-before|| / ||before|| over every element. It is 0
// when before is all zeros and the outputs match.
func RelativeDrift(before, after tensor.Mat) (float64, error) {
	if before.R != after.R || before.C != after.C {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", tensor.ErrShapeMismatch, before.R, before.C, after.R, after.C)
	}
	var num, den float64
	for i := range before.Data {
		d := float64(after.Data[i] - before.Data[i])
		num += d * d
		den += float64(before.Data[i]) * float64(before.Data[i])
	}
	if den == 0 {
		if num == 0 {
			return 0, nil
		}
		return math.Inf(1), nil
	}
	return math.Sqrt(num / den), nil
}
