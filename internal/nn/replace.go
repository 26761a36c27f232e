package nn

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/metrics"
	"github.com/samcharles93/quanta/internal/tensor"
	"github.com/samcharles93/quanta/pkg/quant"
)

// Quantizable is a layer that can take over from a plain linear layer.
type Quantizable interface {
	Module
	Quantize(w tensor.Mat) error
	SetBias(b []float32) error
}

// TargetFactory builds an empty replacement for a linear layer of the given
// dimensions.
type TargetFactory func(in, out int, bias bool) (Quantizable, error)

// W8A16Factory builds QuantizedLinear layers at the given working precision.
func W8A16Factory(dtype tensor.DType, policy quant.DegeneratePolicy) TargetFactory {
	return func(in, out int, bias bool) (Quantizable, error) {
		q, err := NewQuantizedLinear(in, out, bias, dtype)
		if err != nil {
			return nil, err
		}
		q.Policy = policy
		return q, nil
	}
}

// ReplaceOptions configure ReplaceLinear.
type ReplaceOptions struct {
	// Exclude lists child names (or full dotted paths) to leave untouched.
	// A bare name matches at every depth.
	Exclude []string
	// Logger overrides the logger carried by the context.
	Logger logger.Logger
}

// LayerResult describes one replaced layer.
type LayerResult struct {
	Path      string  `json:"path"`
	In        int     `json:"in"`
	Out       int     `json:"out"`
	Bias      bool    `json:"bias"`
	WeightMSE float64 `json:"weight_mse"`
}

// ReplaceReport lists what a replacement pass did.
type ReplaceReport struct {
	Replaced []LayerResult `json:"replaced"`
	Skipped  []string      `json:"skipped"`
}

// ReplaceLinear walks root depth-first and swaps every plain linear layer not
// named in opts.Exclude for a layer built by factory, quantized from the
// original weights and carrying the original bias. Containers are recursed
// into; other modules are left alone.
//
// A failure stops the walk before the failing child is touched. Layers
// replaced earlier in the walk stay replaced. The graph must be acyclic.
func ReplaceLinear(ctx context.Context, root Module, factory TargetFactory, opts ReplaceOptions) (*ReplaceReport, error) {
	c, ok := root.(Container)
	if !ok {
		return nil, fmt.Errorf("%w: root %T is not a container", ErrGraphConflict, root)
	}
	log := opts.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	r := &replacer{
		factory: factory,
		exclude: opts.Exclude,
		log:     log,
		report:  &ReplaceReport{},
	}

	start := time.Now()
	err := r.visit(ctx, "", c)
	metrics.RecordReplace(len(r.report.Replaced), len(r.report.Skipped), time.Since(start))
	if err != nil {
		return r.report, err
	}
	log.Info("linear layers replaced",
		"replaced", len(r.report.Replaced),
		"skipped", len(r.report.Skipped),
		"duration", time.Since(start))
	return r.report, nil
}

type replacer struct {
	factory TargetFactory
	exclude []string
	log     logger.Logger
	report  *ReplaceReport
}

func (r *replacer) visit(ctx context.Context, path string, c Container) error {
	for _, child := range c.Children() {
		if err := ctx.Err(); err != nil {
			return err
		}
		childPath := joinPath(path, child.Name)
		switch m := child.Module.(type) {
		case LinearLayer:
			if r.excluded(child.Name, childPath) {
				r.log.Debug("skipping excluded layer", "path", childPath)
				r.report.Skipped = append(r.report.Skipped, childPath)
				continue
			}
			res, err := r.replace(c, child.Name, childPath, m)
			if err != nil {
				return err
			}
			r.report.Replaced = append(r.report.Replaced, res)
		case Container:
			if err := r.visit(ctx, childPath, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *replacer) replace(parent Container, name, path string, l LinearLayer) (LayerResult, error) {
	target, err := r.factory(l.InFeatures(), l.OutFeatures(), l.HasBias())
	if err != nil {
		return LayerResult{}, fmt.Errorf("%s: build replacement: %w", path, err)
	}
	w := l.Weights()
	if err := target.Quantize(w); err != nil {
		return LayerResult{}, fmt.Errorf("%s: quantize: %w", path, err)
	}
	if l.HasBias() {
		if err := target.SetBias(l.BiasVector()); err != nil {
			return LayerResult{}, fmt.Errorf("%s: bias: %w", path, err)
		}
	}

	res := LayerResult{Path: path, In: l.InFeatures(), Out: l.OutFeatures(), Bias: l.HasBias()}
	if d, ok := target.(interface{ Dequantized() (tensor.Mat, error) }); ok {
		if dw, err := d.Dequantized(); err == nil {
			if mse, err := quant.MSE(w.Tensor(), dw.Tensor()); err == nil {
				res.WeightMSE = mse
			}
		}
	}

	if err := parent.ReplaceChild(name, target); err != nil {
		return LayerResult{}, fmt.Errorf("%s: %w", path, err)
	}
	r.log.Debug("replaced linear layer",
		"path", path,
		"in", res.In,
		"out", res.Out,
		"bias", res.Bias,
		"weight_mse", res.WeightMSE)
	return res, nil
}

func (r *replacer) excluded(name, path string) bool {
	return slices.Contains(r.exclude, name) || slices.Contains(r.exclude, path)
}
