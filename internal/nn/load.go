package nn

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/samcharles93/quanta/internal/tensor"
)

// TensorSource is a named collection of tensors, such as a checkpoint file.
type TensorSource interface {
	Names() []string
	Load(name string) (*tensor.Tensor, error)
}

// Load builds a module graph from checkpoint tensor names. Every rank-2
// "<path>.weight" becomes a Linear at <path>, picking up "<path>.bias" when
// present; dotted path segments become nested blocks. Other tensors are
// ignored. Children are ordered by path segment, numerically where the
// segment is an index, so "layers.2" runs before "layers.10".
func Load(src TensorSource) (*Block, error) {
	names := src.Names()
	sort.Strings(names)

	type linearNames struct{ weight, bias string }
	layers := make(map[string]*linearNames)
	var paths []string
	for _, n := range names {
		if p, ok := strings.CutSuffix(n, ".weight"); ok && p != "" {
			s := layers[p]
			if s == nil {
				s = &linearNames{}
				layers[p] = s
				paths = append(paths, p)
			}
			s.weight = n
		}
	}
	for _, n := range names {
		if p, ok := strings.CutSuffix(n, ".bias"); ok {
			if s := layers[p]; s != nil {
				s.bias = n
			}
		}
	}
	slices.SortFunc(paths, comparePaths)

	root := NewBlock()
	for _, p := range paths {
		s := layers[p]
		w, err := src.Load(s.weight)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", s.weight, err)
		}
		if w.Rank() != 2 {
			continue
		}
		wm, err := w.Mat()
		if err != nil {
			return nil, err
		}
		var bias []float32
		if s.bias != "" {
			b, err := src.Load(s.bias)
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", s.bias, err)
			}
			bias = b.Data()
		}
		l, err := NewLinearFrom(wm, bias)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if err := insert(root, strings.Split(p, "."), l); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return root, nil
}

func comparePaths(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(as), len(bs))
}

// compareSegment orders numeric segments by value, ahead of named ones.
func compareSegment(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(ai, bi)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

func insert(b *Block, parts []string, m Module) error {
	if len(parts) == 1 {
		return b.Add(parts[0], m)
	}
	next, ok := b.Get(parts[0])
	if !ok {
		nb := NewBlock()
		if err := b.Add(parts[0], nb); err != nil {
			return err
		}
		return insert(nb, parts[1:], m)
	}
	nb, ok := next.(*Block)
	if !ok {
		return fmt.Errorf("%w: %q is a layer, not a container", ErrGraphConflict, parts[0])
	}
	return insert(nb, parts[1:], m)
}

// StateDict is the inverse of Load: it collects "<path>.weight" and
// "<path>.bias" tensors for every linear layer under root. Quantized layers
// contribute their reconstructed weights. Tensors are copies.
func StateDict(root Module) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor)
	add := func(path string, w tensor.Mat, bias []float32) {
		out[path+".weight"] = w.Clone().Tensor()
		if bias != nil {
			out[path+".bias"] = tensor.MustFromData(append([]float32(nil), bias...), len(bias))
		}
	}
	err := Walk(root, func(path string, m Module) error {
		switch l := m.(type) {
		case LinearLayer:
			add(path, l.Weights(), l.BiasVector())
		case *QuantizedLinear:
			w, err := l.Dequantized()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			add(path, w, l.Bias())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
