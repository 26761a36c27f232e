// Package nn holds a small module graph: named containers, plain linear
// layers, the W8A16 quantized linear layer, and the pass that swaps one for
// the other.
package nn

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samcharles93/quanta/internal/tensor"
)

var (
	// ErrGraphConflict is returned when a child cannot be added or replaced
	// under the given name.
	ErrGraphConflict = errors.New("module graph conflict")
	// ErrNotQuantized is returned by a quantized layer used before Quantize.
	ErrNotQuantized = errors.New("layer not quantized")
	// ErrShapeMismatch is shared with the tensor package.
	ErrShapeMismatch = tensor.ErrShapeMismatch
)

// Module is a node that transforms a (batch, features) activation matrix.
type Module interface {
	Forward(x tensor.Mat) (tensor.Mat, error)
}

// Child is a named direct child of a container.
type Child struct {
	Name   string
	Module Module
}

// Container is a module that owns named children in a stable order.
type Container interface {
	Module
	Children() []Child
	ReplaceChild(name string, m Module) error
}

// LinearLayer is a plain full-precision linear transform y = x @ W^T + b.
type LinearLayer interface {
	Module
	InFeatures() int
	OutFeatures() int
	HasBias() bool
	// Weights returns the (out, in) weight matrix.
	Weights() tensor.Mat
	// BiasVector returns the bias, or nil when HasBias is false.
	BiasVector() []float32
}

// Block is an ordered container. Forward runs the children in order.
type Block struct {
	mu       sync.RWMutex
	names    []string
	children map[string]Module
}

// NewBlock returns an empty block.
func NewBlock() *Block {
	return &Block{children: make(map[string]Module)}
}

// Add appends a child. Names must be non-empty, unique within the block and
// free of path separators.
func (b *Block) Add(name string, m Module) error {
	if name == "" || strings.Contains(name, ".") {
		return fmt.Errorf("%w: invalid child name %q", ErrGraphConflict, name)
	}
	if m == nil {
		return fmt.Errorf("%w: nil module for %q", ErrGraphConflict, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.children[name]; ok {
		return fmt.Errorf("%w: duplicate child %q", ErrGraphConflict, name)
	}
	b.names = append(b.names, name)
	b.children[name] = m
	return nil
}

// MustAdd is Add for graph literals. It panics on error.
func (b *Block) MustAdd(name string, m Module) *Block {
	if err := b.Add(name, m); err != nil {
		panic(err)
	}
	return b
}

// Get returns the named child.
func (b *Block) Get(name string) (Module, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.children[name]
	return m, ok
}

// Children returns a snapshot of the children in insertion order.
func (b *Block) Children() []Child {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Child, len(b.names))
	for i, n := range b.names {
		out[i] = Child{Name: n, Module: b.children[n]}
	}
	return out
}

// ReplaceChild swaps the module stored under name, keeping its position.
func (b *Block) ReplaceChild(name string, m Module) error {
	if m == nil {
		return fmt.Errorf("%w: nil replacement for %q", ErrGraphConflict, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.children[name]; !ok {
		return fmt.Errorf("%w: no child %q", ErrGraphConflict, name)
	}
	b.children[name] = m
	return nil
}

// Forward feeds x through every child in order.
func (b *Block) Forward(x tensor.Mat) (tensor.Mat, error) {
	var err error
	for _, c := range b.Children() {
		x, err = c.Module.Forward(x)
		if err != nil {
			return tensor.Mat{}, fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return x, nil
}

// ReLU is the element-wise max(0, x) activation.
type ReLU struct{}

func (ReLU) Forward(x tensor.Mat) (tensor.Mat, error) {
	out := x.Clone()
	tensor.ReLU(out.Data)
	return out, nil
}

// Walk visits every module reachable from root depth-first, parents before
// children. Paths are dot-joined child names; root has the empty path.
// Returning a non-nil error from fn stops the walk.
func Walk(root Module, fn func(path string, m Module) error) error {
	return walk("", root, fn)
}

func walk(path string, m Module, fn func(string, Module) error) error {
	if err := fn(path, m); err != nil {
		return err
	}
	c, ok := m.(Container)
	if !ok {
		return nil
	}
	for _, child := range c.Children() {
		if err := walk(joinPath(path, child.Name), child.Module, fn); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
