package quant

import (
	"fmt"

	"github.com/samcharles93/quanta/internal/tensor"
)

// GroupParams hold one symmetric scale per contiguous run of GroupSize
// elements along the last axis of a matrix.
type GroupParams struct {
	GroupSize int           `json:"group_size"`
	Channel   ChannelParams `json:"channel"`
}

// QuantizeGroup quantizes a rank-2 tensor in groups of groupSize columns. The
// matrix is viewed as (-1, groupSize) and quantized per channel along axis 0,
// so every group gets its own scale.
func QuantizeGroup(t *tensor.Tensor, groupSize, bits int, policy DegeneratePolicy) (*Tensor, GroupParams, error) {
	if t.Rank() != 2 {
		return nil, GroupParams{}, fmt.Errorf("%w: group quantization needs a matrix, got rank %d", ErrShapeMismatch, t.Rank())
	}
	if groupSize <= 0 || t.Dim(1)%groupSize != 0 {
		return nil, GroupParams{}, fmt.Errorf("%w: %d columns not divisible into groups of %d", ErrShapeMismatch, t.Dim(1), groupSize)
	}
	grouped, err := t.Reshape(-1, groupSize)
	if err != nil {
		return nil, GroupParams{}, err
	}
	q, cp, err := QuantizeChannel(grouped, 0, bits, policy)
	if err != nil {
		return nil, GroupParams{}, err
	}
	q, err = q.Reshape(t.Shape()...)
	if err != nil {
		return nil, GroupParams{}, err
	}
	return q, GroupParams{GroupSize: groupSize, Channel: cp}, nil
}

// Dequantize reverses QuantizeGroup.
func (p GroupParams) Dequantize(q *Tensor) (*tensor.Tensor, error) {
	grouped, err := q.Reshape(-1, p.GroupSize)
	if err != nil {
		return nil, err
	}
	r, err := p.Channel.Dequantize(grouped)
	if err != nil {
		return nil, err
	}
	return r.Reshape(q.Shape()...)
}
