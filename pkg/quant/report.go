package quant

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/samcharles93/quanta/internal/tensor"
)

// MSE returns mean((original - reconstructed)^2).
func MSE(original, reconstructed *tensor.Tensor) (float64, error) {
	diff, err := elementwiseDiff(original, reconstructed)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, d := range diff {
		sum += d * d
	}
	return sum / float64(len(diff)), nil
}

// MaxAbsError returns max|original - reconstructed|.
func MaxAbsError(original, reconstructed *tensor.Tensor) (float64, error) {
	diff, err := elementwiseDiff(original, reconstructed)
	if err != nil {
		return 0, err
	}
	var m float64
	for _, d := range diff {
		m = max(m, math.Abs(d))
	}
	return m, nil
}

func elementwiseDiff(a, b *tensor.Tensor) ([]float64, error) {
	if !sameShape(a.Shape(), b.Shape()) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a.Shape(), b.Shape())
	}
	ad, bd := a.Data(), b.Data()
	out := make([]float64, len(ad))
	for i := range ad {
		out[i] = float64(ad[i]) - float64(bd[i])
	}
	return out, nil
}

// Report is the data handed to anything that visualizes a quantization run:
// the original tensor, the integers with their range, the reconstruction and
// the absolute error, plus summary statistics. Tensors in a Report are copies.
type Report struct {
	ID          string         `json:"id,omitempty"`
	Scheme      string         `json:"scheme"`
	Bits        int            `json:"bits"`
	QMin        int32          `json:"q_min"`
	QMax        int32          `json:"q_max"`
	Scales      []float32      `json:"scales"`
	ZeroPoints  []int32        `json:"zero_points"`
	Original    *tensor.Tensor `json:"original"`
	Quantized   QuantizedView  `json:"quantized"`
	Dequantized *tensor.Tensor `json:"dequantized"`
	Error       *tensor.Tensor `json:"error"`
	MSE         float64        `json:"mse"`
	MaxAbsError float64        `json:"max_abs_error"`
}

// QuantizedView is the JSON form of a quantized tensor.
type QuantizedView struct {
	Shape []int   `json:"shape"`
	Data  []int32 `json:"data"`
}

// Run quantizes t with s and builds the report.
func Run(s Scheme, t *tensor.Tensor) (*Report, error) {
	res, err := s.Quantize(t)
	if err != nil {
		return nil, err
	}
	rep, err := NewReport(t, res.Quantized, res.Dequantized)
	if err != nil {
		return nil, err
	}
	rep.Scheme = s.Name()
	rep.Scales = res.Scales
	rep.ZeroPoints = res.ZeroPoints
	return rep, nil
}

// NewReport assembles a report from an original tensor, its quantized form and
// the reconstruction. Inputs are not modified.
func NewReport(original *tensor.Tensor, q *Tensor, dequantized *tensor.Tensor) (*Report, error) {
	qmin, qmax, err := Range(q.Bits)
	if err != nil {
		return nil, err
	}
	absErr, err := tensor.Sub(original, dequantized)
	if err != nil {
		return nil, err
	}
	mse, err := MSE(original, dequantized)
	if err != nil {
		return nil, err
	}
	maxAbs, err := MaxAbsError(original, dequantized)
	if err != nil {
		return nil, err
	}
	return &Report{
		Bits:        q.Bits,
		QMin:        qmin,
		QMax:        qmax,
		Original:    original.Clone(),
		Quantized:   QuantizedView{Shape: q.Shape(), Data: append([]int32(nil), q.Data...)},
		Dequantized: dequantized.Clone(),
		Error:       absErr.Abs(),
		MSE:         mse,
		MaxAbsError: maxAbs,
	}, nil
}

// JSON encodes the report.
func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
