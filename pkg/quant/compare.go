package quant

import (
	"math"

	"github.com/samcharles93/quanta/internal/tensor"
)

// Diff summarizes how far a reconstruction is from its reference.
type Diff struct {
	N       int     `json:"n"`
	MaxAbs  float64 `json:"max_abs"`
	MeanAbs float64 `json:"mean_abs"`
	MSE     float64 `json:"mse"`
	RMSE    float64 `json:"rmse"`
	// Cosine is the cosine similarity of the two tensors viewed as vectors;
	// 0 when either is all zeros.
	Cosine float64 `json:"cosine"`
}

// Compare computes Diff between two tensors of identical shape.
func Compare(a, b *tensor.Tensor) (Diff, error) {
	diff, err := elementwiseDiff(a, b)
	if err != nil {
		return Diff{}, err
	}
	ad, bd := a.Data(), b.Data()
	var sumAbs, sumSq, dot, normA, normB, maxAbs float64
	for i, d := range diff {
		d = math.Abs(d)
		sumAbs += d
		sumSq += d * d
		maxAbs = max(maxAbs, d)
		x, y := float64(ad[i]), float64(bd[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	n := float64(len(diff))
	out := Diff{
		N:       len(diff),
		MaxAbs:  maxAbs,
		MeanAbs: sumAbs / n,
		MSE:     sumSq / n,
		RMSE:    math.Sqrt(sumSq / n),
	}
	if normA > 0 && normB > 0 {
		out.Cosine = dot / (math.Sqrt(normA) * math.Sqrt(normB))
	}
	return out, nil
}

// DiffSummary aggregates Diffs over many tensors: the worst MaxAbs, the
// element-weighted MSE and the mean cosine.
type DiffSummary struct {
	Tensors   int     `json:"tensors"`
	N         int     `json:"n"`
	MaxAbs    float64 `json:"max_abs"`
	MSE       float64 `json:"mse"`
	MinCosine float64 `json:"min_cosine"`
	MeanCos   float64 `json:"mean_cosine"`
}

// Add folds d into the summary.
func (s *DiffSummary) Add(d Diff) {
	if s.Tensors == 0 || d.Cosine < s.MinCosine {
		s.MinCosine = d.Cosine
	}
	total := s.N + d.N
	if total > 0 {
		s.MSE = (s.MSE*float64(s.N) + d.MSE*float64(d.N)) / float64(total)
	}
	s.MeanCos = (s.MeanCos*float64(s.Tensors) + d.Cosine) / float64(s.Tensors+1)
	s.Tensors++
	s.N = total
	s.MaxAbs = max(s.MaxAbs, d.MaxAbs)
}
