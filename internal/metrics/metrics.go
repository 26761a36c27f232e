package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuantizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quanta_quantize_total",
		Help: "Tensors quantized, by scheme",
	}, []string{"scheme"})

	QuantizeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quanta_quantize_errors_total",
		Help: "Failed quantization attempts, by error kind",
	}, []string{"kind"})

	QuantizeMSE = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quanta_quantize_mse",
		Help:    "Mean squared reconstruction error per quantized tensor",
		Buckets: prometheus.ExponentialBuckets(1e-8, 10, 10),
	}, []string{"scheme"})

	QuantizeMaxAbsError = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quanta_quantize_max_abs_error",
		Help:    "Largest element-wise reconstruction error per quantized tensor",
		Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
	})

	LayersReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quanta_layers_replaced_total",
		Help: "Linear layers swapped for quantized layers",
	})

	LayersSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quanta_layers_skipped_total",
		Help: "Linear layers left at full precision by name exclusion",
	})

	ReplaceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quanta_replace_duration_seconds",
		Help:    "Duration of a module replacement pass",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordQuantize records one successful quantization and its error statistics.
func RecordQuantize(scheme string, mse, maxAbs float64) {
	QuantizeTotal.WithLabelValues(scheme).Inc()
	QuantizeMSE.WithLabelValues(scheme).Observe(mse)
	QuantizeMaxAbsError.Observe(maxAbs)
}

// Kinds reported by RecordError. Callers pass the sentinels they know about.
const (
	KindDegenerate  = "degenerate_range"
	KindShape       = "shape_mismatch"
	KindWidth       = "unsupported_width"
	KindNotQuantize = "not_quantized"
	KindGraph       = "graph_conflict"
	KindOther       = "other"
)

// Classifier maps an error to a kind label. Sentinels are matched in order.
type Classifier []struct {
	Err  error
	Kind string
}

// Kind returns the label of the first sentinel err wraps, or KindOther.
func (c Classifier) Kind(err error) string {
	for _, e := range c {
		if errors.Is(err, e.Err) {
			return e.Kind
		}
	}
	return KindOther
}

// RecordError increments the error counter under kind.
func RecordError(kind string) {
	QuantizeErrors.WithLabelValues(kind).Inc()
}

// RecordReplace records the outcome of one replacement pass.
func RecordReplace(replaced, skipped int, d time.Duration) {
	LayersReplaced.Add(float64(replaced))
	LayersSkipped.Add(float64(skipped))
	ReplaceDuration.Observe(d.Seconds())
}
