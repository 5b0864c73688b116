// Package metricswrap instruments a hotness model: it exports the tracked
// key count and logs keys as they cross the hot threshold.
package metricswrap

import (
	"fmt"
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	threshold float64
	logger    *slog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, threshold float64, logger *slog.Logger) *WithMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithMetrics{inner: inner, threshold: threshold, logger: logger}
}

func (w *WithMetrics) Inc(key string) {
	before := w.inner.Score(key)
	w.inner.Inc(key)
	if w.threshold > 0 && before < w.threshold {
		if after := w.inner.Score(key); after >= w.threshold {
			w.logger.Debug("cache key became hot",
				"key_hash", fmt.Sprintf("%016x", xx.Sum64String(key)),
				"score", after)
		}
	}
	w.report()
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Reset(keys ...string) {
	w.inner.Reset(keys...)
	w.report()
}

func (w *WithMetrics) report() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeys(s.Size())
	}
}
