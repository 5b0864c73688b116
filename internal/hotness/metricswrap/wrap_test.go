package metricswrap

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/hotness/expdecay"
	"github.com/mohammed-shakir/geo-search-bridge/internal/logger"
	"github.com/mohammed-shakir/geo-search-bridge/internal/metrics"
)

func TestHotKeysGauge(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	observability.Init(p.Registerer(), true)

	w := New(expdecay.New(30*time.Second), 2, logger.Discard())
	w.Inc("a")
	w.Inc("a")
	w.Inc("b")
	w.Reset("a")

	if w.Score("b") != 1 {
		t.Fatalf("score(b)=%g", w.Score("b"))
	}

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if body := rr.Body.String(); !strings.Contains(body, "response_cache_hot_keys 1") {
		t.Fatalf("expected hot keys gauge == 1, got:\n%s", body)
	}
}
