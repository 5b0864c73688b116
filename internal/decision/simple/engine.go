// Package simple admits a response into the cache once its key has been
// requested often enough recently.
package simple

import (
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/decision"
	"github.com/mohammed-shakir/geo-search-bridge/internal/hotness"
)

type Engine struct {
	Hot hotness.Interface
	// Threshold is the decayed request score a key needs before its
	// response is stored. Zero or less admits everything.
	Threshold float64
}

var _ decision.Interface = (*Engine)(nil)

func (e *Engine) Observe(key string) {
	if e.Hot != nil {
		e.Hot.Inc(key)
	}
}

func (e *Engine) ShouldCache(key string) bool {
	ok := e.admit(key)
	observability.ObserveAdmission(ok)
	return ok
}

func (e *Engine) admit(key string) bool {
	if e.Threshold <= 0 || e.Hot == nil {
		return true
	}
	return e.Hot.Score(key) >= e.Threshold
}
