// Package health serves liveness and backend readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type readiness struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends"`
}

// Readiness pings every configured backend; any failure reports 503.
func Readiness(pool backend.Pool, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		var mu sync.Mutex
		out := readiness{Status: "ready", Backends: make(map[string]string, len(pool))}
		var g errgroup.Group
		for _, id := range pool.IDs() {
			c, _ := pool.Client(id)
			g.Go(func() error {
				status := "ok"
				if err := c.Ping(ctx); err != nil {
					status = err.Error()
				}
				mu.Lock()
				out.Backends[id] = status
				if status != "ok" {
					out.Status = "not_ready"
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
