// Package metadata caches index mappings and field statistics per backend.
//
// Entries are filled at most once per key and live for the process lifetime.
// Concurrent first callers share a single backend fetch; failures are handed
// to every waiter and are not cached.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
)

var ErrUnknownBackend = errors.New("unknown backend")

// StatsAggregation is the name of the stats aggregation issued by Statistics.
const StatsAggregation = "fieldstats"

// Stats is the result of a stats aggregation. Date fields report epoch
// milliseconds.
type Stats struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
}

// ClientSource resolves backend ids; backend.Pool satisfies it.
type ClientSource interface {
	Client(id string) (backend.Client, bool)
}

type Repository struct {
	clients ClientSource
	logger  *slog.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	mappings map[string]backend.Mapping
	stats    map[string]Stats
}

func New(clients ClientSource, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		clients:  clients,
		logger:   logger,
		mappings: map[string]backend.Mapping{},
		stats:    map[string]Stats{},
	}
}

// Mapping returns the field mapping of an index pattern on a backend.
func (r *Repository) Mapping(ctx context.Context, backendID, index string) (backend.Mapping, error) {
	key := "mapping\x00" + backendID + "\x00" + index
	return load(ctx, r, "mapping", key, r.mappings, func(ctx context.Context) (backend.Mapping, error) {
		c, err := r.client(backendID)
		if err != nil {
			return nil, err
		}
		return c.Mapping(ctx, index)
	})
}

// Statistics returns min/max (and friends) of a field across an index pattern.
func (r *Repository) Statistics(ctx context.Context, backendID, index, field string) (Stats, error) {
	key := "stats\x00" + backendID + "\x00" + index + "\x00" + field
	return load(ctx, r, "stats", key, r.stats, func(ctx context.Context) (Stats, error) {
		c, err := r.client(backendID)
		if err != nil {
			return Stats{}, err
		}
		res, err := c.Search(ctx, backend.SearchRequest{
			Index: index,
			Body: map[string]any{
				"size": 0,
				"aggs": map[string]any{
					StatsAggregation: map[string]any{"stats": map[string]any{"field": field}},
				},
			},
		})
		if err != nil {
			return Stats{}, err
		}
		var s Stats
		if err := res.Aggregation(StatsAggregation, &s); err != nil {
			return Stats{}, &backend.Error{Backend: backendID, Op: "stats", Err: err}
		}
		return s, nil
	})
}

func (r *Repository) client(id string) (backend.Client, error) {
	if r.clients == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, id)
	}
	c, ok := r.clients.Client(id)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, id)
	}
	return c, nil
}

func load[T any](ctx context.Context, r *Repository, kind, key string, cache map[string]T, fetch func(context.Context) (T, error)) (T, error) {
	r.mu.RLock()
	v, ok := cache[key]
	r.mu.RUnlock()
	if ok {
		observability.ObserveMetadata(kind, "hit")
		return v, nil
	}

	res, err, shared := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		v, ok := cache[key]
		r.mu.RUnlock()
		if ok {
			return v, nil
		}
		// the fetch outlives a cancelled first caller; other waiters share it
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		r.mu.Lock()
		cache[key] = v
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		observability.ObserveMetadata(kind, "error")
		r.logger.ErrorContext(ctx, "metadata fetch failed", "kind", kind, "err", err)
		var zero T
		return zero, err
	}
	if shared {
		observability.ObserveMetadata(kind, "shared")
	} else {
		observability.ObserveMetadata(kind, "fetch")
	}
	return res.(T), nil
}
