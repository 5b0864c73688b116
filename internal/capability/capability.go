// Package capability holds the named, pluggable pieces resolved per request:
// grid aggregation strategies, vector tile symbolizers and index-name
// builders.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

// AggregationInput is everything a strategy needs to answer one sub-layer
// request. Query is the assembled base query; strategies copy it before
// adding aggregations.
type AggregationInput struct {
	Dataset    *catalog.DatasetConfig
	SubLayer   catalog.SubLayer
	Mapping    backend.Mapping
	Query      backend.SearchRequest
	Client     backend.Client
	Params     model.RequestQuery
	Collection *convert.FeatureCollection
	Logger     *slog.Logger
}

// Strategy answers aggregation sub-layer requests.
type Strategy interface {
	Name() string
	Features(ctx context.Context, in AggregationInput) (*convert.FeatureCollection, error)
	// DefaultReturnFields is the zero-valued property template describing
	// the layer schema. custom overrides the configured aggregation fields.
	DefaultReturnFields(mapping backend.Mapping, ds *catalog.DatasetConfig, custom map[string]any) map[string]any
}

// Symbolizer customizes vector tile output for datasets that name it.
type Symbolizer interface {
	Name() string
	// TileBuffer grows tile envelopes, in tile widths.
	TileBuffer() float64
	// VTStyle is returned in collection metadata; nil means none.
	VTStyle() map[string]any
	PostProcess(f *geojson.Feature, resolution float64)
}

// IndexNameBuilder computes the concrete index pattern for a request.
type IndexNameBuilder interface {
	Name() string
	IndexName(ds *catalog.DatasetConfig, q model.RequestQuery) string
}

type named interface{ Name() string }

// Registry maps names to implementations. It is safe for concurrent use.
type Registry[T named] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewRegistry[T named]() *Registry[T] {
	return &Registry[T]{items: map[string]T{}}
}

// Register adds v under v.Name(). Names are unique.
func (r *Registry[T]) Register(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := v.Name()
	if name == "" {
		return fmt.Errorf("capability: empty name")
	}
	if _, dup := r.items[name]; dup {
		return fmt.Errorf("capability: %q already registered", name)
	}
	r.items[name] = v
	return nil
}

func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for n := range r.items {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Set bundles the three registries handed to the orchestrator.
type Set struct {
	Strategies  *Registry[Strategy]
	Symbolizers *Registry[Symbolizer]
	IndexNames  *Registry[IndexNameBuilder]
}

func NewSet() *Set {
	return &Set{
		Strategies:  NewRegistry[Strategy](),
		Symbolizers: NewRegistry[Symbolizer](),
		IndexNames:  NewRegistry[IndexNameBuilder](),
	}
}

// Symbolizer resolves the dataset's custom symbolizer, if any.
func (s *Set) Symbolizer(ds *catalog.DatasetConfig) Symbolizer {
	if s == nil || ds.CustomSymbolizer == "" {
		return nil
	}
	sym, _ := s.Symbolizers.Lookup(ds.CustomSymbolizer)
	return sym
}

// IndexNamer adapts the dataset's index-name builder, if any.
func (s *Set) IndexNamer(ds *catalog.DatasetConfig) func(*catalog.DatasetConfig, model.RequestQuery) string {
	if s == nil || ds.IndexNameBuilder == "" {
		return nil
	}
	b, ok := s.IndexNames.Lookup(ds.IndexNameBuilder)
	if !ok {
		return nil
	}
	return b.IndexName
}
