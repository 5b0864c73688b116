// Package orchestrator answers feature requests: it resolves the dataset and
// layer, picks the query mode, and drives query assembly, backend calls and
// conversion into feature collections.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/logger"
	"github.com/mohammed-shakir/geo-search-bridge/internal/metadata"
	"github.com/mohammed-shakir/geo-search-bridge/internal/predicate"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

const (
	ModeQuery       = "query"
	ModeCount       = "count"
	ModeTile        = "tile"
	ModeAggregation = "aggregation"
)

const primaryLayer = "0"

// ConfigError reports a request naming something the catalog or the
// capability registries do not know. It is returned before any backend call.
type ConfigError struct {
	Kind string
	Name string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

type Options struct {
	Translator   *predicate.Translator
	Capabilities *capability.Set
	Logger       *slog.Logger
}

type Orchestrator struct {
	catalog *catalog.Catalog
	clients metadata.ClientSource
	meta    *metadata.Repository
	tr      *predicate.Translator
	caps    *capability.Set
	logger  *slog.Logger
}

func New(cat *catalog.Catalog, clients metadata.ClientSource, meta *metadata.Repository, opts Options) *Orchestrator {
	o := &Orchestrator{
		catalog: cat,
		clients: clients,
		meta:    meta,
		tr:      opts.Translator,
		caps:    opts.Capabilities,
		logger:  opts.Logger,
	}
	if o.tr == nil {
		o.tr = predicate.NewTranslator(nil)
	}
	if o.caps == nil {
		o.caps = capability.NewSet()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.meta == nil {
		o.meta = metadata.New(clients, o.logger)
	}
	return o
}

// Validate checks that every capability named by the catalog is registered.
func (o *Orchestrator) Validate() error {
	var errs []error
	for _, id := range o.catalog.BackendIDs() {
		be, _ := o.catalog.Backend(id)
		for name, ds := range be.Indices {
			if ds == nil {
				continue
			}
			for _, sl := range ds.SubLayers {
				if _, ok := o.caps.Strategies.Lookup(sl.Name); !ok {
					errs = append(errs, fmt.Errorf("dataset %s/%s: %w", id, name, &ConfigError{Kind: "strategy", Name: sl.Name}))
				}
			}
			if ds.CustomSymbolizer != "" && o.caps.Symbolizer(ds) == nil {
				errs = append(errs, fmt.Errorf("dataset %s/%s: %w", id, name, &ConfigError{Kind: "symbolizer", Name: ds.CustomSymbolizer}))
			}
			if ds.IndexNameBuilder != "" && o.caps.IndexNamer(ds) == nil {
				errs = append(errs, fmt.Errorf("dataset %s/%s: %w", id, name, &ConfigError{Kind: "index name builder", Name: ds.IndexNameBuilder}))
			}
		}
	}
	return errors.Join(errs...)
}

// Result is either a single feature collection or, for a primary layer
// request on a dataset with aggregation sub-layers, the list of layers.
type Result struct {
	Collection *convert.FeatureCollection
	Layers     *convert.Layers
	// Mode is the query mode the request was answered in.
	Mode       string
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Layers != nil {
		return json.Marshal(r.Layers)
	}
	return json.Marshal(r.Collection)
}

// Primary returns the requested collection: the first layer when the result
// carries several.
func (r Result) Primary() *convert.FeatureCollection {
	if r.Layers != nil && len(r.Layers.Layers) > 0 {
		return r.Layers.Layers[0]
	}
	return r.Collection
}

// target is a resolved request.
type target struct {
	backendID string
	be        *catalog.Backend
	ds        *catalog.DatasetConfig
	client    backend.Client
	subLayer  *catalog.SubLayer
	strategy  capability.Strategy
}

// Query answers a feature request. On a backend failure the partially built
// collection is returned alongside the error.
func (o *Orchestrator) Query(ctx context.Context, req model.Request) (Result, error) {
	layer := strings.TrimSpace(req.Layer)
	t, err := o.resolve(req.Backend, req.Dataset)
	if err != nil {
		return Result{}, err
	}
	ds := t.ds
	ctx = logger.WithDataset(ctx, ds.Name)
	q := req.Query
	sym := o.caps.Symbolizer(ds)

	var extent map[string]any
	mode := ModeQuery
	if req.VectorTile {
		layer = ds.VectorLayerID
		extent = ds.Extent
		if extent == nil {
			extent = worldExtent()
		}
		if q.Tile != nil {
			buffer := 0.0
			if sym != nil {
				buffer = sym.TileBuffer()
			}
			q.Geometry = spatial.TileGeometry(*q.Tile, buffer)
			q.MaxAllowableOffset = spatial.TileResolution(q.Tile.Z)
			extent = nil
			mode = ModeTile
		}
	}
	if err := o.selectLayer(&t, layer); err != nil {
		return Result{}, err
	}
	switch {
	case mode == ModeTile:
	case t.subLayer != nil:
		mode = ModeAggregation
	case q.ReturnCountOnly:
		mode = ModeCount
	}
	ctx = logger.WithMode(ctx, mode)
	o.logger.DebugContext(ctx, "query mode selected", "backend", t.backendID, "layer", layer)

	fc := convert.NewCollection(ds.Name, ds.MaxResults)
	fc.Metadata.Extent = extent
	fc.Metadata.IDField = ds.IDField
	if sym != nil && sym.VTStyle() != nil {
		fc.Metadata.VT = sym.VTStyle()
	} else if ds.VectorStyle != nil {
		fc.Metadata.VT = ds.VectorStyle
	}
	if ds.TimeInfo != nil {
		fc.Metadata.TimeInfo = configuredTimeInfo(ds.TimeInfo)
	}

	if q.Geometry != nil && q.Distance <= 0 {
		if _, err := spatial.Envelope(q.Geometry); err != nil {
			if errors.Is(err, spatial.ErrInvalidEnvelope) {
				o.logger.DebugContext(ctx, "empty envelope, skipping backend")
				return Result{Collection: fc, Mode: mode}, nil
			}
			return Result{}, err
		}
	}

	mapping, err := o.prefetch(ctx, t, fc)
	if err != nil {
		o.logger.ErrorContext(ctx, "metadata fetch failed", "err", err)
		return Result{Collection: fc, Mode: mode}, err
	}

	var res Result
	switch {
	case t.subLayer != nil:
		res.Collection, err = o.aggregate(ctx, t, q, mapping, fc)
	case mode == ModeCount:
		res.Collection, err = o.count(ctx, t, q, mapping, fc)
	default:
		res, err = o.features(ctx, t, q, mapping, fc, layer == "")
	}
	res.Mode = mode
	if err != nil {
		o.logger.ErrorContext(ctx, "backend query failed", "err", err)
		return res, err
	}
	observability.ObserveQuery(mode, len(res.Primary().Features))
	return res, nil
}

func (o *Orchestrator) resolve(backendID, dataset string) (target, error) {
	be, ok := o.catalog.Backend(backendID)
	if !ok {
		return target{}, &ConfigError{Kind: "backend", Name: backendID}
	}
	ds, ok := be.Indices[dataset]
	if !ok || ds == nil {
		return target{}, &ConfigError{Kind: "dataset", Name: dataset}
	}
	client, ok := o.clients.Client(backendID)
	if !ok {
		return target{}, &ConfigError{Kind: "backend", Name: backendID}
	}
	return target{backendID: backendID, be: be, ds: ds, client: client}, nil
}

// selectLayer resolves a layer selector: "" and "0" address the primary
// layer, N the Nth aggregation sub-layer.
func (o *Orchestrator) selectLayer(t *target, layer string) error {
	if layer == "" || layer == primaryLayer {
		return nil
	}
	n, err := strconv.Atoi(layer)
	if err != nil || n < 1 || n > len(t.ds.SubLayers) {
		return &ConfigError{Kind: "layer", Name: layer}
	}
	sl := t.ds.SubLayers[n-1]
	strat, ok := o.caps.Strategies.Lookup(sl.Name)
	if !ok {
		return &ConfigError{Kind: "strategy", Name: sl.Name}
	}
	t.subLayer, t.strategy = &sl, strat
	return nil
}

// prefetch loads the index mapping and, for time-aware datasets without a
// configured extent, the time field statistics, concurrently.
func (o *Orchestrator) prefetch(ctx context.Context, t target, fc *convert.FeatureCollection) (backend.Mapping, error) {
	ds := t.ds
	g, gctx := errgroup.WithContext(ctx)

	var mapping backend.Mapping
	g.Go(func() error {
		m, err := o.meta.Mapping(gctx, t.backendID, ds.Index)
		mapping = m
		return err
	})

	ti := fc.Metadata.TimeInfo
	var start, end metadata.Stats
	needStats := ti != nil && len(ti.TimeExtent) != 2
	if needStats {
		g.Go(func() error {
			s, err := o.meta.Statistics(gctx, t.backendID, ds.Index, ti.StartTimeField)
			start = s
			return err
		})
		if ti.EndTimeField != ti.StartTimeField {
			g.Go(func() error {
				s, err := o.meta.Statistics(gctx, t.backendID, ds.Index, ti.EndTimeField)
				end = s
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if needStats {
		if ti.EndTimeField == ti.StartTimeField {
			end = start
		}
		ti.TimeExtent = []float64{start.Min, end.Max}
	}
	return mapping, nil
}

func configuredTimeInfo(ti *catalog.TimeInfo) *convert.TimeInfo {
	out := &convert.TimeInfo{StartTimeField: ti.StartTimeField, EndTimeField: ti.EndTimeField}
	if ti.EndTimeField == "" {
		out.EndTimeField = ti.StartTimeField
	}
	if len(ti.TimeExtent) == 2 {
		out.TimeExtent = []float64{float64(ti.TimeExtent[0]), float64(ti.TimeExtent[1])}
	}
	return out
}

// worldExtent is the Web Mercator extent reported by tile services that do
// not configure their own.
func worldExtent() map[string]any {
	const edge = 20037507.067161843
	return map[string]any{
		"xmin": -edge,
		"ymin": -edge,
		"xmax": edge,
		"ymax": edge,
		"spatialReference": map[string]any{
			"cs":   "pcs",
			"wkid": model.WKIDWebMercator,
		},
	}
}

// maxRecords caps the requested page size at the dataset maximum.
func maxRecords(ds *catalog.DatasetConfig, q model.RequestQuery) int {
	if q.ResultRecordCount > 0 && q.ResultRecordCount < ds.MaxResults {
		return q.ResultRecordCount
	}
	return ds.MaxResults
}
