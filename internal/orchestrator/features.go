package orchestrator

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/query"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

// defaultLayerMaxRecords is the record cap advertised by sub-layer schema
// collections.
const defaultLayerMaxRecords = 6000

func placeholderPolygon() orb.Polygon {
	return orb.Polygon{{{100, 0}, {101, 0}, {101, 1}, {100, 1}, {100, 0}}}
}

func (o *Orchestrator) options(t target, mapping backend.Mapping, limit int) query.Options {
	return query.Options{
		MaxRecords: limit,
		Mapping:    mapping,
		Translator: o.tr,
		IndexName:  o.caps.IndexNamer(t.ds),
	}
}

func (o *Orchestrator) count(ctx context.Context, t target, q model.RequestQuery, mapping backend.Mapping, fc *convert.FeatureCollection) (*convert.FeatureCollection, error) {
	req, err := query.Build(t.ds, q, o.options(t, mapping, 0))
	if err != nil {
		return nil, err
	}
	n, err := t.client.Count(ctx, req)
	if err != nil {
		return fc, err
	}
	o.logger.DebugContext(ctx, "count", "total", n)
	fc.SetCount(n)
	return fc, nil
}

// features runs the primary document query.
func (o *Orchestrator) features(ctx context.Context, t target, q model.RequestQuery, mapping backend.Mapping, fc *convert.FeatureCollection, withSubLayers bool) (Result, error) {
	ds := t.ds
	limit := maxRecords(ds, q)
	req, err := query.Build(ds, q, o.options(t, mapping, limit))
	if err != nil {
		return Result{}, err
	}

	var joins *convert.JoinShapes
	if ds.ShapeIndex != nil {
		joins, err = o.joinShapes(ctx, t, q)
		if err != nil {
			return Result{Collection: fc}, err
		}
		values := make([]any, 0, len(joins.Hits))
		for _, h := range joins.Hits {
			if v, ok := convert.JoinValue(h.Source, joins.JoinField); ok {
				values = append(values, v)
			}
		}
		addMust(req, map[string]any{"terms": map[string]any{ds.ShapeIndex.JoinField: values}})
	}

	resp, err := t.client.Search(ctx, req)
	if err != nil {
		return Result{Collection: fc}, err
	}
	o.logger.DebugContext(ctx, "search returned", "hits", len(resp.Hits), "total", resp.Total)

	opts := convert.Options{Mapping: mapping, Resolution: q.MaxAllowableOffset, JoinShapes: joins}
	if sym := o.caps.Symbolizer(ds); sym != nil {
		opts.PostProcess = sym.PostProcess
	}
	conv := convert.New(ds, opts, o.logger)
	for _, hit := range resp.Hits {
		f, err := conv.FeatureFromHit(ctx, hit)
		if err != nil {
			observability.IncConversionWarning("hit")
			o.logger.WarnContext(ctx, "document skipped", "id", hit.ID, "err", err)
			continue
		}
		if f != nil {
			fc.Features = append(fc.Features, f)
		}
	}

	if resp.Total-int64(q.ResultOffset) > int64(limit) {
		fc.Metadata.LimitExceeded = true
		fc.Filters().Limit = true
	}
	applied := fc.Filters()
	applied.Where = true
	applied.Geometry = true
	applied.Offset = q.ResultOffset > 0

	switch {
	case ds.IsPointType() && ds.AllowMultiPoint:
		fc.Metadata.GeometryType = "MultiPoint"
	case len(fc.Features) > 0 && fc.Features[0].Geometry != nil:
		fc.Metadata.GeometryType = fc.Features[0].Geometry.GeoJSONType()
	default:
		fc.Metadata.GeometryType = ds.GeometryType
	}
	fc.SetCount(int64(len(resp.Hits)))

	if ds.ReversePolygons {
		fc.Rewind()
	}

	if withSubLayers && len(ds.SubLayers) > 0 {
		layers := append([]*convert.FeatureCollection{fc}, o.defaultLayers(ctx, ds, mapping)...)
		return Result{Layers: &convert.Layers{Layers: layers}}, nil
	}
	return Result{Collection: fc}, nil
}

// joinShapes fetches the shapes matching the request's spatial filter from
// the dataset's shape index.
func (o *Orchestrator) joinShapes(ctx context.Context, t target, q model.RequestQuery) (*convert.JoinShapes, error) {
	si, ok := t.be.ShapeIndices[t.ds.ShapeIndex.Name]
	if !ok || si == nil {
		return nil, &ConfigError{Kind: "shape index", Name: t.ds.ShapeIndex.Name}
	}
	boolQ := map[string]any{"must": []any{}}
	geo, err := spatial.Filter(q, &catalog.DatasetConfig{GeometryField: si.GeometryField, GeometryType: si.GeometryType})
	if err != nil {
		return nil, err
	}
	if geo != nil {
		boolQ["filter"] = []any{geo}
	}
	resp, err := t.client.Search(ctx, backend.SearchRequest{
		Index: si.Index,
		Body: map[string]any{
			"size":  si.MaxResults,
			"query": map[string]any{"bool": boolQ},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("join shapes %s: %w", si.Index, err)
	}
	return &convert.JoinShapes{Hits: resp.Hits, JoinField: si.JoinField, GeometryField: si.GeometryField}, nil
}

// aggregate delegates a sub-layer request to its strategy.
func (o *Orchestrator) aggregate(ctx context.Context, t target, q model.RequestQuery, mapping backend.Mapping, fc *convert.FeatureCollection) (*convert.FeatureCollection, error) {
	base, err := query.Build(t.ds, q, o.options(t, mapping, maxRecords(t.ds, q)))
	if err != nil {
		return nil, err
	}
	out, err := t.strategy.Features(ctx, capability.AggregationInput{
		Dataset:    t.ds,
		SubLayer:   *t.subLayer,
		Mapping:    mapping,
		Query:      base,
		Client:     t.client,
		Params:     q,
		Collection: fc,
		Logger:     o.logger,
	})
	if err != nil {
		return fc, err
	}
	applied := out.Filters()
	applied.Where = true
	applied.Geometry = true
	return out, nil
}

// defaultLayers builds one schema-only collection per aggregation sub-layer.
func (o *Orchestrator) defaultLayers(ctx context.Context, ds *catalog.DatasetConfig, mapping backend.Mapping) []*convert.FeatureCollection {
	out := make([]*convert.FeatureCollection, 0, len(ds.SubLayers))
	for _, sl := range ds.SubLayers {
		strat, ok := o.caps.Strategies.Lookup(sl.Name)
		if !ok {
			o.logger.WarnContext(ctx, "no strategy registered for sub-layer", "sublayer", sl.Name)
			continue
		}
		c := convert.NewCollection(ds.Index+"_"+sl.Name, defaultLayerMaxRecords)
		f := geojson.NewFeature(placeholderPolygon())
		for k, v := range strat.DefaultReturnFields(mapping, ds, nil) {
			f.Properties[k] = v
		}
		c.Features = append(c.Features, f)
		out = append(out, c)
	}
	return out
}

func addMust(req backend.SearchRequest, clause map[string]any) {
	q, ok := req.Body["query"].(map[string]any)
	if !ok {
		q = map[string]any{}
		req.Body["query"] = q
	}
	b, ok := q["bool"].(map[string]any)
	if !ok {
		b = map[string]any{}
		q["bool"] = b
	}
	must, _ := b["must"].([]any)
	b["must"] = append(must, clause)
}
