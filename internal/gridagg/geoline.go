package gridagg

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
)

const defaultLineSortOrder = "ASC"

// GeoLine groups documents by a term and joins each group's points into a
// line ordered by a sort field.
//
// With ignoreGeoBoundary set, a first bounded pass only discovers the group
// keys; a second pass drops the spatial filter and assembles the full lines
// of exactly those groups.
type GeoLine struct{}

func (GeoLine) Name() string { return GeoLineName }

func (GeoLine) DefaultReturnFields(_ backend.Mapping, ds *catalog.DatasetConfig, custom map[string]any) map[string]any {
	return defaultReturnFields(GeoLineName, ds, custom)
}

func (GeoLine) Features(ctx context.Context, in capability.AggregationInput) (*convert.FeatureCollection, error) {
	ds, opts := in.Dataset, in.SubLayer.Options
	if opts.TermField == "" {
		return nil, fmt.Errorf("geoline aggregation: dataset %s has no termField", ds.Name)
	}
	subs := aggregationFields(in.SubLayer, in.Params.CustomAggregations)

	req := in.Query.Clone()
	b := boolQuery(req)
	ensureExtent(b, opts.DefaultExtent)
	terms := map[string]any{
		"terms": map[string]any{"field": opts.TermField, "size": ds.MaxResults},
	}
	req.Body["aggs"] = map[string]any{"agg": terms}
	req.Body["size"] = 0

	if !opts.IgnoreGeoBoundary {
		nested := map[string]any{"line": lineAgg(ds.GeometryField, opts.SortField, "")}
		maps.Copy(nested, subs)
		terms["aggs"] = nested
	}

	resp, err := in.Client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("geoline aggregation: %w", err)
	}
	buckets, err := resp.Buckets("agg")
	if err != nil {
		return nil, err
	}

	if opts.IgnoreGeoBoundary {
		keys := make([]any, 0, len(buckets))
		for _, bk := range buckets {
			keys = append(keys, bk.Key)
		}
		buckets = nil
		if len(keys) > 0 {
			delete(b, "filter")
			b["must"] = append(clauseList(b, "must"), map[string]any{
				"terms": map[string]any{opts.TermField: keys},
			})
			order := opts.SortOrder
			if order == "" {
				order = defaultLineSortOrder
			}
			nested := map[string]any{"line": lineAgg(ds.GeometryField, opts.SortField, order)}
			maps.Copy(nested, subs)
			terms["aggs"] = nested

			resp, err = in.Client.Search(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("geoline aggregation: unbounded pass: %w", err)
			}
			if buckets, err = resp.Buckets("agg"); err != nil {
				return nil, err
			}
		}
	}

	fc := in.Collection
	fc.Metadata.GeometryType = "MultiLineString"
	for _, bk := range buckets {
		f, err := lineFeature(bk, opts.TermField)
		if err != nil {
			observability.IncConversionWarning("bucket")
			if in.Logger != nil {
				in.Logger.WarnContext(ctx, "geoline bucket skipped", "key", bk.Key, "err", err)
			}
			continue
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}

// lineAgg builds the geo_line aggregation. A non-empty order also asks for
// the sort values to be returned.
func lineAgg(geometryField, sortField, order string) map[string]any {
	line := map[string]any{
		"point": map[string]any{"field": geometryField},
		"sort":  map[string]any{"field": sortField},
	}
	if order != "" {
		line["sort_order"] = order
		line["include_sort"] = true
	}
	return map[string]any{"geo_line": line}
}

func lineFeature(bk backend.Bucket, termField string) (*geojson.Feature, error) {
	line, ok := bk.Values["line"].(map[string]any)
	if !ok {
		return nil, errors.New("bucket has no line")
	}
	g, err := convert.Geometry(line["geometry"], false)
	if err != nil {
		return nil, err
	}
	f := geojson.NewFeature(g)
	f.Properties["count"] = bk.DocCount
	f.Properties[termField] = bk.Key
	for name, v := range bk.Values {
		if name == "line" {
			continue
		}
		if val, ok := convert.AggregationValue(v); ok {
			f.Properties[name] = val
		}
	}
	return f, nil
}
