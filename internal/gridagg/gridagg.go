// Package gridagg implements the aggregation sub-layer strategies: geohash,
// geotile and hex cell binning, and per-group line assembly.
package gridagg

import (
	"maps"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	h3mapper "github.com/mohammed-shakir/geo-search-bridge/internal/mapper/h3"
)

const (
	GeoHashName = "geohash_aggregation"
	GeoTileName = "geotile_aggregation"
	GeoHexName  = "geohex_aggregation"
	GeoLineName = "geoline_aggregation"
)

// geographicOffsetFactor scales configured offsets (meters) into degrees
// when the client works in geographic coordinates.
const geographicOffsetFactor = 0.00001

// Register adds the built-in strategies to set.
func Register(set *capability.Set) error {
	for _, s := range []capability.Strategy{
		GeoHash{},
		GeoTile{},
		NewGeoHex(h3mapper.New()),
		GeoLine{},
	} {
		if err := set.Strategies.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// chooseLevel returns the level of the first entry whose offset covers the
// requested maxAllowableOffset. Client-supplied levels win over configured
// ones. ok is false when no entry qualifies.
func chooseLevel(configured []model.GridLevel, q model.RequestQuery) (level int, ok bool) {
	levels := configured
	if len(q.TileConfig) > 0 {
		levels = q.TileConfig
	}
	factor := 1.0
	if q.InSR == model.WKIDGeographic {
		factor = geographicOffsetFactor
	}
	for _, l := range levels {
		if l.Offset*factor >= q.MaxAllowableOffset {
			return l.Level(), true
		}
	}
	return 0, false
}

// aggregationFields returns the nested aggregations for the request: the
// client's customAggregations, else the configured ones.
func aggregationFields(sl catalog.SubLayer, custom map[string]any) map[string]any {
	if len(custom) > 0 {
		return custom
	}
	return sl.Options.AggregationFields
}

// withSubAggs attaches nested aggregations to an aggregation body.
func withSubAggs(agg map[string]any, subs map[string]any) map[string]any {
	if len(subs) > 0 {
		agg["aggs"] = maps.Clone(subs)
	}
	return agg
}

// defaultReturnFields is the shared layer schema: a count plus one zero
// per aggregation field.
func defaultReturnFields(name string, ds *catalog.DatasetConfig, custom map[string]any) map[string]any {
	props := map[string]any{"count": 0}
	sl, ok := ds.SubLayer(name)
	if !ok {
		return props
	}
	for field := range aggregationFields(sl, custom) {
		props[field] = 0
	}
	return props
}

// boolQuery returns the body's bool query, creating it when absent.
func boolQuery(req backend.SearchRequest) map[string]any {
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
	return b
}

func clauseList(b map[string]any, occur string) []any {
	switch v := b[occur].(type) {
	case []any:
		return v
	case map[string]any:
		return []any{v}
	}
	return nil
}

// ensureExtent adds the configured default extent as a filter when the
// query has no spatial filter at all. It reports whether the query was
// bounded before the call.
func ensureExtent(b map[string]any, extent map[string]any) bool {
	if len(clauseList(b, "filter")) > 0 {
		return true
	}
	if len(extent) > 0 {
		b["filter"] = []any{maps.Clone(extent)}
	}
	return false
}
