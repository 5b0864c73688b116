package gridagg

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

const maxGeoHashPrecision = 12

// GeoHash bins documents into geohash cells. One document is fetched
// alongside the buckets to sample cell properties from.
type GeoHash struct{}

func (GeoHash) Name() string { return GeoHashName }

func (GeoHash) DefaultReturnFields(_ backend.Mapping, ds *catalog.DatasetConfig, custom map[string]any) map[string]any {
	return defaultReturnFields(GeoHashName, ds, custom)
}

func (GeoHash) Features(ctx context.Context, in capability.AggregationInput) (*convert.FeatureCollection, error) {
	ds, opts := in.Dataset, in.SubLayer.Options
	req := in.Query.Clone()
	b := boolQuery(req)

	var extent *orb.Bound
	if in.Params.Geometry != nil && in.Params.Distance <= 0 {
		if e, err := spatial.Envelope(in.Params.Geometry); err == nil {
			extent = &e
		}
	}

	precision, ok := chooseLevel(opts.TileConfig, in.Params)
	if !ok || precision < 1 {
		precision = 1
		if len(opts.TileConfig) == 0 && len(in.Params.TileConfig) == 0 && extent != nil {
			precision = PrecisionForExtent(*extent)
		}
	}
	precision = min(precision, maxGeoHashPrecision)

	size := ds.MaxResults
	if bounded := ensureExtent(b, opts.DefaultExtent); !bounded && ds.MaxLayerInfoResults > 0 {
		size = ds.MaxLayerInfoResults
	}

	var applied *orb.Bound
	if extent != nil {
		fitted := FitToHashes(*extent, PrecisionForExtent(*extent))
		if replaceBoundsFilter(b, fitted, ds) {
			applied = &fitted
		}
	}

	req.Body["aggregations"] = map[string]any{
		"agg_grid": withSubAggs(map[string]any{
			"geohash_grid": map[string]any{
				"field":     ds.GeometryField,
				"precision": precision,
				"size":      size,
			},
		}, aggregationFields(in.SubLayer, in.Params.CustomAggregations)),
	}
	req.Body["size"] = 1

	resp, err := in.Client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("geohash aggregation: %w", err)
	}
	buckets, err := resp.Buckets("agg_grid")
	if err != nil {
		return nil, err
	}
	var sample *backend.Hit
	if len(resp.Hits) > 0 {
		sample = &resp.Hits[0]
	}

	fc := in.Collection
	fc.Metadata.GeometryType = "Polygon"
	conv := convert.New(ds, convert.Options{Mapping: in.Mapping}, in.Logger)
	for _, bk := range buckets {
		f, err := conv.FeatureFromGeoHashBucket(ctx, bk, sample, applied)
		if err != nil {
			observability.IncConversionWarning("bucket")
			if in.Logger != nil {
				in.Logger.WarnContext(ctx, "geohash bucket skipped", "key", bk.Key, "err", err)
			}
			continue
		}
		if f != nil {
			fc.Features = append(fc.Features, f)
		}
	}
	return fc, nil
}

// replaceBoundsFilter swaps every envelope-style spatial filter for one over
// b. It reports whether anything was replaced.
func replaceBoundsFilter(boolQ map[string]any, b orb.Bound, ds *catalog.DatasetConfig) bool {
	filters := clauseList(boolQ, "filter")
	replaced := false
	for i, f := range filters {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := m["geo_bounding_box"]; ok {
			filters[i] = spatial.BoundsFilter(b, ds.GeometryField, catalog.GeoPoint)
			replaced = true
		} else if _, ok := m["geo_shape"]; ok {
			filters[i] = spatial.BoundsFilter(b, ds.GeometryField, catalog.GeoShape)
			replaced = true
		}
	}
	if replaced {
		boolQ["filter"] = filters
	}
	return replaced
}

// geohash precision thresholds, in kilometers per fifteenth of the
// envelope's latitude span.
var precisionSteps = []struct {
	km        float64
	precision int
}{
	{0.00477, 9},
	{0.0191, 8},
	{0.153, 7},
	{0.61, 6},
	{4.9, 5},
	{19.5, 4},
	{156, 3},
	{625, 2},
}

// PrecisionForExtent derives a geohash precision from the latitude span of
// a geographic envelope.
func PrecisionForExtent(b orb.Bound) int {
	step := (b.Max[1] - b.Min[1]) * 111 / 15
	for _, s := range precisionSteps {
		if step <= s.km {
			return s.precision
		}
	}
	return 1
}

// FitToHashes grows or shrinks b to the union of the geohash cells at the
// given precision whose centers fall inside b. When no center falls inside,
// b is returned unchanged. The result is clamped to the globe.
func FitToHashes(b orb.Bound, precision int) orb.Bound {
	bits := 5 * precision
	lonStep := 360 / math.Pow(2, float64((bits+1)/2))
	latStep := 180 / math.Pow(2, float64(bits/2))

	x0, x1, okX := centerSpan(b.Min[0]+180, b.Max[0]+180, lonStep)
	y0, y1, okY := centerSpan(b.Min[1]+90, b.Max[1]+90, latStep)
	if !okX || !okY {
		return b
	}
	out := orb.Bound{
		Min: orb.Point{-180 + x0*lonStep, -90 + y0*latStep},
		Max: orb.Point{-180 + (x1+1)*lonStep, -90 + (y1+1)*latStep},
	}
	out.Min[0] = math.Max(-180, out.Min[0])
	out.Max[0] = math.Min(180, out.Max[0])
	out.Min[1] = math.Max(-90, out.Min[1])
	out.Max[1] = math.Min(90, out.Max[1])
	return out
}

// centerSpan returns the first and last cell index along one axis whose
// center lies within [lo, hi], with both measured from the axis origin.
func centerSpan(lo, hi, step float64) (float64, float64, bool) {
	first := math.Ceil(lo/step - 0.5)
	last := math.Floor(hi/step - 0.5)
	if last < first {
		return 0, 0, false
	}
	return first, last, true
}
