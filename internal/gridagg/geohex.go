package gridagg

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/mapper"
	h3mapper "github.com/mohammed-shakir/geo-search-bridge/internal/mapper/h3"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

// GeoHex bins documents into H3 cells. Cells crossing the antimeridian are
// emitted as two polygons.
type GeoHex struct {
	cells mapper.Interface
}

func NewGeoHex(cells mapper.Interface) GeoHex { return GeoHex{cells: cells} }

func (GeoHex) Name() string { return GeoHexName }

func (GeoHex) DefaultReturnFields(_ backend.Mapping, ds *catalog.DatasetConfig, custom map[string]any) map[string]any {
	return defaultReturnFields(GeoHexName, ds, custom)
}

func (g GeoHex) Features(ctx context.Context, in capability.AggregationInput) (*convert.FeatureCollection, error) {
	ds := in.Dataset
	res, _ := chooseLevel(in.SubLayer.Options.HexConfig, in.Params)
	if err := h3mapper.ValidateRes(res); err != nil {
		return nil, fmt.Errorf("geohex aggregation: %w", err)
	}

	req := in.Query.Clone()
	req.Body["aggs"] = map[string]any{
		"agg": withSubAggs(map[string]any{
			"geohex_grid": map[string]any{
				"field":     ds.GeometryField,
				"precision": res,
				"size":      ds.MaxResults,
			},
		}, aggregationFields(in.SubLayer, in.Params.CustomAggregations)),
	}
	req.Body["size"] = 0

	resp, err := in.Client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("geohex aggregation: %w", err)
	}
	buckets, err := resp.Buckets("agg")
	if err != nil {
		return nil, err
	}

	fc := in.Collection
	fc.Metadata.GeometryType = "MultiPolygon"
	fc.SetCount(resp.Total)
	for _, bk := range buckets {
		key, _ := bk.Key.(string)
		poly, err := g.cells.CellPolygon(key)
		if err != nil {
			observability.IncConversionWarning("bucket")
			if in.Logger != nil {
				in.Logger.WarnContext(ctx, "geohex bucket skipped", "key", bk.Key, "err", err)
			}
			continue
		}
		f := geojson.NewFeature(spatial.SplitAntimeridian(poly))
		f.ID = key
		f.Properties[convert.ObjectIDField] = key
		f.Properties["count"] = bk.DocCount
		for name, v := range bk.Values {
			if val, ok := convert.AggregationValue(v); ok {
				f.Properties[name] = val
			}
		}
		fc.Features = append(fc.Features, f)
	}
	return fc, nil
}
