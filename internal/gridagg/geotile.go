package gridagg

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

// tileIDModulus keeps tile identifiers within a signed 32-bit range.
const tileIDModulus = math.MaxInt32

// GeoTile bins documents into slippy map tiles.
type GeoTile struct{}

func (GeoTile) Name() string { return GeoTileName }

func (GeoTile) DefaultReturnFields(_ backend.Mapping, ds *catalog.DatasetConfig, custom map[string]any) map[string]any {
	return defaultReturnFields(GeoTileName, ds, custom)
}

func (GeoTile) Features(ctx context.Context, in capability.AggregationInput) (*convert.FeatureCollection, error) {
	ds := in.Dataset
	precision, _ := chooseLevel(in.SubLayer.Options.TileConfig, in.Params)

	req := in.Query.Clone()
	req.Body["aggs"] = map[string]any{
		"agg": withSubAggs(map[string]any{
			"geotile_grid": map[string]any{
				"field":     ds.GeometryField,
				"precision": precision,
				"size":      ds.MaxResults,
			},
		}, aggregationFields(in.SubLayer, in.Params.CustomAggregations)),
	}
	req.Body["size"] = 0

	resp, err := in.Client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("geotile aggregation: %w", err)
	}
	buckets, err := resp.Buckets("agg")
	if err != nil {
		return nil, err
	}

	fc := in.Collection
	fc.Metadata.GeometryType = "Polygon"
	for _, bk := range buckets {
		key, _ := bk.Key.(string)
		tile, err := ParseTileKey(key)
		if err != nil {
			observability.IncConversionWarning("bucket")
			if in.Logger != nil {
				in.Logger.WarnContext(ctx, "geotile bucket skipped", "key", bk.Key, "err", err)
			}
			continue
		}
		f := geojson.NewFeature(spatial.TilePolygon(tile))
		id := TileID(key)
		f.ID = id
		f.Properties[convert.ObjectIDField] = id
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

// ParseTileKey decodes a "z/x/y" grid key.
func ParseTileKey(key string) (model.Tile, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return model.Tile{}, fmt.Errorf("tile key %q: want z/x/y", key)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return model.Tile{}, fmt.Errorf("tile key %q: bad component %q", key, p)
		}
		n[i] = v
	}
	if n[0] > 29 || n[1] >= 1<<n[0] || n[2] >= 1<<n[0] {
		return model.Tile{}, fmt.Errorf("tile key %q: out of range", key)
	}
	return model.Tile{Z: n[0], X: n[1], Y: n[2]}, nil
}

// TileID concatenates the key's digits and reduces the number modulo
// MaxInt32, so "3/2/1" is 321.
func TileID(key string) int64 {
	digits := strings.ReplaceAll(key, "/", "")
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return n % tileIDModulus
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return 0
	}
	return n.Mod(n, big.NewInt(tileIDModulus)).Int64()
}
