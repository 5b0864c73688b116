package convert

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
)

// poleEpsilon keeps cells touching a pole from degenerating.
const poleEpsilon = 1e-6

// FeatureFromGeoHashBucket converts one geohash grid bucket. Properties are
// sampled from one representative document (without its identifier) and
// the identifier is derived from the grid key. A bucket whose cell lies
// outside applied, the bounding box the query was filtered by, is dropped
// and (nil, nil) is returned.
func (c *Converter) FeatureFromGeoHashBucket(ctx context.Context, b backend.Bucket, sample *backend.Hit, applied *orb.Bound) (*geojson.Feature, error) {
	key, ok := b.Key.(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: geohash bucket key %v", ErrGeometry, b.Key)
	}
	cell := GeoHashBound(key)
	if applied != nil && !cell.Intersects(*applied) {
		return nil, nil
	}

	f := geojson.NewFeature(cell.ToPolygon())
	if sample != nil {
		sf, err := c.FeatureFromHit(ctx, *sample)
		if err != nil {
			c.logger.WarnContext(ctx, "bucket sample not converted", "key", key, "err", err)
		} else if sf != nil {
			for k, v := range sf.Properties {
				if k != ObjectIDField {
					f.Properties[k] = v
				}
			}
		}
	}
	for name, v := range b.Values {
		if val, ok := AggregationValue(v); ok {
			f.Properties[name] = val
		}
	}
	f.Properties["count"] = b.DocCount
	id := GeoHashID(key)
	f.Properties[ObjectIDField] = id
	f.ID = id
	return f, nil
}

// GeoHashBound decodes a geohash cell, pulling edges that sit exactly on a
// pole inward.
func GeoHashBound(key string) orb.Bound {
	box := geohash.BoundingBox(strings.ToLower(key))
	minLat, maxLat := box.MinLat, box.MaxLat
	if minLat <= -90 {
		minLat = -90 + poleEpsilon
	}
	if maxLat >= 90 {
		maxLat = 90 - poleEpsilon
	}
	return orb.Bound{Min: orb.Point{box.MinLng, minLat}, Max: orb.Point{box.MaxLng, maxLat}}
}

// GeoHashID synthesizes a numeric identifier from a grid key. Digits pass
// through and letters become their alphabet position plus 10, so "b" is 11.
// Keys too long for an int64 are reduced modulo math.MaxInt64.
func GeoHashID(key string) int64 {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteString(strconv.Itoa(int(r-'a') + 10))
		}
	}
	digits := b.String()
	if digits == "" {
		return 0
	}
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return n
	}
	n, _ := new(big.Int).SetString(digits, 10)
	return n.Mod(n, big.NewInt(math.MaxInt64)).Int64()
}

// AggregationValue extracts the scalar result of a nested metric
// aggregation: its "value", or the key of its first bucket.
func AggregationValue(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if val, ok := m["value"]; ok {
		return val, true
	}
	if bs, ok := m["buckets"].([]any); ok && len(bs) > 0 {
		if first, ok := bs[0].(map[string]any); ok {
			return first["key"], true
		}
	}
	return nil, false
}
