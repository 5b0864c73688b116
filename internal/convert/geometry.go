package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

var ErrGeometry = errors.New("unsupported geometry")

var geometryTypes = map[string]string{
	"point":              "Point",
	"multipoint":         "MultiPoint",
	"linestring":         "LineString",
	"multilinestring":    "MultiLineString",
	"polygon":            "Polygon",
	"multipolygon":       "MultiPolygon",
	"geometrycollection": "GeometryCollection",
}

// Geometry normalizes a stored geometry value. Typed objects are read as
// GeoJSON with case-insensitive type names; untyped values are points.
// A nil value yields a nil geometry.
func Geometry(v any, allowMultiPoint bool) (orb.Geometry, error) {
	switch g := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if _, ok := g["type"]; ok {
			return typedGeometry(g)
		}
		return objectPoint(g)
	case []any:
		return arrayPoint(g, allowMultiPoint)
	case string:
		return stringGeometry(g)
	}
	return nil, fmt.Errorf("%w: %T", ErrGeometry, v)
}

func typedGeometry(m map[string]any) (orb.Geometry, error) {
	t, _ := m["type"].(string)
	if strings.EqualFold(t, "envelope") {
		return envelope(m["coordinates"])
	}
	normalized, err := canonicalTypes(m)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	g, err := geojson.UnmarshalGeometry(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	geom := g.Geometry()
	if mls, ok := geom.(orb.MultiLineString); ok && len(mls) == 1 {
		return mls[0], nil
	}
	return geom, nil
}

func canonicalTypes(m map[string]any) (map[string]any, error) {
	t, _ := m["type"].(string)
	name, ok := geometryTypes[strings.ToLower(t)]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", ErrGeometry, t)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	out["type"] = name
	if gs, ok := m["geometries"].([]any); ok {
		list := make([]any, 0, len(gs))
		for _, g := range gs {
			gm, ok := g.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: collection member %T", ErrGeometry, g)
			}
			c, err := canonicalTypes(gm)
			if err != nil {
				return nil, err
			}
			list = append(list, c)
		}
		out["geometries"] = list
	}
	return out, nil
}

// envelope reads the [[minLon,maxLat],[maxLon,minLat]] form.
func envelope(coords any) (orb.Geometry, error) {
	pair, ok := coords.([]any)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("%w: malformed envelope", ErrGeometry)
	}
	tl, err := position(pair[0])
	if err != nil {
		return nil, err
	}
	br, err := position(pair[1])
	if err != nil {
		return nil, err
	}
	return orb.Bound{Min: orb.Point{tl[0], br[1]}, Max: orb.Point{br[0], tl[1]}}.ToPolygon(), nil
}

func objectPoint(m map[string]any) (orb.Geometry, error) {
	lon, ok1 := number(m["lon"])
	lat, ok2 := number(m["lat"])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: object without lat/lon", ErrGeometry)
	}
	return orb.Point{lon, lat}, nil
}

func arrayPoint(a []any, allowMultiPoint bool) (orb.Geometry, error) {
	if len(a) == 0 {
		return nil, fmt.Errorf("%w: empty point array", ErrGeometry)
	}
	if _, single := number(a[0]); single {
		p, err := position(a)
		if err != nil {
			return nil, err
		}
		if allowMultiPoint {
			return orb.MultiPoint{p}, nil
		}
		return p, nil
	}
	if !allowMultiPoint {
		return point(a[0])
	}
	mp := make(orb.MultiPoint, 0, len(a))
	for _, v := range a {
		p, err := point(v)
		if err != nil {
			return nil, err
		}
		mp = append(mp, p)
	}
	return mp, nil
}

// point reads one member of a point array.
func point(v any) (orb.Point, error) {
	switch p := v.(type) {
	case map[string]any:
		g, err := objectPoint(p)
		if err != nil {
			return orb.Point{}, err
		}
		return g.(orb.Point), nil
	case []any:
		return position(p)
	case string:
		g, err := stringGeometry(p)
		if err != nil {
			return orb.Point{}, err
		}
		if pt, ok := g.(orb.Point); ok {
			return pt, nil
		}
	}
	return orb.Point{}, fmt.Errorf("%w: point member %T", ErrGeometry, v)
}

// stringGeometry accepts "lat,lon", WKT and geohash encodings.
func stringGeometry(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if lat, lon, ok := strings.Cut(s, ","); ok {
		y, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		x, err2 := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: point string %q", ErrGeometry, s)
		}
		return orb.Point{x, y}, nil
	}
	if strings.Contains(s, "(") {
		g, err := wkt.Unmarshal(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
		}
		return g, nil
	}
	if err := geohash.Validate(strings.ToLower(s)); err == nil && s != "" {
		lat, lng := geohash.DecodeCenter(strings.ToLower(s))
		return orb.Point{lng, lat}, nil
	}
	return nil, fmt.Errorf("%w: point string %q", ErrGeometry, s)
}

func position(v any) (orb.Point, error) {
	a, ok := v.([]any)
	if !ok || len(a) < 2 {
		return orb.Point{}, fmt.Errorf("%w: position %v", ErrGeometry, v)
	}
	x, ok1 := number(a[0])
	y, ok2 := number(a[1])
	if !ok1 || !ok2 {
		return orb.Point{}, fmt.Errorf("%w: position %v", ErrGeometry, v)
	}
	return orb.Point{x, y}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
