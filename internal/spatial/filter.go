package spatial

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

// distanceUnits maps protocol unit names to backend distance suffixes.
var distanceUnits = map[string]string{
	"esrisrunit_meter":             "m",
	"esrisrunit_kilometer":         "km",
	"esrisrunit_foot":              "ft",
	"esrisrunit_surveyfoot":        "ft",
	"esrisrunit_internationalfoot": "ft",
	"esrisrunit_statutemile":       "mi",
	"esrisrunit_usnauticalmile":    "nmi",
	"esrisrunit_nauticalmile":      "nmi",
	"esrisrunit_internationalyard": "yd",
	"esrisrunit_usyard":            "yd",
	"esrisrunit_centimeter":        "cm",
	"esrisrunit_millimeter":        "mm",
	"esrisrunit_internationalinch": "in",
	"esrisrunit_usinch":            "in",
	"9001":                         "m",
	"9036":                         "km",
	"9002":                         "ft",
	"9003":                         "ft",
	"9035":                         "mi",
	"9030":                         "nmi",
	"109001":                       "mm",
	"109003":                       "cm",
}

// DistanceUnit resolves a protocol unit to the backend suffix. An empty unit
// means meters.
func DistanceUnit(units string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(units))
	if u == "" {
		return "m", nil
	}
	if s, ok := distanceUnits[u]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: unsupported distance units %q", ErrInvalidGeometry, units)
}

// Filter builds the spatial filter for a request. It returns nil when the
// request carries no geometry. An envelope without area yields
// ErrInvalidEnvelope.
func Filter(q model.RequestQuery, ds *catalog.DatasetConfig) (map[string]any, error) {
	if q.Geometry == nil {
		return nil, nil
	}
	if q.Distance > 0 {
		return DistanceFilter(q.Geometry, q.Distance, q.Units, ds.GeometryField)
	}
	b, err := Envelope(q.Geometry)
	if err != nil {
		return nil, err
	}
	return BoundsFilter(b, ds.GeometryField, ds.GeometryType), nil
}

// BoundsFilter filters geometryField by an already resolved geographic
// envelope: a bounding box for geo_point fields, an intersecting envelope
// shape otherwise.
func BoundsFilter(b orb.Bound, geometryField, geometryType string) map[string]any {
	topLeft := []float64{b.Min[0], b.Max[1]}
	bottomRight := []float64{b.Max[0], b.Min[1]}
	if strings.EqualFold(geometryType, catalog.GeoPoint) {
		return map[string]any{"geo_bounding_box": map[string]any{
			geometryField: map[string]any{
				"top_left":     topLeft,
				"bottom_right": bottomRight,
			},
		}}
	}
	return map[string]any{"geo_shape": map[string]any{
		geometryField: map[string]any{
			"shape": map[string]any{
				"type":        "envelope",
				"coordinates": [][]float64{topLeft, bottomRight},
			},
			"relation": "intersects",
		},
	}}
}

// DistanceFilter builds a radius filter around the request point. Polygons
// and envelopes use their first vertex and lower-left corner respectively.
func DistanceFilter(g *model.Geometry, distance float64, units, geometryField string) (map[string]any, error) {
	suffix, err := DistanceUnit(units)
	if err != nil {
		return nil, err
	}
	var p orb.Point
	switch {
	case g.IsPoint():
		p = orb.Point{*g.X, *g.Y}
	default:
		b, err := RawEnvelope(g)
		if err != nil {
			return nil, err
		}
		p = b.Min
	}
	if g.SpatialReference.IsWebMercator() {
		p = PointToGeographic(p)
	}
	return map[string]any{"geo_distance": map[string]any{
		"distance":    strconv.FormatFloat(distance, 'f', -1, 64) + suffix,
		geometryField: []float64{p[0], p[1]},
	}}, nil
}
