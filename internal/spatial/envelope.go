// Package spatial builds backend spatial filters from request geometries and
// holds the small amount of planar math the engine needs (reprojection,
// clamping, tiles, antimeridian splitting).
package spatial

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

// ErrInvalidEnvelope marks a request geometry that yields no usable area.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// ErrInvalidGeometry marks a request geometry that cannot be interpreted at all.
var ErrInvalidGeometry = errors.New("invalid geometry")

// World is the full geographic extent.
var World = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// RawEnvelope returns the envelope of g in its own spatial reference. Polygons
// use the vertices of their first ring only.
func RawEnvelope(g *model.Geometry) (orb.Bound, error) {
	if g == nil {
		return orb.Bound{}, ErrInvalidGeometry
	}
	if g.IsPolygon() {
		ring := g.Rings[0]
		if len(ring) == 0 {
			return orb.Bound{}, ErrInvalidGeometry
		}
		var b orb.Bound
		for i, p := range ring {
			if len(p) < 2 {
				return orb.Bound{}, ErrInvalidGeometry
			}
			pt := orb.Point{p[0], p[1]}
			if i == 0 {
				b = pt.Bound()
				continue
			}
			b = b.Extend(pt)
		}
		return b, nil
	}
	if g.XMin == nil && g.XMax == nil {
		return orb.Bound{}, ErrInvalidEnvelope
	}
	if g.XMin == nil || g.XMax == nil || g.YMin == nil || g.YMax == nil {
		return orb.Bound{}, ErrInvalidGeometry
	}
	return orb.Bound{
		Min: orb.Point{*g.XMin, *g.YMin},
		Max: orb.Point{*g.XMax, *g.YMax},
	}, nil
}

// ToGeographic reprojects a Web Mercator envelope through its top-left and
// bottom-right corners.
func ToGeographic(b orb.Bound) orb.Bound {
	tl := project.Mercator.ToWGS84(orb.Point{b.Min[0], b.Max[1]})
	br := project.Mercator.ToWGS84(orb.Point{b.Max[0], b.Min[1]})
	return orb.Bound{Min: orb.Point{tl[0], br[1]}, Max: orb.Point{br[0], tl[1]}}
}

// PointToGeographic reprojects a single Web Mercator point.
func PointToGeographic(p orb.Point) orb.Point {
	return project.Mercator.ToWGS84(p)
}

// Clamp limits b to valid longitude and latitude ranges.
func Clamp(b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Max(-180, b.Min[0]), math.Max(-90, b.Min[1])},
		Max: orb.Point{math.Min(180, b.Max[0]), math.Min(90, b.Max[1])},
	}
}

// Envelope resolves the geographic search envelope of a request geometry:
// first-ring envelope, Mercator inverse when needed, then clamping.
// Zero-width, zero-height or inverted envelopes are ErrInvalidEnvelope.
func Envelope(g *model.Geometry) (orb.Bound, error) {
	b, err := RawEnvelope(g)
	if err != nil {
		return orb.Bound{}, err
	}
	if g.SpatialReference.IsWebMercator() {
		b = ToGeographic(b)
	}
	b = Clamp(b)
	if err := Validate(b); err != nil {
		return orb.Bound{}, err
	}
	return b, nil
}

// Validate rejects envelopes without area.
func Validate(b orb.Bound) error {
	if b.Min[0] == b.Max[0] || b.Min[1] == b.Max[1] || b.Max[1] < b.Min[1] {
		return ErrInvalidEnvelope
	}
	if math.IsNaN(b.Min[0]) || math.IsNaN(b.Min[1]) || math.IsNaN(b.Max[0]) || math.IsNaN(b.Max[1]) {
		return ErrInvalidEnvelope
	}
	return nil
}
