package spatial

import (
	"math"

	"github.com/paulmach/orb"
)

// SplitAntimeridian splits a polygon whose outer ring jumps across the
// antimeridian into two polygons, one per hemisphere. Anything else is
// returned unchanged. Only the outer ring is considered.
func SplitAntimeridian(p orb.Polygon) orb.Geometry {
	if len(p) == 0 || !crossesAntimeridian(p[0]) {
		return p
	}

	shifted := make(orb.Ring, len(p[0]))
	for i, pt := range p[0] {
		shifted[i] = orb.Point{shift(pt[0]), pt[1]}
	}

	// the non-negative half lands in the western hemisphere once shifted back
	west := clipAtZero(shifted, func(x float64) bool { return x >= 0 })
	east := clipAtZero(shifted, func(x float64) bool { return x <= 0 })
	if len(west) < 4 || len(east) < 4 {
		return p
	}
	return orb.MultiPolygon{
		{shiftBack(west)},
		{shiftBack(east)},
	}
}

// crossesAntimeridian requires both hemispheres and at least one edge longer
// than half the globe, so rings straddling the prime meridian are left alone.
func crossesAntimeridian(r orb.Ring) bool {
	xmin, xmax := 180.0, -180.0
	for _, pt := range r {
		xmin = math.Min(xmin, pt[0])
		xmax = math.Max(xmax, pt[0])
	}
	if !(xmin < 0 && xmax > 0) {
		return false
	}
	for i := 1; i < len(r); i++ {
		if math.Abs(r[i][0]-r[i-1][0]) > 180 {
			return true
		}
	}
	return false
}

func shift(x float64) float64 {
	if x > 0 {
		return x - 180
	}
	return x + 180
}

// shiftBack moves a clipped half to its final hemisphere.
func shiftBack(r orb.Ring) orb.Ring {
	positive := true
	for _, pt := range r {
		if pt[0] < 0 {
			positive = false
			break
		}
	}
	out := make(orb.Ring, len(r))
	for i, pt := range r {
		if positive {
			out[i] = orb.Point{pt[0] - 180, pt[1]}
		} else {
			out[i] = orb.Point{pt[0] + 180, pt[1]}
		}
	}
	return out
}

// clipAtZero keeps the part of a closed ring on one side of x=0.
func clipAtZero(r orb.Ring, inside func(x float64) bool) orb.Ring {
	var out orb.Ring
	for i := 0; i+1 < len(r); i++ {
		a, b := r[i], r[i+1]
		if inside(a[0]) {
			out = append(out, a)
		}
		if (a[0] < 0 && b[0] > 0) || (a[0] > 0 && b[0] < 0) {
			t := a[0] / (a[0] - b[0])
			out = append(out, orb.Point{0, a[1] + t*(b[1]-a[1])})
		}
	}
	if len(out) > 0 && !out[0].Equal(out[len(out)-1]) {
		out = append(out, out[0])
	}
	return out
}
