package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

const (
	// minTileResolution floors the derived screen resolution at low zooms.
	minTileResolution = 4.864
	// maxZoomResolution is the ground distance per pixel at zoom 22.
	maxZoomResolution = 0.019
)

// TileEnvelope returns the geographic envelope of a slippy tile, grown by
// buffer tile widths on every side.
func TileEnvelope(t model.Tile, buffer float64) orb.Bound {
	mt := maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(t.Z))
	if buffer > 0 {
		return mt.Bound(buffer)
	}
	return mt.Bound()
}

// TileResolution is the screen-resolution hint for a zoom level: it halves
// with every zoom step and never drops below minTileResolution.
func TileResolution(z int) float64 {
	return math.Max(minTileResolution, maxZoomResolution*math.Pow(2, float64(22-z)))
}

// TileGeometry returns the tile envelope as a request geometry.
func TileGeometry(t model.Tile, buffer float64) *model.Geometry {
	b := TileEnvelope(t, buffer)
	return model.EnvelopeGeometry(b.Min[0], b.Min[1], b.Max[0], b.Max[1], nil)
}

// TilePolygon converts a "z/x/y" grid key into the tile polygon.
func TilePolygon(t model.Tile) orb.Polygon {
	return TileEnvelope(t, 0).ToPolygon()
}
