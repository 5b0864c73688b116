// Package mapper converts grid cell identifiers into polygons.
package mapper

import "github.com/paulmach/orb"

type Interface interface {
	// CellPolygon returns the closed boundary ring of a cell in lon/lat order.
	CellPolygon(cell string) (orb.Polygon, error)
}
