package h3mapper

import (
	"fmt"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

const (
	MinRes = 0
	MaxRes = 15
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellPolygon(cell string) (orb.Polygon, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return nil, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid h3 cell %q", cell)
	}
	b, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("boundary: %w", err)
	}
	if len(b) < 3 {
		return nil, fmt.Errorf("degenerate boundary for %s", cell)
	}
	ring := make(orb.Ring, 0, len(b)+1)
	for _, ll := range b {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}, nil
}

// ValidateRes rejects resolutions outside 0..15.
func ValidateRes(res int) error {
	if res < MinRes || res > MaxRes {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
