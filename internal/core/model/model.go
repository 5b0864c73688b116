// Package model defines request-side domain types shared across the service.
package model

import (
	"fmt"
	"strings"
)

const (
	WKIDWebMercator       = 102100
	WKIDWebMercatorLatest = 3857
	WKIDGeographic        = 4326
)

type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

func (s *SpatialReference) IsWebMercator() bool {
	if s == nil {
		return false
	}
	return s.WKID == WKIDWebMercator || s.WKID == WKIDWebMercatorLatest || s.LatestWKID == WKIDWebMercatorLatest
}

// Geometry is the request geometry: an envelope, a polygon (rings) or a point.
// Envelope bounds are pointers because clients may send them as null.
type Geometry struct {
	XMin             *float64          `json:"xmin,omitempty"`
	YMin             *float64          `json:"ymin,omitempty"`
	XMax             *float64          `json:"xmax,omitempty"`
	YMax             *float64          `json:"ymax,omitempty"`
	Rings            [][][]float64     `json:"rings,omitempty"`
	X                *float64          `json:"x,omitempty"`
	Y                *float64          `json:"y,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

func (g *Geometry) IsPolygon() bool { return g != nil && len(g.Rings) > 0 }

func (g *Geometry) IsPoint() bool { return g != nil && g.X != nil && g.Y != nil }

// EnvelopeGeometry is a convenience constructor for a plain envelope.
func EnvelopeGeometry(xmin, ymin, xmax, ymax float64, sr *SpatialReference) *Geometry {
	return &Geometry{XMin: &xmin, YMin: &ymin, XMax: &xmax, YMax: &ymax, SpatialReference: sr}
}

func PointGeometry(x, y float64, sr *SpatialReference) *Geometry {
	return &Geometry{X: &x, Y: &y, SpatialReference: sr}
}

// Tile is a slippy-map tile address.
type Tile struct {
	X, Y, Z int
}

func (t Tile) String() string { return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y) }

// GridLevel pairs a screen-resolution threshold with a grid precision
// (geohash/geotile) or resolution (hex).
type GridLevel struct {
	Precision  int     `json:"precision,omitempty" yaml:"precision,omitempty"`
	Resolution int     `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Offset     float64 `json:"offset" yaml:"offset"`
}

func (l GridLevel) Level() int {
	if l.Resolution != 0 {
		return l.Resolution
	}
	return l.Precision
}

type RequestQuery struct {
	Where              string
	Geometry           *Geometry
	InSR               int
	Time               string
	Distance           float64
	Units              string
	OutFields          string
	ReturnGeometry     *bool
	ReturnCountOnly    bool
	ResultOffset       int
	ResultRecordCount  int
	MaxAllowableOffset float64
	SourceSearch       string
	CustomAggregations map[string]any
	TileConfig         []GridLevel
	Tile               *Tile
}

// GeometryRequested reports whether the caller did not explicitly suppress geometry.
func (q RequestQuery) GeometryRequested() bool {
	return q.ReturnGeometry == nil || *q.ReturnGeometry
}

// OutFieldList returns the explicit output fields, or nil for "*" / unset.
func (q RequestQuery) OutFieldList() []string {
	of := strings.TrimSpace(q.OutFields)
	if of == "" || of == "*" {
		return nil
	}
	parts := strings.Split(of, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Request is the inbound feature-query descriptor.
type Request struct {
	Backend    string
	Dataset    string
	Layer      string
	VectorTile bool
	Query      RequestQuery
}

// HasLayer reports whether an explicit layer selector was supplied.
func (r Request) HasLayer() bool { return strings.TrimSpace(r.Layer) != "" }
