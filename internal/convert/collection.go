package convert

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/metadata"
)

// ObjectIDField is the property carrying the synthesized feature identifier.
const ObjectIDField = "OBJECTID"

type TimeInfo struct {
	StartTimeField string    `json:"startTimeField"`
	EndTimeField   string    `json:"endTimeField"`
	TimeExtent     []float64 `json:"timeExtent,omitempty"`
}

type Metadata struct {
	Name           string           `json:"name,omitempty"`
	MaxRecordCount int              `json:"maxRecordCount,omitempty"`
	LimitExceeded  bool             `json:"limitExceeded,omitempty"`
	GeometryType   string           `json:"geometryType,omitempty"`
	IDField        string           `json:"idField,omitempty"`
	Extent         map[string]any   `json:"extent,omitempty"`
	TimeInfo       *TimeInfo        `json:"timeInfo,omitempty"`
	Fields         []metadata.Field `json:"fields,omitempty"`
	VT             map[string]any   `json:"vt,omitempty"`
}

// FiltersApplied tells the consumer which request filters the backend has
// already evaluated.
type FiltersApplied struct {
	Where    bool `json:"where,omitempty"`
	Geometry bool `json:"geometry,omitempty"`
	Offset   bool `json:"offset,omitempty"`
	Limit    bool `json:"limit,omitempty"`
}

type FeatureCollection struct {
	Type           string             `json:"type"`
	Features       []*geojson.Feature `json:"features"`
	Metadata       Metadata           `json:"metadata"`
	FiltersApplied *FiltersApplied    `json:"filtersApplied,omitempty"`
	Count          *int64             `json:"count,omitempty"`
}

func NewCollection(name string, maxRecordCount int) *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: []*geojson.Feature{},
		Metadata: Metadata{Name: name, MaxRecordCount: maxRecordCount},
	}
}

func (fc *FeatureCollection) SetCount(n int64) { fc.Count = &n }

// Filters returns the applied-filter flags, creating them on first use.
func (fc *FeatureCollection) Filters() *FiltersApplied {
	if fc.FiltersApplied == nil {
		fc.FiltersApplied = &FiltersApplied{}
	}
	return fc.FiltersApplied
}

// Rewind orients every polygon ring: outer rings counter-clockwise, holes
// clockwise.
func (fc *FeatureCollection) Rewind() {
	for _, f := range fc.Features {
		f.Geometry = Rewind(f.Geometry)
	}
}

// Layers is the response shape for a primary layer that carries sibling
// aggregation layers.
type Layers struct {
	Layers []*FeatureCollection `json:"layers"`
}

// Rewind returns g with polygon rings in right-hand-rule order. Other
// geometry types are returned unchanged.
func Rewind(g orb.Geometry) orb.Geometry {
	switch v := g.(type) {
	case orb.Polygon:
		return rewindPolygon(v)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = rewindPolygon(p)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, c := range v {
			out[i] = Rewind(c)
		}
		return out
	}
	return g
}

func rewindPolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		r = r.Clone()
		want := orb.CW
		if i == 0 {
			want = orb.CCW
		}
		if o := r.Orientation(); o != 0 && o != want {
			r.Reverse()
		}
		out[i] = r
	}
	return out
}
