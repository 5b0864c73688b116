package spatial

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

var mercator = &model.SpatialReference{WKID: model.WKIDWebMercator}

func TestEnvelope_MercatorAlwaysClamped(t *testing.T) {
	cases := []struct{ xmin, ymin, xmax, ymax float64 }{
		{-20037508.34, -20037508.34, 20037508.34, 20037508.34},
		{-1e9, -1e9, 1e9, 1e9},
		{-30000000, 100, 30000000, 200},
		{1113194.9, 1118889.9, 2226389.8, 2273030.9},
	}
	for _, c := range cases {
		b, err := Envelope(model.EnvelopeGeometry(c.xmin, c.ymin, c.xmax, c.ymax, mercator))
		if err != nil {
			t.Fatalf("%+v: %v", c, err)
		}
		if b.Min[0] < -180 || b.Max[0] > 180 || b.Min[1] < -90 || b.Max[1] > 90 {
			t.Fatalf("%+v: out of range %v", c, b)
		}
	}
}

func TestEnvelope_MercatorReprojects(t *testing.T) {
	b, err := Envelope(model.EnvelopeGeometry(1113194.9079, 1118889.9748, 2226389.8158, 2273030.9269, mercator))
	if err != nil {
		t.Fatal(err)
	}
	want := orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{20, 20}}
	if math.Abs(b.Min[0]-want.Min[0]) > 1e-4 || math.Abs(b.Max[1]-want.Max[1]) > 1e-4 ||
		math.Abs(b.Max[0]-want.Max[0]) > 1e-4 || math.Abs(b.Min[1]-want.Min[1]) > 1e-4 {
		t.Fatalf("got %v want ~%v", b, want)
	}
}

func TestEnvelope_PolygonUsesFirstRing(t *testing.T) {
	g := &model.Geometry{Rings: [][][]float64{
		{{1, 1}, {5, 1}, {5, 4}, {1, 4}, {1, 1}},
		{{-50, -50}, {60, -50}, {60, 60}, {-50, -50}},
	}}
	b, err := Envelope(g)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{5, 4}}
	if b != want {
		t.Fatalf("got %v want %v", b, want)
	}
}

func TestEnvelope_Invalid(t *testing.T) {
	ymax := 10.0
	cases := map[string]*model.Geometry{
		"no x bounds": {YMax: &ymax},
		"zero width":  model.EnvelopeGeometry(5, 0, 5, 10, nil),
		"zero height": model.EnvelopeGeometry(0, 5, 10, 5, nil),
		"inverted":    model.EnvelopeGeometry(0, 10, 10, 0, nil),
	}
	for name, g := range cases {
		if _, err := Envelope(g); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("%s: got %v want ErrInvalidEnvelope", name, err)
		}
	}
}

func TestFilter_PointAndShape(t *testing.T) {
	q := model.RequestQuery{Geometry: model.EnvelopeGeometry(-200, -10, 20, 100, nil)}

	pts := &catalog.DatasetConfig{GeometryField: "location", GeometryType: catalog.GeoPoint}
	got, err := Filter(q, pts)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"geo_bounding_box": map[string]any{"location": map[string]any{
		"top_left":     []float64{-180, 90},
		"bottom_right": []float64{20, -10},
	}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("bbox mismatch (-want +got):\n%s", diff)
	}

	shapes := &catalog.DatasetConfig{GeometryField: "geom", GeometryType: catalog.GeoShape}
	got, err = Filter(q, shapes)
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]any{"geo_shape": map[string]any{"geom": map[string]any{
		"shape": map[string]any{
			"type":        "envelope",
			"coordinates": [][]float64{{-180, 90}, {20, -10}},
		},
		"relation": "intersects",
	}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter_NoGeometry(t *testing.T) {
	got, err := Filter(model.RequestQuery{}, &catalog.DatasetConfig{GeometryField: "g"})
	if err != nil || got != nil {
		t.Fatalf("got %v, %v want nil, nil", got, err)
	}
}

func TestFilter_Distance(t *testing.T) {
	q := model.RequestQuery{
		Geometry: model.PointGeometry(12.5, 55.25, nil),
		Distance: 1.5,
		Units:    "esriSRUnit_Kilometer",
	}
	got, err := Filter(q, &catalog.DatasetConfig{GeometryField: "pos", GeometryType: catalog.GeoPoint})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"geo_distance": map[string]any{
		"distance": "1.5km",
		"pos":      []float64{12.5, 55.25},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("distance mismatch (-want +got):\n%s", diff)
	}

	q.Units = "esriSRUnit_Furlong"
	if _, err := Filter(q, &catalog.DatasetConfig{GeometryField: "pos"}); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry for unknown units, got %v", err)
	}
}

func TestFilter_DistanceMercatorPoint(t *testing.T) {
	q := model.RequestQuery{Geometry: model.PointGeometry(0, 0, mercator), Distance: 100}
	got, err := Filter(q, &catalog.DatasetConfig{GeometryField: "pos"})
	if err != nil {
		t.Fatal(err)
	}
	gd := got["geo_distance"].(map[string]any)
	if gd["distance"] != "100m" {
		t.Fatalf("distance=%v", gd["distance"])
	}
	p := gd["pos"].([]float64)
	if math.Abs(p[0]) > 1e-9 || math.Abs(p[1]) > 1e-9 {
		t.Fatalf("origin reprojected to %v", p)
	}
}

func TestTileEnvelope_WholeWorld(t *testing.T) {
	b := TileEnvelope(model.Tile{X: 0, Y: 0, Z: 0}, 0)
	if math.Abs(b.Min[0]+180) > 1e-9 || math.Abs(b.Max[0]-180) > 1e-9 {
		t.Fatalf("lon range %v..%v", b.Min[0], b.Max[0])
	}
	const mercLat = 85.0511287798
	if math.Abs(b.Max[1]-mercLat) > 1e-6 || math.Abs(b.Min[1]+mercLat) > 1e-6 {
		t.Fatalf("lat range %v..%v", b.Min[1], b.Max[1])
	}
}

func TestTileEnvelope_Quadrant(t *testing.T) {
	b := TileEnvelope(model.Tile{X: 1, Y: 0, Z: 1}, 0)
	if math.Abs(b.Min[0]) > 1e-9 || math.Abs(b.Max[0]-180) > 1e-9 || math.Abs(b.Min[1]) > 1e-9 {
		t.Fatalf("got %v", b)
	}
}

func TestTileResolution(t *testing.T) {
	if got := TileResolution(22); got != minTileResolution {
		t.Fatalf("z22 got %v", got)
	}
	if got := TileResolution(10); math.Abs(got-0.019*4096) > 1e-9 {
		t.Fatalf("z10 got %v", got)
	}
	if TileResolution(3) <= TileResolution(4) {
		t.Fatal("resolution must grow as zoom decreases")
	}
}

func TestSplitAntimeridian_Crossing(t *testing.T) {
	p := orb.Polygon{{{179, 10}, {-179, 10}, {-179, 12}, {179, 12}, {179, 10}}}
	mp, ok := SplitAntimeridian(p).(orb.MultiPolygon)
	if !ok {
		t.Fatalf("expected MultiPolygon, got %T", SplitAntimeridian(p))
	}
	if len(mp) != 2 {
		t.Fatalf("got %d polygons want 2", len(mp))
	}
	for i, poly := range mp {
		b := poly.Bound()
		if b.Min[0] < 0 && b.Max[0] > 0 {
			t.Fatalf("polygon %d spans both hemispheres: %v", i, b)
		}
		if !poly[0][0].Equal(poly[0][len(poly[0])-1]) {
			t.Fatalf("polygon %d ring not closed", i)
		}
	}
	west, east := mp[0].Bound(), mp[1].Bound()
	if west.Min[0] != -180 || west.Max[0] != -179 {
		t.Fatalf("west half %v", west)
	}
	if east.Min[0] != 179 || east.Max[0] != 180 {
		t.Fatalf("east half %v", east)
	}
}

func TestSplitAntimeridian_PassThrough(t *testing.T) {
	cases := []orb.Polygon{
		{{{10, 10}, {11, 10}, {11, 11}, {10, 11}, {10, 10}}},
		{{{-1, 0}, {1, 0}, {1, 1}, {-1, 1}, {-1, 0}}},
	}
	for _, p := range cases {
		got, ok := SplitAntimeridian(p).(orb.Polygon)
		if !ok {
			t.Fatalf("%v: expected Polygon", p)
		}
		if diff := cmp.Diff(p, got); diff != "" {
			t.Fatalf("polygon modified:\n%s", diff)
		}
	}
}
