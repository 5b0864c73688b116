package convert

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/logger"
)

func source(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return m
}

func convertOne(t *testing.T, ds *catalog.DatasetConfig, opts Options, hit backend.Hit) *geojson.Feature {
	t.Helper()
	f, err := New(ds, opts, logger.Discard()).FeatureFromHit(context.Background(), hit)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	return f
}

func TestGeometry_PointEncodings(t *testing.T) {
	cases := []struct {
		name  string
		value string
		multi bool
		want  orb.Geometry
	}{
		{"lat,lon string", `"34.1,-118.2"`, false, orb.Point{-118.2, 34.1}},
		{"pair", `[-118.2, 34.1]`, false, orb.Point{-118.2, 34.1}},
		{"object", `{"lat": 34.1, "lon": -118.2}`, false, orb.Point{-118.2, 34.1}},
		{"object array first only", `[{"lat": 1, "lon": 2}, {"lat": 3, "lon": 4}]`, false, orb.Point{2, 1}},
		{"object array multipoint", `[{"lat": 1, "lon": 2}, {"lat": 3, "lon": 4}]`, true, orb.MultiPoint{{2, 1}, {4, 3}}},
		{"single pair multipoint", `[2, 1]`, true, orb.MultiPoint{{2, 1}}},
		{"wkt", `"POINT (2 1)"`, false, orb.Point{2, 1}},
		{"lowercase polygon", `{"type": "polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}`, false,
			orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
		{"single part multiline", `{"type": "MultiLineString", "coordinates": [[[0,0],[1,1]]]}`, false,
			orb.LineString{{0, 0}, {1, 1}}},
		{"envelope", `{"type": "envelope", "coordinates": [[0, 2], [3, 1]]}`, false,
			orb.Bound{Min: orb.Point{0, 1}, Max: orb.Point{3, 2}}.ToPolygon()},
	}
	for _, tc := range cases {
		var v any
		if err := json.Unmarshal([]byte(tc.value), &v); err != nil {
			t.Fatalf("%s: fixture: %v", tc.name, err)
		}
		got, err := Geometry(v, tc.multi)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s: geometry mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestGeometry_GeohashString(t *testing.T) {
	g, err := Geometry("9q5", false)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := g.(orb.Point)
	if !ok {
		t.Fatalf("got %T want point", g)
	}
	if p[0] > -117 || p[0] < -120 || p[1] < 33 || p[1] > 35 {
		t.Fatalf("geohash center off: %v", p)
	}
}

func TestGeometry_MultiPartLineKept(t *testing.T) {
	var v any
	_ = json.Unmarshal([]byte(`{"type": "multilinestring", "coordinates": [[[0,0],[1,1]],[[2,2],[3,3]]]}`), &v)
	g, err := Geometry(v, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(orb.MultiLineString); !ok {
		t.Fatalf("got %T want MultiLineString", g)
	}
}

func TestGeometry_Rejects(t *testing.T) {
	for _, v := range []any{"not a point", map[string]any{"type": "circle"}, true, []any{}} {
		if _, err := Geometry(v, false); err == nil {
			t.Fatalf("expected error for %v", v)
		}
	}
}

func TestFeatureFromHit_Basics(t *testing.T) {
	ds := &catalog.DatasetConfig{
		GeometryField: "geo.location",
		ReturnFields:  []string{"name", "tags", "nested.code", "status"},
		MapReturnValues: map[string]map[string]string{
			"status": {"1": "Active", DefaultMappingKey: "Other"},
		},
	}
	hit := backend.Hit{ID: "42", Source: source(t, `{
		"name": "Depot",
		"tags": ["a", "b", 3],
		"nested": {"code": "X1"},
		"status": 1,
		"geo": {"location": "34.1,-118.2"}
	}`)}
	f := convertOne(t, ds, Options{}, hit)

	if diff := cmp.Diff(orb.Point{-118.2, 34.1}, f.Geometry); diff != "" {
		t.Fatalf("geometry mismatch:\n%s", diff)
	}
	want := geojson.Properties{
		ObjectIDField: int64(42),
		"name":        "Depot",
		"tags":        "a, b, 3",
		"nested.code": "X1",
		"status":      "Active",
	}
	if diff := cmp.Diff(want, f.Properties); diff != "" {
		t.Fatalf("properties mismatch (-want +got):\n%s", diff)
	}
	if f.ID != int64(42) {
		t.Fatalf("id=%v", f.ID)
	}

	hit.ID = "abc-1"
	hit.Source["status"] = float64(7)
	f = convertOne(t, ds, Options{}, hit)
	if f.Properties[ObjectIDField] != "abc-1" {
		t.Fatalf("string id not passed through: %v", f.Properties[ObjectIDField])
	}
	if f.Properties["status"] != "Other --- 7" {
		t.Fatalf("default mapping not applied: %v", f.Properties["status"])
	}
}

func TestFeatureFromHit_NestedShapeIsUnflattened(t *testing.T) {
	ds := &catalog.DatasetConfig{GeometryField: "area", ReturnFields: []string{"name"}}
	hit := backend.Hit{ID: "1", Source: source(t, `{"name": "x", "area": {"type": "polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}`)}
	f := convertOne(t, ds, Options{}, hit)
	if _, ok := f.Geometry.(orb.Polygon); !ok {
		t.Fatalf("got %T want Polygon", f.Geometry)
	}
}

func TestFeatureFromHit_Dates(t *testing.T) {
	ds := &catalog.DatasetConfig{
		GeometryField: "loc",
		ReturnFields:  []string{"created", "stamp", "auto", "bad"},
		DateFields:    []string{"created", "stamp", "auto", "bad"},
	}
	mapping := backend.Mapping{
		"created": map[string]any{"type": "date", "format": "yyyyMMDD HH:mm"},
		"stamp":   map[string]any{"type": "date", "format": "dd/MM/yyyy"},
		"auto":    map[string]any{"type": "date"},
		"bad":     map[string]any{"type": "date", "format": "dd/MM/yyyy"},
	}
	hit := backend.Hit{ID: "1", Source: source(t, `{
		"loc": [0, 0],
		"created": "20210304 05:06",
		"stamp": "04/03/2021",
		"auto": 1614834360000,
		"bad": "not a date"
	}`)}
	f := convertOne(t, ds, Options{Mapping: mapping}, hit)
	want := map[string]any{
		"created": "2021-03-04T05:06:00.000Z",
		"stamp":   "2021-03-04T00:00:00.000Z",
		"auto":    "2021-03-04T05:06:00.000Z",
		"bad":     "not a date",
	}
	for k, v := range want {
		if f.Properties[k] != v {
			t.Fatalf("%s: got %v want %v", k, f.Properties[k], v)
		}
	}
}

func TestFeatureFromHit_TableHasShape(t *testing.T) {
	ds := &catalog.DatasetConfig{GeometryField: "loc", IsTable: true, ReturnFields: []string{"n"}}
	f := convertOne(t, ds, Options{}, backend.Hit{ID: "1", Source: source(t, `{"n": 1, "loc": "1,2"}`)})
	if f.Geometry != nil || f.Properties["hasShape"] != 1 {
		t.Fatalf("got geometry %v hasShape %v", f.Geometry, f.Properties["hasShape"])
	}
	f = convertOne(t, ds, Options{}, backend.Hit{ID: "2", Source: source(t, `{"n": 1}`)})
	if f.Properties["hasShape"] != 0 {
		t.Fatalf("hasShape=%v want 0", f.Properties["hasShape"])
	}
}

func TestFeatureFromHit_JoinShapes(t *testing.T) {
	ds := &catalog.DatasetConfig{
		ReturnFields: []string{"county", "total"},
		ShapeIndex:   &catalog.ShapeJoin{Name: "counties", JoinField: "county.keyword"},
	}
	shapes := &JoinShapes{
		JoinField:     "props.name.keyword",
		GeometryField: "shape",
		Hits: []backend.Hit{
			{ID: "s1", Source: source(t, `{"props": {"name": "Kern"}, "shape": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}}`)},
		},
	}
	conv := New(ds, Options{JoinShapes: shapes}, logger.Discard())

	f, err := conv.FeatureFromHit(context.Background(), backend.Hit{ID: "1", Source: source(t, `{"county": "Kern", "total": 3}`)})
	if err != nil || f == nil {
		t.Fatalf("expected joined feature, got %v, %v", f, err)
	}
	if _, ok := f.Geometry.(orb.Polygon); !ok {
		t.Fatalf("got %T want Polygon", f.Geometry)
	}

	f, err = conv.FeatureFromHit(context.Background(), backend.Hit{ID: "2", Source: source(t, `{"county": "Inyo", "total": 1}`)})
	if err != nil || f != nil {
		t.Fatalf("unmatched document must be dropped, got %v, %v", f, err)
	}
}

func TestFeatureFromHit_PostProcess(t *testing.T) {
	ds := &catalog.DatasetConfig{GeometryField: "loc"}
	var gotRes float64
	hook := func(f *geojson.Feature, res float64) {
		gotRes = res
		f.Properties["touched"] = true
	}
	f := convertOne(t, ds, Options{Resolution: 12.5, PostProcess: hook}, backend.Hit{ID: "1", Source: source(t, `{"loc": "1,2"}`)})
	if gotRes != 12.5 || f.Properties["touched"] != true {
		t.Fatalf("hook not applied: res=%v props=%v", gotRes, f.Properties)
	}
}

func TestGeoHashBucket_IdentifierIsStable(t *testing.T) {
	ds := &catalog.DatasetConfig{GeometryField: "loc", ReturnFields: []string{"name"}}
	conv := New(ds, Options{}, logger.Discard())
	bucket := backend.Bucket{Key: "9q5", DocCount: 12}

	a, err := conv.FeatureFromGeoHashBucket(context.Background(), bucket,
		&backend.Hit{ID: "1", Source: source(t, `{"name": "first", "loc": "34,-118"}`)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := conv.FeatureFromGeoHashBucket(context.Background(), bucket,
		&backend.Hit{ID: "999", Source: source(t, `{"name": "second", "loc": "34,-118"}`)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Properties[ObjectIDField] != b.Properties[ObjectIDField] {
		t.Fatalf("ids differ: %v vs %v", a.Properties[ObjectIDField], b.Properties[ObjectIDField])
	}
	if a.Properties[ObjectIDField] != GeoHashID("9q5") || GeoHashID("9q5") != 9265 {
		t.Fatalf("unexpected id %v", a.Properties[ObjectIDField])
	}
	if a.Properties["count"] != int64(12) || a.Properties["name"] != "first" {
		t.Fatalf("unexpected properties %v", a.Properties)
	}
}

func TestGeoHashBucket_OutsideAppliedBoundsDropped(t *testing.T) {
	conv := New(&catalog.DatasetConfig{GeometryField: "loc"}, Options{}, logger.Discard())
	applied := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	f, err := conv.FeatureFromGeoHashBucket(context.Background(), backend.Bucket{Key: "9q5", DocCount: 1}, nil, &applied)
	if err != nil || f != nil {
		t.Fatalf("bucket outside bounds must be dropped, got %v, %v", f, err)
	}
}

func TestGeoHashBound_PoleNudge(t *testing.T) {
	b := GeoHashBound("b")
	if b.Max[1] >= 90 {
		t.Fatalf("north edge not nudged: %v", b.Max[1])
	}
	if b := GeoHashBound("0"); b.Min[1] <= -90 {
		t.Fatalf("south edge not nudged: %v", b.Min[1])
	}
}

func TestGeoHashID_LongKeys(t *testing.T) {
	k := "zzzzzzzzzzzz"
	if GeoHashID(k) != GeoHashID(k) || GeoHashID(k) < 0 {
		t.Fatalf("long key id unstable or negative: %d", GeoHashID(k))
	}
}

func TestFlattenUnflatten(t *testing.T) {
	src := source(t, `{"a": {"b": 1, "c": [1, 2]}, "d": "x", "e": {}}`)
	flat := Flatten(src)
	want := map[string]any{"a.b": float64(1), "a.c": []any{float64(1), float64(2)}, "d": "x", "e": map[string]any{}}
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Fatalf("flatten mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(src, Unflatten(flat)); diff != "" {
		t.Fatalf("unflatten mismatch (-want +got):\n%s", diff)
	}
	if _, ok := Lookup(src, "a.b"); !ok {
		t.Fatal("lookup failed")
	}
}

func TestJodaLayout(t *testing.T) {
	cases := map[string]string{
		"yyyy-MM-dd'T'HH:mm:ss.SSSZ": "2006-01-02T15:04:05.000-0700",
		"dd/MM/yyyy":                 "02/01/2006",
		"yyyyMMdd HH:mm":             "20060102 15:04",
	}
	for in, want := range cases {
		got, err := JodaLayout(in)
		if err != nil || got != want {
			t.Fatalf("JodaLayout(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := JodaLayout("yyyy-ww"); err == nil {
		t.Fatal("expected error for week-of-year")
	}
}

func TestRewind(t *testing.T) {
	cw := orb.Polygon{{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}}
	got := Rewind(cw).(orb.Polygon)
	if got[0].Orientation() != orb.CCW {
		t.Fatalf("outer ring not counter-clockwise: %v", got)
	}
	if cw[0].Orientation() != orb.CW {
		t.Fatal("input mutated")
	}
}
