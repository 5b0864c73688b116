package capability

import (
	"strconv"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	set := NewSet()
	if err := set.Builtins(); err != nil {
		t.Fatal(err)
	}
	if err := set.Symbolizers.Register(NewSimplifier("simplify", 0, nil)); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if got := set.Symbolizers.Names(); len(got) != 1 || got[0] != "simplify" {
		t.Fatalf("names=%v", got)
	}

	ds := &catalog.DatasetConfig{CustomSymbolizer: "simplify"}
	if set.Symbolizer(ds) == nil {
		t.Fatal("symbolizer not resolved")
	}
	ds.CustomSymbolizer = "missing"
	if set.Symbolizer(ds) != nil {
		t.Fatal("unknown symbolizer resolved")
	}
	if set.IndexNamer(&catalog.DatasetConfig{IndexNameBuilder: "time_partitioned"}) == nil {
		t.Fatal("index namer not resolved")
	}
}

func TestSimplifier_ThinsLines(t *testing.T) {
	line := orb.LineString{{0, 0}, {0.5, 0.0000001}, {1, 0}}
	f := geojson.NewFeature(line)
	NewSimplifier("s", 0, nil).PostProcess(f, 10)
	if got := f.Geometry.(orb.LineString); len(got) != 2 {
		t.Fatalf("expected the middle vertex removed, got %v", got)
	}
	if len(line) != 3 {
		t.Fatal("input geometry mutated")
	}

	pt := geojson.NewFeature(orb.Point{1, 2})
	NewSimplifier("s", 0, nil).PostProcess(pt, 10)
	if pt.Geometry != (orb.Point{1, 2}) {
		t.Fatalf("point changed: %v", pt.Geometry)
	}
}

func TestTimePartitioned(t *testing.T) {
	ds := &catalog.DatasetConfig{Index: "events-*", IndexNameConfig: map[string]any{"prefix": "events-", "interval": "month"}}
	start := time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC).UnixMilli()
	end := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC).UnixMilli()
	q := model.RequestQuery{Time: strconv.FormatInt(start, 10) + "," + strconv.FormatInt(end, 10)}

	got := TimePartitioned{}.IndexName(ds, q)
	if want := "events-2024.11,events-2024.12,events-2025.01"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := (TimePartitioned{}).IndexName(ds, model.RequestQuery{}); got != "" {
		t.Fatalf("open range should fall back, got %q", got)
	}

	ds.IndexNameConfig["maxIndices"] = 2
	if got := (TimePartitioned{}).IndexName(ds, q); got != "" {
		t.Fatalf("oversized range should fall back, got %q", got)
	}
}
