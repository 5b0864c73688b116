package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

func request(where string) model.Request {
	return model.Request{
		Backend: "es",
		Dataset: "places",
		Layer:   "0",
		Query: model.RequestQuery{
			Where:    where,
			Geometry: model.EnvelopeGeometry(10, 50, 11, 51, nil),
		},
	}
}

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	req := request("name='Stockholm' AND type IN('city','town')")
	req.Query.CustomAggregations = map[string]any{"b": 1, "a": map[string]any{"z": 1, "y": 2}}
	k1 := Key(req)
	k2 := Key(req)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_SpacingVariantsProduceSameKey(t *testing.T) {
	a := request("  name  =    'Stockholm'   AND  type IN('city','town')  ")
	a.Dataset = " places "
	b := request("name='Stockholm' AND type IN ( 'city' , 'town' )")
	k1, k2 := Key(a), Key(b)
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_=\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestDifference(t *testing.T) {
	base := request("a=1 AND b=2")
	cases := map[string]func(r *model.Request){
		"where order": func(r *model.Request) { r.Query.Where = "b=2 AND a=1" },
		"geometry":    func(r *model.Request) { r.Query.Geometry = model.EnvelopeGeometry(10, 50, 12, 51, nil) },
		"layer":       func(r *model.Request) { r.Layer = "1" },
		"offset":      func(r *model.Request) { r.Query.ResultOffset = 10 },
		"tile":        func(r *model.Request) { r.VectorTile, r.Query.Tile = true, &model.Tile{X: 1, Y: 2, Z: 3} },
	}
	for name, mutate := range cases {
		r := base
		mutate(&r)
		if Key(r) == Key(base) {
			t.Fatalf("%s: keys must differ", name)
		}
	}
}

func TestScopeSegment(t *testing.T) {
	r := request("")
	r.Layer = ""
	if k := Key(r); !strings.HasPrefix(k, "gsb:es:places:all:q:where=:f=") {
		t.Fatalf("unexpected key %s", k)
	}
	r.VectorTile = true
	r.Query.Tile = &model.Tile{X: 3, Y: 5, Z: 4}
	if k := Key(r); !strings.Contains(k, ":t4-3-5:") {
		t.Fatalf("tile segment missing: %s", k)
	}
}

func TestUnicodeSafety_NoPanicAndHashSuffixPresent(t *testing.T) {
	k := Key(request("name = 'Göteborg' AND note = '雪'"))

	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}

	m := regexp.MustCompile(`:f=([0-9a-f]{16})$`).FindStringSubmatch(k)
	if len(m) != 2 {
		t.Fatalf("missing or invalid :f=<hex64> suffix in key: %s", k)
	}
	if !strings.Contains(k, ":where=") {
		t.Fatalf("missing where= segment in key: %s", k)
	}
}

func TestLongWhereIsTruncated(t *testing.T) {
	k := Key(request("name='" + strings.Repeat("x", 500) + "'"))
	seg := regexp.MustCompile(`:where=([^:]*):f=`).FindStringSubmatch(k)
	if len(seg) != 2 || len(seg[1]) != maxWhereTextLen {
		t.Fatalf("where segment not truncated: %s", k)
	}
}
