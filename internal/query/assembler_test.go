package query

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/predicate"
)

func pointDataset() *catalog.DatasetConfig {
	return &catalog.DatasetConfig{
		Name:          "places",
		Index:         "places-*",
		GeometryField: "location",
		GeometryType:  catalog.GeoPoint,
		MaxResults:    1000,
		ReturnFields:  []string{"A", "B", "Name"},
	}
}

var exists = map[string]any{"exists": map[string]any{"field": "location"}}

func TestBuild_BaseLayout(t *testing.T) {
	ds := pointDataset()
	ds.TimeInfo = &catalog.TimeInfo{StartTimeField: "start", EndTimeField: "end"}
	ds.Sort = []any{map[string]any{"start": "desc"}}

	req, err := Build(ds, model.RequestQuery{Time: "1000,null", ResultOffset: 20}, Options{MaxRecords: 50})
	if err != nil {
		t.Fatal(err)
	}
	if req.Index != "places-*" {
		t.Fatalf("index=%q", req.Index)
	}
	want := map[string]any{
		"sort":    []any{map[string]any{"start": "desc"}},
		"size":    50,
		"from":    20,
		"_source": []string{"A", "B", "Name", "location"},
		"query": map[string]any{"bool": map[string]any{"must": []any{
			exists,
			map[string]any{"range": map[string]any{"start": map[string]any{"gte": "1000"}}},
		}}},
	}
	if diff := cmp.Diff(want, req.Body); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_TableHasNoExistsClause(t *testing.T) {
	ds := pointDataset()
	ds.IsTable = true
	req, err := Build(ds, model.RequestQuery{ReturnCountOnly: true}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"query": map[string]any{"bool": map[string]any{"must": []any{}}}}
	if diff := cmp.Diff(want, req.Body); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_BoolPredicateKeepsExists(t *testing.T) {
	req, err := Build(pointDataset(), model.RequestQuery{Where: "A = 1 OR B = 2"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"bool": map[string]any{
		"should": []any{
			map[string]any{"match": map[string]any{"A": int64(1)}},
			map[string]any{"match": map[string]any{"B": int64(2)}},
		},
		"minimum_should_match": 1,
		"must":                 []any{exists},
	}}
	if diff := cmp.Diff(want, req.Body["query"]); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_LeafPredicateAndDefinition(t *testing.T) {
	ds := pointDataset()
	ds.QueryDefinition = "B = 2"
	req, err := Build(ds, model.RequestQuery{Where: "A = 1"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"bool": map[string]any{"must": []any{
		map[string]any{"match": map[string]any{"A": int64(1)}},
		map[string]any{"match": map[string]any{"B": int64(2)}},
		exists,
	}}}
	if diff := cmp.Diff(want, req.Body["query"]); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}

	req, err = Build(pointDataset(), model.RequestQuery{Where: "name LIKE 'Sto%'"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]any{"bool": map[string]any{"must": []any{
		exists,
		map[string]any{"match_phrase_prefix": map[string]any{"Name": "Sto"}},
	}}}
	if diff := cmp.Diff(want, req.Body["query"]); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_GeometryFilter(t *testing.T) {
	q := model.RequestQuery{Geometry: model.EnvelopeGeometry(10, 20, 30, 40, nil)}
	req, err := Build(pointDataset(), q, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"bool": map[string]any{
		"must": []any{exists},
		"filter": []any{map[string]any{"geo_bounding_box": map[string]any{"location": map[string]any{
			"top_left":     []float64{10, 40},
			"bottom_right": []float64{30, 20},
		}}}},
	}}
	if diff := cmp.Diff(want, req.Body["query"]); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}

	fb := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}
	req, err = Build(pointDataset(), q, Options{FilterBounds: &fb})
	if err != nil {
		t.Fatal(err)
	}
	filter := req.Body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	box := filter[0].(map[string]any)["geo_bounding_box"].(map[string]any)["location"].(map[string]any)
	if diff := cmp.Diff([]float64{0, 1}, box["top_left"]); diff != "" {
		t.Fatalf("override bounds ignored:\n%s", diff)
	}
}

func TestBuild_InvalidEnvelopeFails(t *testing.T) {
	q := model.RequestQuery{Geometry: model.EnvelopeGeometry(10, 20, 10, 40, nil)}
	if _, err := Build(pointDataset(), q, Options{}); err == nil {
		t.Fatal("expected error for zero-width envelope")
	}
}

func TestBuild_RawQueryFragment(t *testing.T) {
	where := `(rawElasticQuery={"match_all":{}}) AND (A = 1)`
	req, err := Build(pointDataset(), model.RequestQuery{Where: where}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"match_all": map[string]any{},
		"bool": map[string]any{"must": []any{
			exists,
			map[string]any{"match": map[string]any{"A": int64(1)}},
		}},
	}
	if diff := cmp.Diff(want, req.Body["query"]); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_MalformedRawQuery(t *testing.T) {
	_, err := Build(pointDataset(), model.RequestQuery{Where: "rawElasticQuery={oops"}, Options{})
	var pe *predicate.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v want ParseError", err)
	}
}

func TestBuild_SourceSearch(t *testing.T) {
	ds := pointDataset()
	ds.SourceSearchFields = []string{"Name", "B"}
	req, err := Build(ds, model.RequestQuery{SourceSearch: "foo,bar"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	mm := func(term string) map[string]any {
		return map[string]any{"multi_match": map[string]any{
			"query":  term,
			"type":   "phrase_prefix",
			"fields": []string{"Name", "B"},
		}}
	}
	want := map[string]any{"bool": map[string]any{
		"must":                 []any{exists},
		"should":               []any{mm("foo"), mm("bar")},
		"minimum_should_match": 1,
	}}
	if diff := cmp.Diff(want, req.Body["query"]); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}

	req, err = Build(ds, model.RequestQuery{SourceSearch: "foo", Where: "A = 1 OR B = 2"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	b := req.Body["query"].(map[string]any)["bool"].(map[string]any)
	if n := len(b["should"].([]any)); n != 2 {
		t.Fatalf("predicate should clauses clobbered, got %d", n)
	}
	if n := len(b["must"].([]any)); n != 2 {
		t.Fatalf("search clause not nested into must, got %d", n)
	}
}

func TestBuild_Projection(t *testing.T) {
	no := false
	req, err := Build(pointDataset(), model.RequestQuery{OutFields: "A, B", ReturnGeometry: &no}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, req.Body["_source"]); diff != "" {
		t.Fatalf("projection mismatch:\n%s", diff)
	}
}

func TestBuild_IndexNamer(t *testing.T) {
	ds := pointDataset()
	namer := func(*catalog.DatasetConfig, model.RequestQuery) string { return "places-2024" }
	if got := IndexName(ds, model.RequestQuery{}, namer); got != "places-*" {
		t.Fatalf("namer used without config: %q", got)
	}
	ds.IndexNameConfig = map[string]any{"pattern": "yearly"}
	req, err := Build(ds, model.RequestQuery{}, Options{IndexName: namer})
	if err != nil {
		t.Fatal(err)
	}
	if req.Index != "places-2024" {
		t.Fatalf("index=%q", req.Index)
	}
}

func TestExtractRawQuery(t *testing.T) {
	cases := []struct {
		where, rest string
		found       bool
	}{
		{where: "A = 1", rest: "A = 1"},
		{where: `rawElasticQuery={"term":{"a":1}}`, rest: "", found: true},
		{where: `(rawElasticQuery={"term":{"a":1}}) AND (B = 2)`, rest: "B = 2", found: true},
		{where: `(rawElasticQuery={"term":{"a":1}})`, rest: "", found: true},
		{where: `A = 1 AND rawElasticQuery={"term":{"a":1}}`, rest: "A = 1 AND ", found: true},
	}
	for _, tc := range cases {
		raw, rest, found, err := ExtractRawQuery(tc.where)
		if err != nil {
			t.Fatalf("%q: %v", tc.where, err)
		}
		if found != tc.found || rest != tc.rest {
			t.Fatalf("%q: got (%q,%v) want (%q,%v)", tc.where, rest, found, tc.rest, tc.found)
		}
		if found && raw["term"] == nil {
			t.Fatalf("%q: fragment not decoded: %v", tc.where, raw)
		}
	}
}

func TestTimeClauses(t *testing.T) {
	ti := &catalog.TimeInfo{StartTimeField: "s", EndTimeField: "e"}
	got := TimeClauses(ti, "1,2")
	want := []any{
		map[string]any{"range": map[string]any{"s": map[string]any{"gte": "1"}}},
		map[string]any{"range": map[string]any{"e": map[string]any{"lte": "2"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("clauses mismatch (-want +got):\n%s", diff)
	}
	if got := TimeClauses(nil, "1,2"); got != nil {
		t.Fatalf("no time info should yield nil, got %v", got)
	}
	if got := TimeClauses(ti, "null,null"); got != nil {
		t.Fatalf("open bounds should yield nil, got %v", got)
	}
}

func TestEffectiveSize(t *testing.T) {
	for _, tc := range []struct{ req, limit, want int }{{0, 1000, 1000}, {50, 1000, 50}, {5000, 1000, 1000}} {
		if got := EffectiveSize(tc.req, tc.limit); got != tc.want {
			t.Fatalf("EffectiveSize(%d,%d)=%d want %d", tc.req, tc.limit, got, tc.want)
		}
	}
}
