package backend

import (
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeSearchResponse_TotalForms(t *testing.T) {
	cases := []struct {
		body string
		want int64
	}{
		{`{"hits": {"total": 7, "hits": []}}`, 7},
		{`{"hits": {"total": {"value": 12, "relation": "eq"}, "hits": []}}`, 12},
		{`{"hits": {"hits": [{"_id": "a", "_index": "i", "_source": {"x": 1}}]}}`, 0},
	}
	for _, tc := range cases {
		res, err := DecodeSearchResponse([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if res.Total != tc.want {
			t.Fatalf("%s: total=%d want %d", tc.body, res.Total, tc.want)
		}
	}
	if _, err := DecodeSearchResponse([]byte(`{"hits": {"total": "many"}}`)); err == nil {
		t.Fatal("expected error for a non-numeric total")
	}
}

func TestBuckets(t *testing.T) {
	res, err := DecodeSearchResponse([]byte(`{"hits": {"total": 0, "hits": []}, "aggregations": {
		"grid": {"buckets": [
			{"key": "u4", "doc_count": 3, "avg_speed": {"value": 1.5}},
			{"key": 1700000000000, "key_as_string": "2023-11-14", "doc_count": 1}
		]}
	}}`))
	if err != nil {
		t.Fatal(err)
	}
	got, err := res.Buckets("grid")
	if err != nil {
		t.Fatal(err)
	}
	want := []Bucket{
		{Key: "u4", DocCount: 3, Values: map[string]any{"avg_speed": map[string]any{"value": 1.5}}},
		{Key: float64(1700000000000), DocCount: 1, Values: map[string]any{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("buckets mismatch (-want +got):\n%s", diff)
	}

	if b, err := res.Buckets("missing"); err != nil || b != nil {
		t.Fatalf("missing aggregation: %v %v", b, err)
	}
}

func TestAggregation(t *testing.T) {
	res, err := DecodeSearchResponse([]byte(`{"aggregations": {"s": {"min": 1, "max": 9}}}`))
	if err != nil {
		t.Fatal(err)
	}
	var s struct{ Min, Max float64 }
	if err := res.Aggregation("s", &s); err != nil || s.Min != 1 || s.Max != 9 {
		t.Fatalf("got %+v err=%v", s, err)
	}
	if err := res.Aggregation("nope", &s); err == nil {
		t.Fatal("expected error for a missing aggregation")
	}
}

func TestSearchRequestClone(t *testing.T) {
	orig := SearchRequest{Index: "i", Body: map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": []any{map[string]any{"term": 1}}}},
	}}
	cp := orig.Clone()
	b := cp.Body["query"].(map[string]any)["bool"].(map[string]any)
	b["must"] = append(b["must"].([]any), "extra")
	b["filter"] = []any{}

	if diff := cmp.Diff(map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": []any{map[string]any{"term": 1}}}},
	}, orig.Body); diff != "" {
		t.Fatalf("original mutated (-want +got):\n%s", diff)
	}
	if cp.Index != "i" {
		t.Fatalf("index=%q", cp.Index)
	}
}

func TestMappingField(t *testing.T) {
	m := Mapping{
		"geo": map[string]any{"properties": map[string]any{
			"location": map[string]any{"type": "geo_point"},
		}},
		"created": map[string]any{"type": "date", "format": "yyyy-MM-dd"},
	}
	if got := m.FieldType("geo.location"); got != "geo_point" {
		t.Fatalf("nested type=%q", got)
	}
	if got := m.FieldFormat("created"); got != "yyyy-MM-dd" {
		t.Fatalf("format=%q", got)
	}
	if got := m.FieldType("geo.missing"); got != "" {
		t.Fatalf("missing type=%q", got)
	}
}

func TestError(t *testing.T) {
	e := &Error{Backend: "es", Op: "search", Status: 400, Body: "bad"}
	if e.Error() != "backend es search: status 400: bad" {
		t.Fatalf("msg=%q", e.Error())
	}
	wrapped := &Error{Backend: "es", Op: "ping", Err: io.ErrUnexpectedEOF}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Fatal("Unwrap lost the cause")
	}
}

func TestPoolIDs(t *testing.T) {
	p := Pool{"b": nil, "a": nil}
	if diff := cmp.Diff([]string{"a", "b"}, p.IDs()); diff != "" {
		t.Fatal(diff)
	}
	if _, ok := p.Client("c"); ok {
		t.Fatal("unexpected client")
	}
}
