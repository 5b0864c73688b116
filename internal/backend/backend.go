// Package backend defines the document-search protocol the engine speaks and
// the client seam used to reach a concrete backend.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SearchRequest is an assembled backend query. Body is the JSON request body
// (query, aggs, size, from, sort, collapse, _source).
type SearchRequest struct {
	Index string
	Body  map[string]any
}

// Clone deep-copies the body's maps and slices so the copy can be mutated
// freely.
func (r SearchRequest) Clone() SearchRequest {
	body, _ := cloneValue(r.Body).(map[string]any)
	return SearchRequest{Index: r.Index, Body: body}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	Count(ctx context.Context, req SearchRequest) (int64, error)
	Mapping(ctx context.Context, index string) (Mapping, error)
	Ping(ctx context.Context) error
}

// Pool resolves a backend id to its client.
type Pool map[string]Client

func (p Pool) Client(id string) (Client, bool) {
	c, ok := p[id]
	return c, ok
}

func (p Pool) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Error is a failed call to a backend. Status is zero for transport failures.
type Error struct {
	Backend string
	Op      string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("backend %s %s: %v", e.Backend, e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("backend %s %s: status %d: %s", e.Backend, e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("backend %s %s: status %d", e.Backend, e.Op, e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

type Hit struct {
	ID     string         `json:"_id"`
	Index  string         `json:"_index,omitempty"`
	Source map[string]any `json:"_source"`
}

type SearchResponse struct {
	Total        int64
	Hits         []Hit
	Aggregations map[string]json.RawMessage
}

type searchEnvelope struct {
	Hits struct {
		Total json.RawMessage `json:"total"`
		Hits  []Hit           `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// DecodeSearchResponse accepts both the numeric and the {value,relation}
// forms of hits.total.
func DecodeSearchResponse(b []byte) (*SearchResponse, error) {
	var env searchEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := &SearchResponse{Hits: env.Hits.Hits, Aggregations: env.Aggregations}
	if len(env.Hits.Total) > 0 {
		var n int64
		if err := json.Unmarshal(env.Hits.Total, &n); err == nil {
			out.Total = n
		} else {
			var obj struct {
				Value int64 `json:"value"`
			}
			if err := json.Unmarshal(env.Hits.Total, &obj); err != nil {
				return nil, fmt.Errorf("decode hits.total: %w", err)
			}
			out.Total = obj.Value
		}
	}
	return out, nil
}

// Bucket is one row of a bucket aggregation. Values holds every entry other
// than key and doc_count (nested aggregation results).
type Bucket struct {
	Key      any
	DocCount int64
	Values   map[string]any
}

// Buckets decodes the buckets of the named aggregation; a missing aggregation yields no buckets.
func (r *SearchResponse) Buckets(name string) ([]Bucket, error) {
	raw, ok := r.Aggregations[name]
	if !ok {
		return nil, nil
	}
	var agg struct {
		Buckets []map[string]any `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregation %q: %w", name, err)
	}
	out := make([]Bucket, 0, len(agg.Buckets))
	for _, m := range agg.Buckets {
		b := Bucket{Key: m["key"], Values: map[string]any{}}
		if dc, ok := m["doc_count"].(float64); ok {
			b.DocCount = int64(dc)
		}
		for k, v := range m {
			if k == "key" || k == "doc_count" || k == "key_as_string" {
				continue
			}
			b.Values[k] = v
		}
		out = append(out, b)
	}
	return out, nil
}

// Aggregation decodes a single-valued aggregation body (e.g. stats) into v.
func (r *SearchResponse) Aggregation(name string, v any) error {
	raw, ok := r.Aggregations[name]
	if !ok {
		return fmt.Errorf("aggregation %q missing from response", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode aggregation %q: %w", name, err)
	}
	return nil
}

// Mapping is the "properties" object of an index mapping.
type Mapping map[string]any

// Field walks a dotted path through nested "properties" objects.
func (m Mapping) Field(path string) (map[string]any, bool) {
	cur := map[string]any(m)
	parts := strings.Split(path, ".")
	for i, p := range parts {
		node, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return node, true
		}
		if props, ok := node["properties"].(map[string]any); ok {
			cur = props
		} else {
			cur = node
		}
	}
	return nil, false
}

// FieldType returns the mapped type of a dotted field path.
func (m Mapping) FieldType(path string) string {
	f, ok := m.Field(path)
	if !ok {
		return ""
	}
	s, _ := f["type"].(string)
	return s
}

// FieldFormat returns the mapped date format of a field, if any.
func (m Mapping) FieldFormat(path string) string {
	f, ok := m.Field(path)
	if !ok {
		return ""
	}
	s, _ := f["format"].(string)
	return s
}
