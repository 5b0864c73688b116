package query

import (
	"encoding/json"
	"strings"

	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/predicate"
)

// RawQueryMarker introduces a raw backend query fragment inside a where
// clause: rawElasticQuery={...}.
const RawQueryMarker = "rawElasticQuery"

// ExistsClause requires the field to be present.
func ExistsClause(field string) map[string]any {
	return map[string]any{"exists": map[string]any{"field": field}}
}

// TimeClauses turns a "start,end" time parameter into range clauses on the
// configured start and end fields. Empty or "null" sides are open.
func TimeClauses(ti *catalog.TimeInfo, value string) []any {
	if ti == nil || strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return nil
	}
	var out []any
	if v := strings.TrimSpace(parts[0]); !openBound(v) && ti.StartTimeField != "" {
		out = append(out, map[string]any{"range": map[string]any{ti.StartTimeField: map[string]any{"gte": v}}})
	}
	if v := strings.TrimSpace(parts[1]); !openBound(v) && ti.EndTimeField != "" {
		out = append(out, map[string]any{"range": map[string]any{ti.EndTimeField: map[string]any{"lte": v}}})
	}
	return out
}

func openBound(v string) bool {
	return v == "" || strings.EqualFold(v, "null")
}

// EffectiveSize caps the requested record count at the dataset maximum. A
// missing request falls back to the maximum.
func EffectiveSize(requested, limit int) int {
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// ExtractRawQuery pulls a raw query fragment out of a where clause. The
// fragment starts at the first marker, ends at the next " AND" and loses one
// trailing ")". The remaining clause has the fragment (and a following
// " AND ") removed along with one pair of wrapping parentheses.
func ExtractRawQuery(where string) (raw map[string]any, rest string, found bool, err error) {
	i := strings.Index(where, RawQueryMarker)
	if i < 0 {
		return nil, where, false, nil
	}
	segment := where[i:]
	if j := strings.Index(segment, " AND"); j >= 0 {
		segment = segment[:j]
	}
	parts := strings.Split(segment, "=")
	if len(parts) < 2 {
		return nil, where, true, &predicate.ParseError{Input: where, Msg: "raw query fragment has no value"}
	}
	val := strings.TrimSuffix(parts[1], ")")
	if err := json.Unmarshal([]byte(val), &raw); err != nil {
		return nil, where, true, &predicate.ParseError{Input: where, Msg: "malformed raw query fragment", Err: err}
	}

	rest = strings.Replace(where, "("+segment+" AND ", "", 1)
	rest = strings.Replace(rest, segment, "", 1)
	if strings.HasPrefix(rest, "(") {
		if len(rest) >= 2 {
			rest = rest[1 : len(rest)-1]
		} else {
			rest = ""
		}
	}
	return raw, rest, true, nil
}

// CombineWhere ANDs a dataset query definition onto the request predicate.
func CombineWhere(where, definition string) string {
	where = strings.TrimSpace(where)
	definition = strings.TrimSpace(definition)
	switch {
	case where != "" && definition != "":
		return "(" + where + ") AND " + definition
	case definition != "":
		return definition
	default:
		return where
	}
}

// SourceSearchClauses matches every comma separated term as a phrase prefix
// across the configured fields.
func SourceSearchClauses(search string, fields []string) []any {
	if strings.TrimSpace(search) == "" || len(fields) == 0 {
		return nil
	}
	terms := strings.Split(search, ",")
	out := make([]any, 0, len(terms))
	for _, term := range terms {
		out = append(out, map[string]any{"multi_match": map[string]any{
			"query":  term,
			"type":   "phrase_prefix",
			"fields": append([]string(nil), fields...),
		}})
	}
	return out
}

// SourceFields is the projection for a document query: the requested output
// fields or the configured return fields, plus the geometry field unless the
// caller suppressed geometry on a spatial dataset.
func SourceFields(ds *catalog.DatasetConfig, q model.RequestQuery) []string {
	var fields []string
	if of := q.OutFieldList(); of != nil {
		fields = of
	} else {
		fields = append([]string(nil), ds.ReturnFields...)
	}
	if ds.GeometryField != "" && (q.GeometryRequested() || ds.IsTable) {
		for _, f := range fields {
			if f == ds.GeometryField {
				return fields
			}
		}
		fields = append(fields, ds.GeometryField)
	}
	return fields
}
