// Package query assembles backend search requests from a dataset description
// and a feature-query request.
package query

import (
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/predicate"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

// IndexNamer computes the concrete index pattern for a request.
type IndexNamer func(ds *catalog.DatasetConfig, q model.RequestQuery) string

type Options struct {
	// MaxRecords becomes the request size; zero leaves it to the backend.
	MaxRecords int
	Mapping    backend.Mapping
	Translator *predicate.Translator
	// FilterBounds replaces the request envelope in the spatial filter.
	FilterBounds *orb.Bound
	IndexName    IndexNamer
}

// Build composes the backend request. The returned body is freshly
// allocated and shares nothing mutable with ds.
func Build(ds *catalog.DatasetConfig, q model.RequestQuery, opts Options) (backend.SearchRequest, error) {
	var must []any
	if ds.HasGeometry() {
		must = append(must, ExistsClause(ds.GeometryField))
	}
	must = append(must, TimeClauses(ds.TimeInfo, q.Time)...)
	if must == nil {
		must = []any{}
	}

	query := map[string]any{"bool": map[string]any{"must": must}}
	body := map[string]any{}
	if ds.Collapse != nil {
		body["collapse"] = ds.Collapse
	}
	if ds.Sort != nil {
		body["sort"] = ds.Sort
	}
	if opts.MaxRecords > 0 {
		body["size"] = opts.MaxRecords
	}

	where := q.Where
	if raw, rest, found, err := ExtractRawQuery(where); err != nil {
		return backend.SearchRequest{}, err
	} else if found {
		for k, v := range raw {
			query[k] = v
		}
		where = rest
	}

	if q.ResultOffset > 0 {
		body["from"] = q.ResultOffset
	}

	if combined := CombineWhere(where, ds.QueryDefinition); combined != "" {
		tr := opts.Translator
		if tr == nil {
			tr = predicate.NewTranslator(nil)
		}
		clause, err := tr.Translate(combined, predicate.Options{
			DateFields:   ds.DateFields,
			ReturnFields: ds.ReturnFields,
			ValueAliases: ds.MapReturnValues,
			Mapping:      opts.Mapping,
		})
		if err != nil {
			return backend.SearchRequest{}, err
		}
		query = withPredicate(query, clause)
	}

	if q.Geometry != nil && ds.GeometryField != "" {
		var geo map[string]any
		var err error
		if opts.FilterBounds != nil {
			geo = spatial.BoundsFilter(*opts.FilterBounds, ds.GeometryField, ds.GeometryType)
		} else {
			geo, err = spatial.Filter(q, ds)
		}
		if err != nil {
			return backend.SearchRequest{}, err
		}
		if geo != nil {
			b := boolOf(query)
			b["filter"] = append(clauses(b, "filter"), geo)
		}
	}

	if terms := SourceSearchClauses(q.SourceSearch, ds.SourceSearchFields); terms != nil {
		b := boolOf(query)
		if len(clauses(b, "should")) == 0 {
			b["should"] = terms
			b["minimum_should_match"] = 1
		} else {
			// keep an OR predicate's should intact
			b["must"] = append(clauses(b, "must"), map[string]any{"bool": map[string]any{
				"should":               terms,
				"minimum_should_match": 1,
			}})
		}
	}

	if !q.ReturnCountOnly {
		body["_source"] = SourceFields(ds, q)
	}
	body["query"] = query

	return backend.SearchRequest{Index: IndexName(ds, q, opts.IndexName), Body: body}, nil
}

// IndexName resolves the index pattern, consulting the named builder only
// for datasets that carry an index-name configuration.
func IndexName(ds *catalog.DatasetConfig, q model.RequestQuery, namer IndexNamer) string {
	if namer != nil && ds.IndexNameConfig != nil {
		if name := strings.TrimSpace(namer(ds, q)); name != "" {
			return name
		}
	}
	return ds.Index
}

// withPredicate merges a translated predicate into the query. A bool
// predicate becomes the whole query and inherits the existing must clauses
// (geometry existence, time window); anything else is one more must clause.
func withPredicate(query, clause map[string]any) map[string]any {
	if clause == nil {
		return query
	}
	pb, ok := clause["bool"].(map[string]any)
	if !ok {
		b := boolOf(query)
		b["must"] = append(clauses(b, "must"), clause)
		return query
	}
	if prior := clauses(boolOf(query), "must"); len(prior) > 0 {
		pb["must"] = append(clauses(pb, "must"), prior...)
	}
	return clause
}

func boolOf(query map[string]any) map[string]any {
	b, ok := query["bool"].(map[string]any)
	if !ok {
		b = map[string]any{}
		query["bool"] = b
	}
	return b
}

func clauses(b map[string]any, occur string) []any {
	switch v := b[occur].(type) {
	case []any:
		return v
	case map[string]any:
		return []any{v}
	}
	return nil
}
