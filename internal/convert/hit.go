// Package convert turns backend documents and aggregation buckets into
// GeoJSON feature records.
package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
)

// DefaultMappingKey names the fallback entry of a value-alias table.
const DefaultMappingKey = "__defaultmapping"

// PostProcessor is an optional per-feature hook, typically a symbolizer
// simplifying geometry for the requested screen resolution.
type PostProcessor func(f *geojson.Feature, resolution float64)

// JoinShapes supplies geometries for datasets that carry none themselves.
type JoinShapes struct {
	Hits          []backend.Hit
	JoinField     string
	GeometryField string
}

type Options struct {
	Mapping backend.Mapping
	// Fields is the property projection; empty means the dataset's return fields.
	Fields      []string
	Resolution  float64
	JoinShapes  *JoinShapes
	PostProcess PostProcessor
}

type Converter struct {
	ds     *catalog.DatasetConfig
	opts   Options
	logger *slog.Logger
}

func New(ds *catalog.DatasetConfig, opts Options, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Fields) == 0 {
		opts.Fields = ds.ReturnFields
	}
	return &Converter{ds: ds, opts: opts, logger: logger}
}

// FeatureFromHit converts one document. It returns (nil, nil) when join
// shapes are in use and none matches the document. An error means the
// document could not be converted; callers log it and move on.
func (c *Converter) FeatureFromHit(ctx context.Context, hit backend.Hit) (*geojson.Feature, error) {
	flat := Flatten(hit.Source)
	f := geojson.NewFeature(nil)

	switch {
	case c.ds.ShapeIndex != nil:
		g, err := c.joinedGeometry(flat)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", hit.ID, err)
		}
		if g == nil {
			return nil, nil
		}
		f.Geometry = g
	case c.ds.IsTable:
		if c.ds.GeometryField != "" {
			if v, ok := flat[c.ds.GeometryField]; ok && v != nil {
				f.Properties["hasShape"] = 1
			} else {
				f.Properties["hasShape"] = 0
			}
		}
	case c.ds.GeometryField != "":
		raw, ok := flat[c.ds.GeometryField]
		if !ok {
			raw, _ = Lookup(Unflatten(flat), c.ds.GeometryField)
		}
		g, err := Geometry(raw, c.ds.AllowMultiPoint)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", hit.ID, err)
		}
		f.Geometry = g
	}

	if c.ds.IDField == "" {
		f.Properties[ObjectIDField] = ObjectID(hit.ID)
		f.ID = f.Properties[ObjectIDField]
	}

	for _, field := range c.opts.Fields {
		v, ok := flat[field]
		if !ok {
			continue
		}
		f.Properties[field] = c.alias(field, v)
	}
	if c.ds.IDField != "" {
		f.ID = f.Properties[c.ds.IDField]
	}

	c.dates(ctx, hit.ID, flat, f.Properties)

	for k, v := range f.Properties {
		if a, ok := v.([]any); ok {
			f.Properties[k] = joinDisplay(a)
		}
	}

	if c.opts.PostProcess != nil {
		c.opts.PostProcess(f, c.opts.Resolution)
	}
	return f, nil
}

// ObjectID derives a feature identifier from a document id: integers when
// the id is purely numeric, the id itself otherwise.
func ObjectID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func (c *Converter) joinedGeometry(flat map[string]any) (orb.Geometry, error) {
	js := c.opts.JoinShapes
	if js == nil {
		return nil, nil
	}
	key, ok := flat[strings.Split(c.ds.ShapeIndex.JoinField, ".keyword")[0]]
	if !ok {
		return nil, nil
	}
	for _, shape := range js.Hits {
		v, ok := JoinValue(shape.Source, js.JoinField)
		if !ok || !sameScalar(v, key) {
			continue
		}
		raw, _ := Lookup(shape.Source, js.GeometryField)
		g, err := Geometry(raw, false)
		if err != nil || g == nil {
			return nil, err
		}
		return g, nil
	}
	return nil, nil
}

func (c *Converter) alias(field string, v any) any {
	table, ok := c.ds.MapReturnValues[field]
	if !ok {
		return v
	}
	if mapped, ok := table[display(v)]; ok && mapped != "" {
		return mapped
	}
	if def, ok := table[DefaultMappingKey]; ok && def != "" {
		return def + " --- " + display(v)
	}
	return v
}

// dates rewrites date-typed properties as ISO strings. Failures keep the raw
// value.
func (c *Converter) dates(ctx context.Context, id string, flat, props map[string]any) {
	if len(c.ds.DateFields) == 0 {
		return
	}
	if c.opts.Mapping == nil {
		c.logger.DebugContext(ctx, "no mapping, date fields left as stored", "document", id)
		return
	}
	for _, field := range c.ds.DateFields {
		switch c.opts.Mapping.FieldType(field) {
		case "date", "date_nanos":
		default:
			continue
		}
		if v, ok := props[field]; !ok || v == nil {
			continue
		}
		raw := flat[field]
		format := c.opts.Mapping.FieldFormat(field)
		t, err := ParseDate(raw, format)
		if err != nil {
			observability.IncConversionWarning("date")
			c.logger.WarnContext(ctx, "date not parsed", "document", id, "field", field, "format", format, "value", raw, "err", err)
			continue
		}
		props[field] = ISO(t)
	}
}

func sameScalar(a, b any) bool {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// display renders a scalar the way it is keyed in alias tables and joined
// in list properties.
func display(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func joinDisplay(a []any) string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = display(v)
	}
	return strings.Join(parts, ", ")
}
