package capability

import (
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"

	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

// metersPerDegree converts a screen resolution in meters to degrees at the
// equator.
const metersPerDegree = 111320.0

// Simplifier is a symbolizer that thins line and polygon vertices with
// Douglas-Peucker, using the screen resolution as the tolerance.
type Simplifier struct {
	name   string
	buffer float64
	style  map[string]any
}

func NewSimplifier(name string, buffer float64, style map[string]any) *Simplifier {
	return &Simplifier{name: name, buffer: buffer, style: style}
}

func (s *Simplifier) Name() string            { return s.name }
func (s *Simplifier) TileBuffer() float64     { return s.buffer }
func (s *Simplifier) VTStyle() map[string]any { return s.style }

func (s *Simplifier) PostProcess(f *geojson.Feature, resolution float64) {
	if f == nil || f.Geometry == nil || resolution <= 0 {
		return
	}
	switch f.Geometry.GeoJSONType() {
	case "Point", "MultiPoint":
		return
	}
	f.Geometry = simplify.DouglasPeucker(resolution / metersPerDegree).Simplify(orb.Clone(f.Geometry))
}

// TimePartitioned names one index per calendar period covered by the
// request's time range. Its dataset configuration reads:
//
//	indexNameConfig:
//	  prefix: events-
//	  interval: month   # day | month | year
//	  maxIndices: 36
//
// Requests without a closed time range, or spanning more than maxIndices
// periods, fall back to the dataset's own index pattern.
type TimePartitioned struct{}

func (TimePartitioned) Name() string { return "time_partitioned" }

func (TimePartitioned) IndexName(ds *catalog.DatasetConfig, q model.RequestQuery) string {
	cfg := ds.IndexNameConfig
	prefix, _ := cfg["prefix"].(string)
	interval, _ := cfg["interval"].(string)
	limit := 36
	switch n := cfg["maxIndices"].(type) {
	case int:
		if n > 0 {
			limit = n
		}
	case float64:
		if n > 0 {
			limit = int(n)
		}
	}

	start, end, ok := timeRange(q.Time)
	if !ok || prefix == "" {
		return ""
	}
	layout, step := periodLayout(interval)
	var names []string
	seen := map[string]bool{}
	for t := truncate(start, interval); !t.After(end); t = step(t) {
		name := prefix + t.Format(layout)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		if len(names) > limit {
			return ""
		}
	}
	return strings.Join(names, ",")
}

func timeRange(v string) (time.Time, time.Time, bool) {
	lo, hi, ok := strings.Cut(v, ",")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	a, err1 := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	b, err2 := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err1 != nil || err2 != nil || b < a {
		return time.Time{}, time.Time{}, false
	}
	return time.UnixMilli(a).UTC(), time.UnixMilli(b).UTC(), true
}

func periodLayout(interval string) (string, func(time.Time) time.Time) {
	switch interval {
	case "day":
		return "2006.01.02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	case "year":
		return "2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }
	default:
		return "2006.01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	}
}

func truncate(t time.Time, interval string) time.Time {
	switch interval {
	case "day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "year":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// Builtins registers the symbolizer and index-name builder that ship with
// the service.
func (s *Set) Builtins() error {
	if err := s.Symbolizers.Register(NewSimplifier("simplify", 0.1, nil)); err != nil {
		return err
	}
	return s.IndexNames.Register(TimePartitioned{})
}
