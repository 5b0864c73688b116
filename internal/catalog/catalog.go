// Package catalog loads the static backend and dataset configuration.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
)

const (
	GeoPoint = "geo_point"
	GeoShape = "geo_shape"
)

type TimeInfo struct {
	StartTimeField string  `yaml:"startTimeField" json:"startTimeField"`
	EndTimeField   string  `yaml:"endTimeField" json:"endTimeField"`
	TimeExtent     []int64 `yaml:"timeExtent,omitempty" json:"timeExtent,omitempty"`
}

type ShapeJoin struct {
	Name      string `yaml:"name"`
	JoinField string `yaml:"joinField"`
}

type ShapeIndex struct {
	Index         string `yaml:"index"`
	JoinField     string `yaml:"joinField"`
	GeometryField string `yaml:"geometryField"`
	GeometryType  string `yaml:"geometryType"`
	MaxResults    int    `yaml:"maxResults"`
}

type SubLayerOptions struct {
	AggregationFields map[string]any    `yaml:"aggregationFields"`
	TileConfig        []model.GridLevel `yaml:"tileConfig"`
	HexConfig         []model.GridLevel `yaml:"hexConfig"`
	DefaultExtent     map[string]any    `yaml:"defaultExtent"`
	TermField         string            `yaml:"termField"`
	SortField         string            `yaml:"sortField"`
	SortOrder         string            `yaml:"sortOrder"`
	IgnoreGeoBoundary bool              `yaml:"ignoreGeoBoundary"`
}

type SubLayer struct {
	Name    string          `yaml:"name"`
	Options SubLayerOptions `yaml:"options"`
}

// DatasetConfig is the static description of one layer. It is never mutated
// once the catalog is loaded.
type DatasetConfig struct {
	Name                string                       `yaml:"-"`
	Index               string                       `yaml:"index"`
	IndexNameBuilder    string                       `yaml:"indexNameBuilder"`
	IndexNameConfig     map[string]any               `yaml:"indexNameConfig"`
	GeometryField       string                       `yaml:"geometryField"`
	GeometryType        string                       `yaml:"geometryType"`
	MaxResults          int                          `yaml:"maxResults"`
	MaxLayerInfoResults int                          `yaml:"maxLayerInfoResults"`
	ReturnFields        []string                     `yaml:"returnFields"`
	DateFields          []string                     `yaml:"dateFields"`
	IDField             string                       `yaml:"idField"`
	IsTable             bool                         `yaml:"isTable"`
	AllowMultiPoint     bool                         `yaml:"allowMultiPoint"`
	ReversePolygons     bool                         `yaml:"reversePolygons"`
	MapReturnValues     map[string]map[string]string `yaml:"mapReturnValues"`
	QueryDefinition     string                       `yaml:"queryDefinition"`
	ShapeIndex          *ShapeJoin                   `yaml:"shapeIndex"`
	SubLayers           []SubLayer                   `yaml:"subLayers"`
	TimeInfo            *TimeInfo                    `yaml:"timeInfo"`
	Sort                any                          `yaml:"sort"`
	Collapse            any                          `yaml:"collapse"`
	SourceSearchFields  []string                     `yaml:"sourceSearchFields"`
	VectorLayerID       string                       `yaml:"vectorLayerID"`
	CustomSymbolizer    string                       `yaml:"customSymbolizer"`
	VectorStyle         map[string]any               `yaml:"vectorStyle"`
	Caption             string                       `yaml:"caption"`
	Extent              map[string]any               `yaml:"extent"`
}

// IsPointType reports whether the geometry field is a geo_point.
func (d *DatasetConfig) IsPointType() bool {
	return strings.EqualFold(d.GeometryType, GeoPoint)
}

// HasGeometry reports whether the existence filter applies to the dataset.
func (d *DatasetConfig) HasGeometry() bool {
	return d.GeometryField != "" && !d.IsTable
}

// SubLayer returns the aggregation sub-layer with the given name.
func (d *DatasetConfig) SubLayer(name string) (SubLayer, bool) {
	for _, s := range d.SubLayers {
		if s.Name == name {
			return s, true
		}
	}
	return SubLayer{}, false
}

type Backend struct {
	Dialect            string                    `yaml:"dialect"`
	Addresses          []string                  `yaml:"addresses"`
	Username           string                    `yaml:"username"`
	Password           string                    `yaml:"password"`
	APIKey             string                    `yaml:"apiKey"`
	CACertFile         string                    `yaml:"caCertFile"`
	InsecureSkipVerify bool                      `yaml:"insecureSkipVerify"`
	Indices            map[string]*DatasetConfig `yaml:"indices"`
	ShapeIndices       map[string]*ShapeIndex    `yaml:"shapeIndices"`
}

type Catalog struct {
	Backends map[string]*Backend `yaml:"backends"`
}

// Load reads a YAML (or JSON) catalog file and validates it.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() error {
	if len(c.Backends) == 0 {
		return errors.New("catalog: no backends configured")
	}
	var errs []error
	for id, be := range c.Backends {
		if be == nil {
			errs = append(errs, fmt.Errorf("catalog: backend %q is empty", id))
			continue
		}
		if len(be.Addresses) == 0 {
			errs = append(errs, fmt.Errorf("catalog: backend %q has no addresses", id))
		}
		for name, ds := range be.Indices {
			if ds == nil {
				errs = append(errs, fmt.Errorf("catalog: dataset %s/%s is empty", id, name))
				continue
			}
			ds.Name = name
			if ds.Index == "" {
				errs = append(errs, fmt.Errorf("catalog: dataset %s/%s: index is required", id, name))
			}
			if ds.GeometryField == "" && !ds.IsTable {
				errs = append(errs, fmt.Errorf("catalog: dataset %s/%s: geometryField is required unless isTable", id, name))
			}
			if ds.MaxResults <= 0 {
				ds.MaxResults = 1000
			}
			if ds.VectorLayerID == "" {
				ds.VectorLayerID = "0"
			}
			for i, sl := range ds.SubLayers {
				if strings.TrimSpace(sl.Name) == "" {
					errs = append(errs, fmt.Errorf("catalog: dataset %s/%s: subLayers[%d] has no name", id, name, i))
				}
			}
			if ds.ShapeIndex != nil {
				if _, ok := be.ShapeIndices[ds.ShapeIndex.Name]; !ok {
					errs = append(errs, fmt.Errorf("catalog: dataset %s/%s: unknown shape index %q", id, name, ds.ShapeIndex.Name))
				}
			}
		}
		for name, si := range be.ShapeIndices {
			if si == nil {
				continue
			}
			if si.Index == "" {
				si.Index = name
			}
			if si.MaxResults <= 0 {
				si.MaxResults = 1000
			}
		}
	}
	return errors.Join(errs...)
}

// Dataset looks up a dataset by backend id and name.
func (c *Catalog) Dataset(backendID, name string) (*DatasetConfig, bool) {
	be, ok := c.Backends[backendID]
	if !ok {
		return nil, false
	}
	ds, ok := be.Indices[name]
	return ds, ok
}

func (c *Catalog) Backend(id string) (*Backend, bool) {
	be, ok := c.Backends[id]
	return be, ok
}

// BackendIDs returns the configured backend ids in sorted order.
func (c *Catalog) BackendIDs() []string {
	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
