package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/logger"
	"github.com/mohammed-shakir/geo-search-bridge/internal/metadata"
)

// LayerInfo describes a layer's schema without querying its documents.
type LayerInfo struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Description    string            `json:"description,omitempty"`
	GeometryType   string            `json:"geometryType,omitempty"`
	MaxRecordCount int               `json:"maxRecordCount"`
	IDField        string            `json:"idField,omitempty"`
	Fields         []metadata.Field  `json:"fields"`
	Template       map[string]any    `json:"template"`
	TimeInfo       *convert.TimeInfo `json:"timeInfo,omitempty"`
	SubLayers      []SubLayerSummary `json:"subLayers,omitempty"`
}

type SubLayerSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LayerInfo resolves the schema of a dataset layer. The primary layer
// derives its fields from the index mapping; sub-layers use their strategy's
// default return fields.
func (o *Orchestrator) LayerInfo(ctx context.Context, backendID, dataset, layer string) (*LayerInfo, error) {
	t, err := o.resolve(backendID, dataset)
	if err != nil {
		return nil, err
	}
	layer = strings.TrimSpace(layer)
	if err := o.selectLayer(&t, layer); err != nil {
		return nil, err
	}
	ds := t.ds
	ctx = logger.WithDataset(ctx, ds.Name)

	mapping, err := o.meta.Mapping(ctx, backendID, ds.Index)
	if err != nil {
		o.logger.ErrorContext(ctx, "mapping fetch failed", "err", err)
		return nil, err
	}

	if t.subLayer != nil {
		return &LayerInfo{
			ID:             layer,
			Name:           ds.Index + "_" + t.subLayer.Name,
			Type:           "Feature Layer",
			GeometryType:   "Polygon",
			MaxRecordCount: defaultLayerMaxRecords,
			Fields:         []metadata.Field{},
			Template:       t.strategy.DefaultReturnFields(mapping, ds, nil),
		}, nil
	}

	info := &LayerInfo{
		ID:             primaryLayer,
		Name:           ds.Name,
		Type:           "Feature Layer",
		Description:    ds.Caption,
		GeometryType:   ds.GeometryType,
		MaxRecordCount: ds.MaxResults,
		IDField:        ds.IDField,
		Fields:         metadata.Fields(mapping, ds.ReturnFields),
		Template:       metadata.ZeroValues(mapping, ds.ReturnFields, time.Now()),
	}
	if ds.IsTable {
		info.Type = "Table"
		info.GeometryType = ""
	}
	if ds.TimeInfo != nil {
		info.TimeInfo = configuredTimeInfo(ds.TimeInfo)
	}
	for i, sl := range ds.SubLayers {
		info.SubLayers = append(info.SubLayers, SubLayerSummary{
			ID:   strconv.Itoa(i + 1),
			Name: ds.Index + "_" + sl.Name,
		})
	}
	return info, nil
}
