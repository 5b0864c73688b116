// Package router parses feature-query protocol requests and dispatches them
// to a QueryHandler.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
)

// receives parsed feature requests and serves them
type QueryHandler interface {
	HandleQuery(ctx context.Context, w http.ResponseWriter, r *http.Request, req model.Request)
}

// ParamError is a malformed request parameter.
type ParamError struct {
	Param string
	Err   error
}

func (e *ParamError) Error() string { return fmt.Sprintf("invalid %s: %v", e.Param, e.Err) }

func (e *ParamError) Unwrap() error { return e.Err }

// ErrorWriter renders a request error. The server supplies one that maps
// error types to protocol error codes.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// HandleQuery parses the chi route and query parameters into a model.Request
// and calls the handler. route labels the HTTP metrics.
func HandleQuery(logger *slog.Logger, route string, vectorTile bool, h QueryHandler, writeErr ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		req, err := ParseRequest(r, vectorTile)
		if err != nil {
			logger.DebugContext(r.Context(), "rejected request", "err", err)
			writeErr(sw, r, err)
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
			return
		}

		h.HandleQuery(r.Context(), sw, r, req)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseRequest reads {backend}, {dataset}, {layer} and, for tile routes,
// {z}/{y}/{x} from the route, and the query parameters.
func ParseRequest(r *http.Request, vectorTile bool) (model.Request, error) {
	req := model.Request{
		Backend:    chi.URLParam(r, "backend"),
		Dataset:    chi.URLParam(r, "dataset"),
		Layer:      strings.TrimSpace(chi.URLParam(r, "layer")),
		VectorTile: vectorTile,
	}
	if req.Layer != "" {
		if _, err := strconv.Atoi(req.Layer); err != nil {
			return model.Request{}, &ParamError{Param: "layer", Err: err}
		}
	}

	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		return model.Request{}, err
	}
	if vectorTile {
		tile, err := ParseTile(chi.URLParam(r, "z"), chi.URLParam(r, "y"), chi.URLParam(r, "x"))
		if err != nil {
			return model.Request{}, err
		}
		q.Tile = tile
	}
	req.Query = q
	return req, nil
}

// ParseTile validates a slippy tile address. All three parts empty means no
// tile.
func ParseTile(z, y, x string) (*model.Tile, error) {
	if z == "" && y == "" && x == "" {
		return nil, nil
	}
	zi, err := strconv.Atoi(z)
	if err != nil || zi < 0 || zi > 29 {
		return nil, &ParamError{Param: "tile z", Err: fmt.Errorf("%q out of range", z)}
	}
	n := 1 << zi
	xi, err := strconv.Atoi(x)
	if err != nil || xi < 0 || xi >= n {
		return nil, &ParamError{Param: "tile x", Err: fmt.Errorf("%q out of range", x)}
	}
	yi, err := strconv.Atoi(y)
	if err != nil || yi < 0 || yi >= n {
		return nil, &ParamError{Param: "tile y", Err: fmt.Errorf("%q out of range", y)}
	}
	return &model.Tile{X: xi, Y: yi, Z: zi}, nil
}

// ParseQuery reads the feature-query protocol parameters.
func ParseQuery(v url.Values) (model.RequestQuery, error) {
	q := model.RequestQuery{
		Where:        strings.TrimSpace(v.Get("where")),
		Time:         strings.TrimSpace(v.Get("time")),
		Units:        strings.TrimSpace(v.Get("units")),
		OutFields:    strings.TrimSpace(v.Get("outFields")),
		SourceSearch: strings.TrimSpace(v.Get("sourceSearch")),
	}
	if q.Where == "1=1" {
		q.Where = ""
	}

	var err error
	if q.InSR, err = parseSR(v.Get("inSR")); err != nil {
		return q, &ParamError{Param: "inSR", Err: err}
	}
	if raw := strings.TrimSpace(v.Get("geometry")); raw != "" {
		if q.Geometry, err = parseGeometry(raw); err != nil {
			return q, &ParamError{Param: "geometry", Err: err}
		}
		if q.Geometry.SpatialReference == nil && q.InSR != 0 {
			q.Geometry.SpatialReference = &model.SpatialReference{WKID: q.InSR}
		}
	}

	if q.Distance, err = floatParam(v, "distance"); err != nil {
		return q, err
	}
	if q.MaxAllowableOffset, err = floatParam(v, "maxAllowableOffset"); err != nil {
		return q, err
	}
	if q.ResultOffset, err = intParam(v, "resultOffset"); err != nil {
		return q, err
	}
	if q.ResultRecordCount, err = intParam(v, "resultRecordCount"); err != nil {
		return q, err
	}
	if q.ReturnCountOnly, err = boolParam(v, "returnCountOnly"); err != nil {
		return q, err
	}
	if raw := strings.TrimSpace(v.Get("returnGeometry")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, &ParamError{Param: "returnGeometry", Err: err}
		}
		q.ReturnGeometry = &b
	}

	if raw := strings.TrimSpace(v.Get("customAggregations")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.CustomAggregations); err != nil {
			return q, &ParamError{Param: "customAggregations", Err: err}
		}
	}
	if raw := strings.TrimSpace(v.Get("tileConfig")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.TileConfig); err != nil {
			return q, &ParamError{Param: "tileConfig", Err: err}
		}
	}
	return q, nil
}

// parseGeometry accepts a JSON geometry object or a bare
// "xmin,ymin,xmax,ymax" / "x,y" list.
func parseGeometry(raw string) (*model.Geometry, error) {
	if strings.HasPrefix(raw, "{") {
		var g model.Geometry
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return &g, nil
	}
	parts := strings.Split(raw, ",")
	nums := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse float: %w", err)
		}
		nums[i] = f
	}
	switch len(nums) {
	case 2:
		return model.PointGeometry(nums[0], nums[1], nil), nil
	case 4:
		return model.EnvelopeGeometry(nums[0], nums[1], nums[2], nums[3], nil), nil
	}
	return nil, errors.New("expected x,y or xmin,ymin,xmax,ymax")
}

// parseSR accepts a bare wkid or a {"wkid": n} object.
func parseSR(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if strings.HasPrefix(raw, "{") {
		var sr model.SpatialReference
		if err := json.Unmarshal([]byte(raw), &sr); err != nil {
			return 0, fmt.Errorf("parse json: %w", err)
		}
		if sr.LatestWKID != 0 {
			return sr.LatestWKID, nil
		}
		return sr.WKID, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse wkid: %w", err)
	}
	return n, nil
}

func floatParam(v url.Values, name string) (float64, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ParamError{Param: name, Err: err}
	}
	return f, nil
}

func intParam(v url.Values, name string) (int, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ParamError{Param: name, Err: fmt.Errorf("%q is not a non-negative integer", raw)}
	}
	return n, nil
}

func boolParam(v url.Values, name string) (bool, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &ParamError{Param: name, Err: err}
	}
	return b, nil
}
