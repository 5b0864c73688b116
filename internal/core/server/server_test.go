package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/cache/tilecache"
	"github.com/mohammed-shakir/geo-search-bridge/internal/convert"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/router"
	"github.com/mohammed-shakir/geo-search-bridge/internal/logger"
	"github.com/mohammed-shakir/geo-search-bridge/internal/orchestrator"
	"github.com/mohammed-shakir/geo-search-bridge/internal/predicate"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls int
	last  model.Request
	err   error
}

func (f *fakeEngine) Query(_ context.Context, req model.Request) (orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return orchestrator.Result{}, f.err
	}
	fc := convert.NewCollection(req.Dataset, 100)
	return orchestrator.Result{Collection: fc, Mode: orchestrator.ModeQuery}, nil
}

func (f *fakeEngine) LayerInfo(_ context.Context, backendID, dataset, layer string) (*orchestrator.LayerInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.LayerInfo{ID: layer, Name: backendID + "/" + dataset, Type: "Feature Layer"}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newServer(t *testing.T, eng *fakeEngine, cache *tilecache.Cache) *httptest.Server {
	t.Helper()
	h := NewHandler(eng, cache, nil, logger.Discard())
	srv := httptest.NewServer(NewRouter(Routes{Handler: h, Pool: backend.Pool{}, Logger: logger.Discard()}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp, body
}

func TestQueryRoutes(t *testing.T) {
	eng := &fakeEngine{}
	srv := newServer(t, eng, nil)

	cases := []struct {
		path       string
		layer      string
		vectorTile bool
	}{
		{"/es/places/FeatureServer/query?where=a%3D1", "", false},
		{"/es/places/FeatureServer/2/query", "2", false},
		{"/es/places/VectorTileServer/tile/1/0/1", "", true},
	}
	for _, tc := range cases {
		resp, body := get(t, srv.URL+tc.path)
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("%s: status=%d type=%q", tc.path, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
		if body["type"] != "FeatureCollection" {
			t.Fatalf("%s: body=%v", tc.path, body)
		}
		eng.mu.Lock()
		last := eng.last
		eng.mu.Unlock()
		if last.Backend != "es" || last.Dataset != "places" || last.Layer != tc.layer || last.VectorTile != tc.vectorTile {
			t.Fatalf("%s: request=%+v", tc.path, last)
		}
	}
}

func TestLayerInfoRoute(t *testing.T) {
	srv := newServer(t, &fakeEngine{}, nil)
	resp, body := get(t, srv.URL+"/es/places/FeatureServer/1")
	if resp.StatusCode != http.StatusOK || body["id"] != "1" || body["name"] != "es/places" {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&predicate.ParseError{Input: "a ==", Msg: "syntax error"}, http.StatusBadRequest},
		{fmt.Errorf("geometry: %w", spatial.ErrInvalidGeometry), http.StatusBadRequest},
		{&orchestrator.ConfigError{Kind: "dataset", Name: "nope"}, http.StatusNotFound},
		{&backend.Error{Backend: "es", Op: "search", Status: 500}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv := newServer(t, &fakeEngine{err: tc.err}, nil)
		resp, body := get(t, srv.URL+"/es/places/FeatureServer/query")
		if resp.StatusCode != tc.want {
			t.Fatalf("%v: status=%d want %d", tc.err, resp.StatusCode, tc.want)
		}
		e, _ := body["error"].(map[string]any)
		if e == nil || e["code"] != float64(tc.want) {
			t.Fatalf("%v: body=%v", tc.err, body)
		}
	}
}

func TestBadParameterIs400(t *testing.T) {
	eng := &fakeEngine{}
	srv := newServer(t, eng, nil)
	resp, body := get(t, srv.URL+"/es/places/FeatureServer/query?resultOffset=-3")
	if resp.StatusCode != http.StatusBadRequest || eng.callCount() != 0 {
		t.Fatalf("status=%d calls=%d", resp.StatusCode, eng.callCount())
	}
	msg := body["error"].(map[string]any)["message"].(string)
	if !strings.Contains(msg, "resultOffset") {
		t.Fatalf("message=%q", msg)
	}
	if got := StatusFor(&router.ParamError{Param: "x", Err: errors.New("bad")}); got != http.StatusBadRequest {
		t.Fatalf("StatusFor(ParamError)=%d", got)
	}
}

func TestTileResponsesAreCached(t *testing.T) {
	eng := &fakeEngine{}
	cache := tilecache.New(tilecache.NewMemory(time.Minute, time.Minute), tilecache.Config{TilesOnly: true}, logger.Discard())
	srv := newServer(t, eng, cache)

	var headers []string
	for range 2 {
		resp, _ := get(t, srv.URL+"/es/places/VectorTileServer/tile/2/1/1")
		headers = append(headers, resp.Header.Get("X-Cache"))
	}
	if diff := cmp.Diff([]string{"MISS", "HIT"}, headers); diff != "" {
		t.Fatalf("cache headers (-want +got):\n%s", diff)
	}
	if eng.callCount() != 1 {
		t.Fatalf("engine calls=%d, want 1", eng.callCount())
	}

	get(t, srv.URL+"/es/places/FeatureServer/query")
	get(t, srv.URL+"/es/places/FeatureServer/query")
	if eng.callCount() != 3 {
		t.Fatalf("non-tile requests must bypass the cache, calls=%d", eng.callCount())
	}
}

func TestHealthRoutes(t *testing.T) {
	srv := newServer(t, &fakeEngine{}, nil)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status=%d", path, resp.StatusCode)
		}
	}
}
