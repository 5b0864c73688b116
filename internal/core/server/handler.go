package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/cache/tilecache"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/router"
	"github.com/mohammed-shakir/geo-search-bridge/internal/metadata"
	"github.com/mohammed-shakir/geo-search-bridge/internal/orchestrator"
	"github.com/mohammed-shakir/geo-search-bridge/internal/predicate"
	"github.com/mohammed-shakir/geo-search-bridge/internal/queryevents"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

// Engine answers feature and layer-info requests.
type Engine interface {
	Query(ctx context.Context, req model.Request) (orchestrator.Result, error)
	LayerInfo(ctx context.Context, backendID, dataset, layer string) (*orchestrator.LayerInfo, error)
}

// Handler serves protocol requests through the response cache, the engine
// and the query event stream. Cache and Events may be nil.
type Handler struct {
	engine Engine
	cache  *tilecache.Cache
	events *queryevents.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(engine Engine, cache *tilecache.Cache, events *queryevents.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, cache: cache, events: events, logger: logger, now: time.Now}
}

var _ router.QueryHandler = (*Handler)(nil)

func (h *Handler) HandleQuery(ctx context.Context, w http.ResponseWriter, r *http.Request, req model.Request) {
	if body, ok := h.cache.Get(ctx, req); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, body)
		return
	}

	res, err := h.engine.Query(ctx, req)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	if h.cache.Applies(req) {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, body)
	h.cache.Put(ctx, req, body)

	features := 0
	if fc := res.Primary(); fc != nil {
		features = len(fc.Features)
	}
	h.events.Publish(queryevents.FromRequest(req, res.Mode, features, h.now()))
}

// LayerInfo serves GET /{backend}/{dataset}/FeatureServer/{layer}.
func (h *Handler) LayerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.LayerInfo(r.Context(), chi.URLParam(r, "backend"), chi.URLParam(r, "dataset"), chi.URLParam(r, "layer"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	body, err := json.Marshal(info)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteError renders err as a protocol error object.
func (h *Handler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "status", code, "err", err)
	}
	var out errorBody
	out.Error.Code = code
	out.Error.Message = err.Error()
	if code == http.StatusInternalServerError {
		out.Error.Message = "internal server error"
	}
	body, _ := json.Marshal(out)
	writeJSON(w, code, body)
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		pe  *router.ParamError
		qe  *predicate.ParseError
		ce  *orchestrator.ConfigError
		bee *backend.Error
	)
	switch {
	case errors.As(err, &pe), errors.As(err, &qe),
		errors.Is(err, spatial.ErrInvalidGeometry), errors.Is(err, spatial.ErrInvalidEnvelope):
		return http.StatusBadRequest
	case errors.As(err, &ce), errors.Is(err, metadata.ErrUnknownBackend):
		return http.StatusNotFound
	case errors.As(err, &bee):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
