// Package elastic implements backend.Client on top of go-elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
)

const DialectOpenSearch = "opensearch"

type Client struct {
	id      string
	es      *elasticsearch.Client
	logger  *slog.Logger
	timeout time.Duration
}

var _ backend.Client = (*Client)(nil)

// New builds a client for one catalog backend. rt is the shared transport.
func New(id string, cfg catalog.Backend, rt http.RoundTripper, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elastic %s: no addresses", id)
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	if strings.EqualFold(cfg.Dialect, DialectOpenSearch) {
		rt = productHeader{next: rt}
	}

	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: rt,
	}
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("elastic %s: read ca cert: %w", id, err)
		}
		esCfg.CACert = pem
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("elastic %s: new client: %w", id, err)
	}
	return &Client{id: id, es: es, logger: logger, timeout: timeout}, nil
}

func (c *Client) Search(ctx context.Context, req backend.SearchRequest) (*backend.SearchResponse, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &backend.Error{Backend: c.id, Op: "search", Err: fmt.Errorf("encode body: %w", err)}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.logger.DebugContext(ctx, "backend search", "backend", c.id, "index", req.Index, "body", string(body))

	start := time.Now()
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(splitIndex(req.Index)...),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithIgnoreUnavailable(true),
		c.es.Search.WithTrackTotalHits(true),
	)
	raw, err := c.read("search", res, err)
	observability.ObserveBackend(c.id, "search", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	out, err := backend.DecodeSearchResponse(raw)
	if err != nil {
		return nil, &backend.Error{Backend: c.id, Op: "search", Err: err}
	}
	return out, nil
}

func (c *Client) Count(ctx context.Context, req backend.SearchRequest) (int64, error) {
	q := map[string]any{}
	if v, ok := req.Body["query"]; ok {
		q["query"] = v
	}
	body, err := json.Marshal(q)
	if err != nil {
		return 0, &backend.Error{Backend: c.id, Op: "count", Err: fmt.Errorf("encode body: %w", err)}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(splitIndex(req.Index)...),
		c.es.Count.WithBody(bytes.NewReader(body)),
		c.es.Count.WithIgnoreUnavailable(true),
	)
	raw, err := c.read("count", res, err)
	observability.ObserveBackend(c.id, "count", err, time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, &backend.Error{Backend: c.id, Op: "count", Err: fmt.Errorf("decode: %w", err)}
	}
	return out.Count, nil
}

// Mapping returns the properties of the first index (by name) matching the pattern.
func (c *Client) Mapping(ctx context.Context, index string) (backend.Mapping, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithContext(ctx),
		c.es.Indices.GetMapping.WithIndex(splitIndex(index)...),
	)
	raw, err := c.read("mapping", res, err)
	observability.ObserveBackend(c.id, "mapping", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var byIndex map[string]struct {
		Mappings struct {
			Properties map[string]any `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(raw, &byIndex); err != nil {
		return nil, &backend.Error{Backend: c.id, Op: "mapping", Err: fmt.Errorf("decode: %w", err)}
	}
	if len(byIndex) == 0 {
		return nil, &backend.Error{Backend: c.id, Op: "mapping", Err: fmt.Errorf("no index matches %q", index)}
	}
	names := make([]string, 0, len(byIndex))
	for n := range byIndex {
		names = append(names, n)
	}
	sort.Strings(names)
	props := byIndex[names[0]].Mappings.Properties
	if props == nil {
		props = map[string]any{}
	}
	return backend.Mapping(props), nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	_, err = c.read("ping", res, err)
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) read(op string, res *esapi.Response, err error) ([]byte, error) {
	if err != nil {
		c.logger.Error("backend call failed", "backend", c.id, "op", op, "err", err)
		return nil, &backend.Error{Backend: c.id, Op: op, Err: err}
	}
	if res.Body != nil {
		defer func() { _ = res.Body.Close() }()
	}

	if res.IsError() {
		e := &backend.Error{Backend: c.id, Op: op, Status: res.StatusCode}
		if res.Body != nil {
			b, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
			e.Body = strings.TrimSpace(string(b))
		}
		c.logger.Error("backend call failed", "backend", c.id, "op", op, "status", res.StatusCode)
		return nil, e
	}
	if res.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &backend.Error{Backend: c.id, Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return b, nil
}

func splitIndex(index string) []string {
	var out []string
	for _, p := range strings.Split(index, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// productHeader satisfies the client's product check for OpenSearch clusters,
// which do not send X-Elastic-Product.
type productHeader struct {
	next http.RoundTripper
}

func (p productHeader) RoundTrip(r *http.Request) (*http.Response, error) {
	res, err := p.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if res.Header == nil {
		res.Header = http.Header{}
	}
	if res.Header.Get("X-Elastic-Product") == "" {
		res.Header.Set("X-Elastic-Product", "Elasticsearch")
	}
	return res, nil
}
