// Package tilecache caches rendered feature responses, keyed by the
// normalized request. Cache failures are logged and never fail a request.
package tilecache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mohammed-shakir/geo-search-bridge/internal/cache/keys"
	"github.com/mohammed-shakir/geo-search-bridge/internal/cache/redisstore"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/decision"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type redisStore struct {
	cli *redisstore.Client
}

// NewRedis stores responses in Redis, shared across replicas.
func NewRedis(cli *redisstore.Client) Store {
	return &redisStore{cli: cli}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m, err := s.cli.MGet(ctx, []string{key})
	if err != nil {
		return nil, false, fmt.Errorf("tilecache get: %w", err)
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *redisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.cli.Set(ctx, key, val, ttl); err != nil {
		return fmt.Errorf("tilecache set: %w", err)
	}
	return nil
}

type memoryStore struct {
	c *gocache.Cache
}

// NewMemory stores responses in process. Expired entries are purged every
// cleanup interval.
func NewMemory(ttl, cleanup time.Duration) Store {
	return &memoryStore{c: gocache.New(ttl, cleanup)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, found := s.c.Get(key)
	observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
	b, ok := v.([]byte)
	if !found || !ok {
		observability.AddCacheMisses(1)
		return nil, false, nil
	}
	observability.AddCacheHits(1)
	return b, true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	s.c.Set(key, val, ttl)
	observability.ObserveCacheOp("set", nil, time.Since(start).Seconds())
	return nil
}

type Config struct {
	TTL       time.Duration
	OpTimeout time.Duration
	// TilesOnly restricts caching to tile-addressed vector tile requests.
	TilesOnly bool
	// Admission, when set, decides whether a response is stored. Every
	// lookup is reported to it.
	Admission decision.Interface
}

// Cache is safe to use as a nil pointer, which disables caching.
type Cache struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	// generations is bumped per backend/dataset on invalidation so that
	// earlier entries are no longer addressed.
	generations map[string]uint64
}

func New(store Store, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &Cache{store: store, cfg: cfg, logger: logger, generations: map[string]uint64{}}
}

// Applies reports whether responses to req are cached.
func (c *Cache) Applies(req model.Request) bool {
	if c == nil || c.store == nil {
		return false
	}
	if !c.cfg.TilesOnly {
		return true
	}
	return req.VectorTile && req.Query.Tile != nil
}

// Get returns the cached response body for req.
func (c *Cache) Get(ctx context.Context, req model.Request) ([]byte, bool) {
	if !c.Applies(req) {
		return nil, false
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := c.key(req)
	if c.cfg.Admission != nil {
		c.cfg.Admission.Observe(key)
	}
	b, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "cache lookup failed, continuing with backend", "key", key, "err", err)
		return nil, false
	}
	return b, ok
}

// Put stores a response body for req. It outlives the request context so a
// client disconnect does not abort the write.
func (c *Cache) Put(ctx context.Context, req model.Request, body []byte) {
	if !c.Applies(req) {
		return
	}
	key := c.key(req)
	if c.cfg.Admission != nil && !c.cfg.Admission.ShouldCache(key) {
		return
	}
	ctx, cancel := c.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	if err := c.store.Set(ctx, key, body, c.cfg.TTL); err != nil {
		c.logger.WarnContext(ctx, "cache store failed", "key", key, "err", err)
	}
}

// Invalidate stops serving every entry cached for the dataset. Entries
// are not deleted; they age out with their TTL.
func (c *Cache) Invalidate(backendID, dataset string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := backendID + "/" + dataset
	c.generations[id]++
	return c.generations[id]
}

func (c *Cache) key(req model.Request) string {
	c.mu.RLock()
	gen := c.generations[req.Backend+"/"+req.Dataset]
	c.mu.RUnlock()
	key := keys.Key(req)
	if gen == 0 {
		return key
	}
	return key + ":g" + strconv.FormatUint(gen, 10)
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.OpTimeout)
}
