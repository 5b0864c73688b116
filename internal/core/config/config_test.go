package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("KAFKA_INVALIDATION_GROUP", "g")
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.Cache.Backend != "none" || cfg.Cache.TTL != time.Minute || !cfg.Cache.TilesOnly {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Cache.AdmitThreshold != 0 || cfg.Invalidation.Enabled || cfg.Invalidation.GroupID != "g" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "REDIS")
	t.Setenv("CACHE_TTL_DEFAULT", "90s")
	t.Setenv("CACHE_ADMIT_THRESHOLD", "2.5")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092")
	t.Setenv("QUERY_EVENTS_ENABLED", "yes")
	t.Setenv("INVALIDATION_ENABLED", "1")
	t.Setenv("BACKEND_TIMEOUT", "not-a-duration")

	cfg := FromEnv()
	if cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 90*time.Second || cfg.Cache.AdmitThreshold != 2.5 {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
	if diff := cmp.Diff([]string{"a:9092", "b:9092"}, cfg.Events.Brokers); diff != "" {
		t.Fatalf("brokers (-want +got):\n%s", diff)
	}
	if !cfg.Events.Enabled || !cfg.Invalidation.Enabled {
		t.Fatalf("events=%+v invalidation=%+v", cfg.Events, cfg.Invalidation)
	}
	if cfg.BackendTimeout != 30*time.Second {
		t.Fatalf("bad duration should fall back, got %v", cfg.BackendTimeout)
	}
}

func TestFromEnv_UnknownCacheBackendDisables(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memcached")
	t.Setenv("CACHE_TTL_DEFAULT", "-5s")
	cfg := FromEnv()
	if cfg.Cache.Backend != "none" || cfg.Cache.TTL != time.Minute {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
}
