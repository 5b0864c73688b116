// Package config reads process settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type CacheCfg struct {
	Backend         string
	RedisAddr       string
	TTL             time.Duration
	OpTimeout       time.Duration
	TilesOnly       bool
	LocalCleanup    time.Duration
	// AdmitThreshold is the decayed request score a response key needs
	// before it is stored; zero stores every response.
	AdmitThreshold  float64
	HotnessHalfLife time.Duration
}

type EventsCfg struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	QueueSize int
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr               string
	LogLevel           string
	LogConsole         bool
	LogSampleN         int
	CatalogPath        string
	BackendTimeout     time.Duration
	PredicateCacheSize int
	Cache              CacheCfg
	Events             EventsCfg
	Invalidation       InvalidationCfg
	Metrics            MetricsCfg
}

func FromEnv() Config {
	ttl := getduration("CACHE_TTL_DEFAULT", 60*time.Second)
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	backend := strings.ToLower(getenv("CACHE_BACKEND", "none"))
	switch backend {
	case "none", "memory", "redis":
	default:
		backend = "none"
	}

	return Config{
		Addr:               getenv("ADDR", ":8090"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogConsole:         getbool("LOG_CONSOLE", false),
		LogSampleN:         getint("LOG_SAMPLE_N", 0),
		CatalogPath:        getenv("CATALOG_PATH", "catalog.yaml"),
		BackendTimeout:     getduration("BACKEND_TIMEOUT", 30*time.Second),
		PredicateCacheSize: getint("PREDICATE_CACHE_SIZE", 512),
		Cache: CacheCfg{
			Backend:      backend,
			RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
			TTL:          ttl,
			OpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			TilesOnly:    getbool("CACHE_TILES_ONLY", true),
			LocalCleanup: getduration("CACHE_LOCAL_CLEANUP", 2*time.Minute),

			AdmitThreshold:  getfloat("CACHE_ADMIT_THRESHOLD", 0),
			HotnessHalfLife: getduration("CACHE_HOTNESS_HALFLIFE", 5*time.Minute),
		},
		Events: EventsCfg{
			Enabled:   getbool("QUERY_EVENTS_ENABLED", false),
			Brokers:   splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:     getenv("KAFKA_TOPIC", "feature-queries"),
			QueueSize: getint("QUERY_EVENTS_QUEUE", 1024),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_INVALIDATION_TOPIC", "dataset-changes"),
			GroupID: getenv("KAFKA_INVALIDATION_GROUP", defaultGroupID()),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// one consumer group per replica, so every replica sees every event
func defaultGroupID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "featureserver"
	}
	return "featureserver-" + host
}

// parse "a, b,,c" into [a b c]
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
