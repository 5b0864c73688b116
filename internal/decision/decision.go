// Package decision decides which responses are worth caching.
package decision

type Interface interface {
	// Observe records one request for key.
	Observe(key string)
	ShouldCache(key string) bool
}
