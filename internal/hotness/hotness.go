// Package hotness scores how often response cache keys are requested.
package hotness

type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}
