// Package expdecay scores keys with an exponentially decaying request count.
package expdecay

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geo-search-bridge/internal/hotness"
)

const numShards = 64

// pruneBelow is the decayed score under which an entry is forgotten.
const pruneBelow = 0.05

type Tracker struct {
	halfLife float64 // seconds
	now      func() time.Time
	shards   [numShards]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	score float64
	at    time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{halfLife: halfLife.Seconds(), now: time.Now}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]entry)
	}
	return t
}

func (t *Tracker) Inc(key string) {
	if key == "" {
		return
	}
	s := t.shard(key)
	now := t.now()

	s.mu.Lock()
	e := s.entries[key]
	s.entries[key] = entry{score: t.decayed(e, now) + 1, at: now}
	s.mu.Unlock()
}

func (t *Tracker) Score(key string) float64 {
	if key == "" {
		return 0
	}
	s := t.shard(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return t.decayed(e, t.now())
}

func (t *Tracker) Reset(keys ...string) {
	for _, k := range keys {
		s := t.shard(k)
		s.mu.Lock()
		delete(s.entries, k)
		s.mu.Unlock()
	}
}

// Prune drops entries whose score has decayed to almost nothing and
// returns the number of entries left.
func (t *Tracker) Prune() int {
	now := t.now()
	left := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if t.decayed(e, now) < pruneBelow {
				delete(s.entries, k)
			}
		}
		left += len(s.entries)
		s.mu.Unlock()
	}
	return left
}

// Run prunes every interval until ctx is done. onPrune, if set, receives
// the remaining entry count.
func (t *Tracker) Run(ctx context.Context, every time.Duration, onPrune func(int)) {
	if every <= 0 {
		every = time.Minute
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n := t.Prune()
			if onPrune != nil {
				onPrune(n)
			}
		}
	}
}

func (t *Tracker) Size() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].entries)
		t.shards[i].mu.Unlock()
	}
	return n
}

func (t *Tracker) decayed(e entry, now time.Time) float64 {
	return decay(e.score, now.Sub(e.at).Seconds(), t.halfLife)
}

// decay applies score * e^(-ln2 * dt / halfLife).
func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2*dt/halfLife)
}

func (t *Tracker) shard(key string) *shard {
	return &t.shards[xxhash.Sum64String(key)%numShards]
}
