package simple

import (
	"sync"
	"testing"

	"github.com/mohammed-shakir/geo-search-bridge/internal/decision"
	"github.com/mohammed-shakir/geo-search-bridge/internal/hotness"
)

type fakeHot struct {
	mu sync.Mutex
	m  map[string]float64
}

func newFakeHot() *fakeHot { return &fakeHot{m: make(map[string]float64)} }

func (f *fakeHot) Inc(key string) {
	f.mu.Lock()
	f.m[key]++
	f.mu.Unlock()
}

func (f *fakeHot) Score(key string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m[key]
}

func (f *fakeHot) Reset(keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.m, k)
	}
}

var (
	_ hotness.Interface  = (*fakeHot)(nil)
	_ decision.Interface = (*Engine)(nil)
)

func TestShouldCache_AfterThresholdRequests(t *testing.T) {
	h := newFakeHot()
	e := &Engine{Hot: h, Threshold: 2}
	key := "gsb:es:places:all:t3-2-1"

	e.Observe(key)
	if e.ShouldCache(key) {
		t.Fatal("one request must not admit with threshold 2")
	}
	e.Observe(key)
	if !e.ShouldCache(key) {
		t.Fatal("second request should admit")
	}
	if e.ShouldCache("other") {
		t.Fatal("unseen key admitted")
	}
}

func TestShouldCache_NoThresholdAdmitsAll(t *testing.T) {
	cases := []*Engine{
		{Hot: newFakeHot()},
		{Threshold: 5},
	}
	for i, e := range cases {
		e.Observe("k")
		if !e.ShouldCache("k") {
			t.Fatalf("case %d: expected admit", i)
		}
	}
}
