package app

import (
	"strings"
	"sync"
	"time"
)

// memo keeps live fallback results for a short while so a burst of requests
// for the same missing node costs one CMS call. Nil results are kept too.
type memo struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu    sync.Mutex
	items map[string]memoItem
}

type memoItem struct {
	v   any
	exp time.Time
}

func newMemo(ttl time.Duration, max int) *memo {
	return &memo{ttl: ttl, max: max, now: time.Now, items: map[string]memoItem{}}
}

func (m *memo) get(key string) (any, bool) {
	if m.ttl <= 0 {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(it.exp) {
		delete(m.items, key)
		return nil, false
	}
	return it.v, true
}

func (m *memo) put(key string, v any) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.items) >= m.max {
		for k, it := range m.items {
			if !now.Before(it.exp) {
				delete(m.items, k)
			}
		}
		// still full: start over rather than track recency
		if len(m.items) >= m.max {
			m.items = map[string]memoItem{}
		}
	}
	m.items[key] = memoItem{v: v, exp: now.Add(m.ttl)}
}

func (m *memo) dropPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
