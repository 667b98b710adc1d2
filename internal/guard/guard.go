// Package guard deduplicates non-idempotent backend side effects.
package guard

import "sync"

// Guard records keys that have already triggered their side effect. Entries
// live for the lifetime of the Guard and are never persisted.
type Guard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an empty Guard.
func New() *Guard {
	return &Guard{seen: make(map[string]struct{})}
}

// TryOnce returns true exactly once per key: the first caller records the key
// and wins, every later or concurrent caller gets false.
func (g *Guard) TryOnce(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[key]; ok {
		return false
	}
	g.seen[key] = struct{}{}
	return true
}

// Seen reports whether key has been recorded.
func (g *Guard) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[key]
	return ok
}
