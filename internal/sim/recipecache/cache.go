// Package recipecache remembers complete action sequences by target shape so
// a form with an already-solved recipe replays instead of planning again.
//
// The cache is in-memory only and lives as long as the process. A single
// instance is shared by every engine; writes are serialized.
package recipecache

import (
	"sync"

	"clayformer.ai/internal/sim/action"
)

type Cache struct {
	mu      sync.RWMutex
	entries map[string][]action.Action

	hits   uint64
	misses uint64
}

func New() *Cache {
	return &Cache{entries: map[string][]action.Action{}}
}

// TryGet returns a copy of the sequence stored under key.
func (c *Cache) TryGet(key string) ([]action.Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return action.CloneAll(seq), true
}

// Save stores seq under key unless the key is already present. The first
// completed run for a shape wins; it reports whether seq was stored.
func (c *Cache) Save(key string, seq []action.Action) bool {
	if key == "" || len(seq) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = action.CloneAll(seq)
	return true
}

type Stats struct {
	Entries int
	Actions int
	Hits    uint64
	Misses  uint64
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
	for _, seq := range c.entries {
		s.Actions += len(seq)
	}
	return s
}
