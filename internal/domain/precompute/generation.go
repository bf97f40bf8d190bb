package precompute

import (
	"hash/fnv"
	"sync"
)

// generations versions schedule keys. Recompute and Invalidate bump a key;
// a computation publishes only if the key still has the generation it
// started with.
type generations struct {
	mu      sync.Mutex
	current map[string]uint64
	stripes [32]sync.Mutex
}

func (g *generations) get(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current[key]
}

// snapshot copies every bumped key; absent keys are generation zero.
func (g *generations) snapshot() map[string]uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]uint64, len(g.current))
	for k, v := range g.current {
		out[k] = v
	}
	return out
}

// bump waits for any publish of key in progress and returns the new generation.
func (g *generations) bump(key string) uint64 {
	unlock := g.lock(key)
	defer unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		g.current = make(map[string]uint64)
	}
	g.current[key]++
	return g.current[key]
}

// lock serializes the check-and-publish of one key.
func (g *generations) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &g.stripes[h.Sum32()%uint32(len(g.stripes))]
	m.Lock()
	return m.Unlock
}
