// Package cache holds the caller-owned appraisal cache and the dated
// snapshot store used for trend reporting. The solver itself stays
// stateless; invalidation is explicit and happens whenever the underlying
// bundle set changes.
package cache

import (
	"sync"
	"time"

	"github.com/packworth/packworth/internal/solver"
)

// Appraisal is one cached solver run.
type Appraisal struct {
	Result     *solver.Result `json:"result"`
	ComputedAt time.Time      `json:"computedAt"`
}

// PriceCache memoizes the most recent appraisal. Safe for concurrent use.
//
// Time alone never expires an entry; callers must Invalidate after accepting
// new bundle data, since stale prices directly distort downstream displays.
type PriceCache struct {
	mu      sync.RWMutex
	current *Appraisal
}

// New returns an empty cache.
func New() *PriceCache {
	return &PriceCache{}
}

// Get returns the cached appraisal, if any.
func (c *PriceCache) Get() (Appraisal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Appraisal{}, false
	}
	return *c.current, true
}

// Set replaces the cached appraisal.
func (c *PriceCache) Set(result *solver.Result, computedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &Appraisal{Result: result, ComputedAt: computedAt}
}

// Invalidate drops the cached appraisal so the next Get misses.
func (c *PriceCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}
