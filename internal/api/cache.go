package api

import (
	"sync"
	"time"
)

// View cache groups. Assistant actions and API writes invalidate them by
// name.
const (
	ViewRecipes       = "recipes"
	ViewMealPlan      = "meal-plan"
	ViewShoppingLists = "shopping-lists"
)

type cacheEntry struct {
	body    []byte
	expires time.Time
}

// ViewCache holds rendered list responses keyed by group and variant (for
// example the meal plan of one week). Invalidating a group drops all of its
// variants.
type ViewCache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	groups map[string]map[string]cacheEntry
}

func NewViewCache(ttl time.Duration) *ViewCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ViewCache{ttl: ttl, now: time.Now, groups: make(map[string]map[string]cacheEntry)}
}

func (c *ViewCache) Get(group, variant string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.groups[group][variant]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.body, true
}

func (c *ViewCache) Put(group, variant string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.groups[group]
	if g == nil {
		g = make(map[string]cacheEntry)
		c.groups[group] = g
	}
	g[variant] = cacheEntry{body: body, expires: c.now().Add(c.ttl)}
}

// Invalidate drops the named groups.
func (c *ViewCache) Invalidate(groups ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		delete(c.groups, g)
	}
}
