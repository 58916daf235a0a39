package triage

import (
	"context"
	"sync"
	"time"
)

// RuleCache is a caller-owned read cache over Store.ListRules with a
// configurable TTL. The classifier consults it on every item; learning and
// deletion invalidate it so new rules apply immediately. It is constructed
// and wired by main, never process-global.
type RuleCache struct {
	store Store
	ttl   time.Duration

	mu        sync.Mutex
	rules     []*Rule
	refreshed time.Time
}

// NewRuleCache creates a rule cache. A zero or negative ttl disables
// caching and every Rules call hits the store.
func NewRuleCache(store Store, ttl time.Duration) *RuleCache {
	return &RuleCache{store: store, ttl: ttl}
}

// Rules returns the current rule set, refreshing from the store when the
// cached copy is older than the TTL.
func (c *RuleCache) Rules(ctx context.Context) ([]*Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl > 0 && c.rules != nil && time.Since(c.refreshed) < c.ttl {
		return c.rules, nil
	}

	rules, err := c.store.ListRules(ctx)
	if err != nil {
		// Serve stale rules over failing classification outright.
		if c.rules != nil {
			return c.rules, nil
		}
		return nil, err
	}
	c.rules = rules
	c.refreshed = time.Now()
	return c.rules, nil
}

// Invalidate drops the cached rule set. Called after any rule write.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	c.rules = nil
	c.mu.Unlock()
}
