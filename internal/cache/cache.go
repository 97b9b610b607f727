// Package cache provides the intelligence cache shared by routing and
// compression.
//
// Entries live in one of three tiers. New entries enter warm. An entry read
// PromotionCount times in its tier moves up (cold to warm, warm to hot).
// When a memory tier is over capacity the entry with the lowest
// effectiveness times recency weight moves down one tier; the entry with
// the highest effectiveness in the tier is never chosen. Cold entries live
// in SQLite and are unbounded. Expiry is checked on read only.
//
// Payloads returned by Get are shared with the cache and must not be
// modified.
package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultHotCapacity    = 20
	DefaultWarmCapacity   = 100
	DefaultPromotionCount = 3
)

// Cache is the tiered intelligence cache. It is safe for concurrent use.
type Cache struct {
	mu   sync.Mutex
	hot  map[string]*Entry
	warm map[string]*Entry

	hotCap    int
	warmCap   int
	promoteAt int
	ttl       map[ContentType]time.Duration

	cold    ColdStore
	logger  *zap.Logger
	metrics *Metrics
	group   singleflight.Group
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the hot and warm tier capacities.
func WithCapacity(hot, warm int) Option {
	return func(c *Cache) {
		if hot > 0 {
			c.hotCap = hot
		}
		if warm > 0 {
			c.warmCap = warm
		}
	}
}

// WithTTL sets the retention window for a content type.
func WithTTL(t ContentType, d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl[t] = d
		}
	}
}

// WithPromotionCount sets how many reads within a tier promote an entry.
func WithPromotionCount(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.promoteAt = n
		}
	}
}

// WithColdStore attaches the on-disk tier. Without one, entries evicted
// from warm are discarded.
func WithColdStore(s ColdStore) Option {
	return func(c *Cache) { c.cold = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		hot:       make(map[string]*Entry),
		warm:      make(map[string]*Entry),
		hotCap:    DefaultHotCapacity,
		warmCap:   DefaultWarmCapacity,
		promoteAt: DefaultPromotionCount,
		ttl: map[ContentType]time.Duration{
			Documentation: DefaultDocumentationTTL,
			Pattern:       DefaultPatternTTL,
			Intelligence:  DefaultIntelligenceTTL,
		},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ttlFor returns the retention window for t. Unknown types get the shortest
// window.
func (c *Cache) ttlFor(t ContentType) time.Duration {
	if d, ok := c.ttl[t]; ok {
		return d
	}
	return c.ttl[Intelligence]
}

// Get returns the payload stored under key.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool) {
	id := key.ID()
	now := c.now()

	c.mu.Lock()
	if e, ok := c.hot[id]; ok {
		if e.expired(now) {
			delete(c.hot, id)
			c.syncSizes()
			c.mu.Unlock()
			c.metrics.miss()
			return nil, false
		}
		e.AccessCount++
		e.LastAccess = now
		payload := e.Payload
		c.mu.Unlock()
		c.metrics.hit(TierHot)
		return payload, true
	}
	if e, ok := c.warm[id]; ok {
		if e.expired(now) {
			delete(c.warm, id)
			c.syncSizes()
			c.mu.Unlock()
			c.metrics.miss()
			return nil, false
		}
		e.AccessCount++
		e.LastAccess = now
		payload := e.Payload
		var spill []*Entry
		if e.AccessCount >= c.promoteAt {
			delete(c.warm, id)
			spill = c.insert(TierHot, e, now)
		}
		c.syncSizes()
		c.mu.Unlock()
		c.spill(ctx, spill)
		c.metrics.hit(TierWarm)
		return payload, true
	}
	c.mu.Unlock()

	return c.getCold(ctx, id, now)
}

func (c *Cache) getCold(ctx context.Context, id string, now time.Time) ([]byte, bool) {
	if c.cold == nil {
		c.metrics.miss()
		return nil, false
	}

	e, err := c.cold.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		c.metrics.miss()
		return nil, false
	case errors.Is(err, ErrCorruptEntry):
		c.metrics.corrupt()
		c.metrics.miss()
		c.logger.Warn("discarded corrupt cache entry", zap.String("id", id))
		return nil, false
	case err != nil:
		c.metrics.miss()
		c.logger.Warn("cold cache read failed", zap.String("id", id), zap.Error(err))
		return nil, false
	}

	if e.expired(now) {
		if err := c.cold.Delete(ctx, id); err != nil {
			c.logger.Warn("cold cache delete failed", zap.String("id", id), zap.Error(err))
		}
		c.metrics.miss()
		return nil, false
	}

	e.AccessCount++
	e.LastAccess = now
	if e.AccessCount >= c.promoteAt {
		if err := c.cold.Delete(ctx, id); err != nil {
			c.logger.Warn("cold cache delete failed", zap.String("id", id), zap.Error(err))
		}
		c.mu.Lock()
		spill := c.insert(TierWarm, e, now)
		c.syncSizes()
		c.mu.Unlock()
		c.spill(ctx, spill)
	} else if err := c.cold.Put(ctx, e); err != nil {
		c.logger.Warn("cold cache write failed", zap.String("id", id), zap.Error(err))
	}

	c.metrics.hit(TierCold)
	return e.Payload, true
}

// Put stores payload under key with the given effectiveness, replacing any
// previous value. An entry already in memory keeps its tier.
func (c *Cache) Put(ctx context.Context, key Key, payload []byte, effectiveness float64) {
	id := key.ID()
	now := c.now()
	expires := now.Add(c.ttlFor(key.Type))
	payload = bytes.Clone(payload)
	effectiveness = clampUnit(effectiveness)

	c.mu.Lock()
	for _, m := range []map[string]*Entry{c.hot, c.warm} {
		if e, ok := m[id]; ok {
			e.Type = key.Type
			e.Payload = payload
			e.Effectiveness = effectiveness
			e.LastAccess = now
			e.ExpiresAt = expires
			c.mu.Unlock()
			return
		}
	}
	spill := c.insert(TierWarm, &Entry{
		ID:            id,
		Type:          key.Type,
		Payload:       payload,
		Effectiveness: effectiveness,
		LastAccess:    now,
		ExpiresAt:     expires,
	}, now)
	c.syncSizes()
	c.mu.Unlock()

	if c.cold != nil {
		if err := c.cold.Delete(ctx, id); err != nil {
			c.logger.Warn("cold cache delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	c.spill(ctx, spill)
}

// GetOrCompute returns the cached payload for key or computes, stores and
// returns it. Concurrent callers for the same key share one computation.
// The boolean reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) ([]byte, float64, error)) ([]byte, bool, error) {
	if p, ok := c.Get(ctx, key); ok {
		return p, true, nil
	}
	v, err, _ := c.group.Do(key.ID(), func() (any, error) {
		p, eff, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, p, eff)
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// Peek returns a copy of the entry under key without counting an access.
func (c *Cache) Peek(ctx context.Context, key Key) (Entry, bool) {
	id := key.ID()
	now := c.now()

	c.mu.Lock()
	for _, m := range []map[string]*Entry{c.hot, c.warm} {
		if e, ok := m[id]; ok && !e.expired(now) {
			out := *e
			c.mu.Unlock()
			return out, true
		}
	}
	c.mu.Unlock()

	if c.cold == nil {
		return Entry{}, false
	}
	e, err := c.cold.Get(ctx, id)
	if err != nil || e.expired(now) {
		return Entry{}, false
	}
	return *e, true
}

// Stats reports tier sizes.
type Stats struct {
	Hot  int `json:"hot"`
	Warm int `json:"warm"`
	Cold int `json:"cold"`
}

// Stats returns the current tier sizes. Cold is zero without a cold store.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	st := Stats{Hot: len(c.hot), Warm: len(c.warm)}
	c.mu.Unlock()
	if c.cold != nil {
		n, err := c.cold.Len(ctx)
		if err != nil {
			return st, err
		}
		st.Cold = n
	}
	return st, nil
}

// Close closes the cold store.
func (c *Cache) Close() error {
	if c.cold == nil {
		return nil
	}
	return c.cold.Close()
}

// insert places e in tier t and evicts down until t is within capacity.
// It returns entries that fell out of warm and belong in cold.
// Caller holds c.mu.
func (c *Cache) insert(t Tier, e *Entry, now time.Time) []*Entry {
	m, capacity := c.warm, c.warmCap
	if t == TierHot {
		m, capacity = c.hot, c.hotCap
	}
	e.Tier = t
	e.AccessCount = 0
	m[e.ID] = e

	var spill []*Entry
	for len(m) > capacity {
		v := c.victim(m, now)
		delete(m, v.ID)
		c.metrics.evicted(t)
		if t == TierHot {
			spill = append(spill, c.insert(TierWarm, v, now)...)
			continue
		}
		v.Tier = TierCold
		v.AccessCount = 0
		spill = append(spill, v)
	}
	return spill
}

// victim picks the entry to evict from m: the lowest effectiveness times
// recency weight, excluding the highest-effectiveness entry. The entry just
// inserted competes like any other and may go straight down a tier.
func (c *Cache) victim(m map[string]*Entry, now time.Time) *Entry {
	var top *Entry
	for _, e := range m {
		if top == nil || e.Effectiveness > top.Effectiveness ||
			(e.Effectiveness == top.Effectiveness && e.ID < top.ID) {
			top = e
		}
	}

	var best *Entry
	var bestW float64
	for _, e := range m {
		if e == top {
			continue
		}
		w := e.weight(now, c.ttlFor(e.Type))
		if best == nil || w < bestW ||
			(w == bestW && (e.LastAccess.Before(best.LastAccess) ||
				(e.LastAccess.Equal(best.LastAccess) && e.ID < best.ID))) {
			best, bestW = e, w
		}
	}
	if best == nil {
		best = top
	}
	return best
}

// spill writes entries evicted from warm to the cold tier.
func (c *Cache) spill(ctx context.Context, entries []*Entry) {
	if c.cold == nil {
		return
	}
	for _, e := range entries {
		if err := c.cold.Put(ctx, e); err != nil {
			c.logger.Warn("cold cache write failed", zap.String("id", e.ID), zap.Error(err))
		}
	}
}

// syncSizes publishes tier sizes. Caller holds c.mu.
func (c *Cache) syncSizes() {
	c.metrics.sizes(len(c.hot), len(c.warm))
}
