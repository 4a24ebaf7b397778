// Package cache holds the idempotency cache: approval key -> last terminal
// Decision. A key with a live entry replays the stored decision instead of
// recomputing, which is what makes retries and duplicate delivery safe.
package cache

import (
	"sync"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
)

// Entry binds a terminal decision to the moment it was recorded and the TTL
// it stays live for.
type Entry struct {
	ApprovalKey string
	Decision    models.Decision
	RecordedAt  time.Time
	TTL         time.Duration
}

// Live reports whether the entry still replays as of now.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.RecordedAt.Add(e.TTL))
}

// Cache is a TTL-bounded map of terminal decisions. At most one live
// non-Pending decision exists per key; Put replaces any previous entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
}

// New builds a cache with the given default TTL (1h when <= 0).
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{entries: make(map[string]Entry), ttl: ttl}
}

// Put records a decision for its key. Only Approved and Rejected decisions
// enter the cache; Pending is not terminal and Revoked intentionally leaves
// the key free for resubmission.
func (c *Cache) Put(d models.Decision, now time.Time) {
	if d.Kind != models.DecisionApproved && d.Kind != models.DecisionRejected {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.ApprovalKey] = Entry{
		ApprovalKey: d.ApprovalKey,
		Decision:    d,
		RecordedAt:  now,
		TTL:         c.ttl,
	}
}

// Get returns the live entry for key, if any. Expired entries are left for
// the sweeper.
func (c *Cache) Get(key string, now time.Time) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !e.Live(now) {
		return Entry{}, false
	}
	return e, true
}

// Evict removes the entry for key, live or not.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// EvictExpired removes every entry no longer live and returns how many went.
func (c *Cache) EvictExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if !e.Live(now) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// ApprovedDue returns live Approved entries whose action TTL elapsed since
// approval; the sweeper turns these into Revoked decisions.
func (c *Cache) ApprovedDue(now time.Time) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var due []Entry
	for _, e := range c.entries {
		if e.Decision.Kind != models.DecisionApproved {
			continue
		}
		deadline := e.Decision.DecidedAt.Add(time.Duration(e.Decision.TTLSeconds) * time.Second)
		if e.Live(now) && !now.Before(deadline) {
			due = append(due, e)
		}
	}
	return due
}

// Len is the number of entries, live or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
