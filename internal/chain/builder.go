// Package chain implements the stateful approval chain builder: it
// accumulates distinct approvers per approval key and decides completion.
// Expiry is owned by the sweeper, which drives ExpireIfOverdue.
package chain

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
)

// CreateSpec carries what a first submission contributes to a new chain.
type CreateSpec struct {
	Action  string
	Payload json.RawMessage
	Profile models.ApprovalProfile
}

// FoldResult reports the effect of folding one submission into a chain.
type FoldResult struct {
	// Chain is a copy of the chain after the fold.
	Chain models.ApprovalChain
	// Created is true when this submission opened the chain.
	Created bool
	// Completed is true when this submission satisfied the profile; the chain
	// has been removed from active storage.
	Completed bool
	// Duplicate is true when the approver identity was already recorded; the
	// fold was a no-op.
	Duplicate bool
}

// Builder owns every live ApprovalChain. All mutation is check-and-act under
// one lock; callers provide per-key sequencing above this layer so the
// fold-then-report window stays atomic per key.
type Builder struct {
	mu     sync.Mutex
	chains map[string]*models.ApprovalChain
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{chains: make(map[string]*models.ApprovalChain)}
}

// Fold applies one gate-passed submission. An absent key creates the chain
// with a profile snapshot; a new identity appends; a known identity is a
// no-op. The instant the distinct approver count reaches the profile
// requirement the chain completes and leaves active storage.
func (b *Builder) Fold(key string, spec CreateSpec, approver models.Approver, now time.Time) FoldResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.chains[key]
	if !ok {
		c = &models.ApprovalChain{
			ApprovalKey: key,
			Action:      spec.Action,
			Payload:     append(json.RawMessage(nil), spec.Payload...),
			Profile:     spec.Profile,
			Approvers:   []models.Approver{approver},
			CreatedAt:   now,
			ExpiresAt:   now.Add(time.Duration(spec.Profile.TTLSeconds) * time.Second),
			Status:      models.ChainAccumulating,
		}
		b.chains[key] = c
		if len(c.Approvers) >= c.Profile.Required() {
			c.Status = models.ChainComplete
			delete(b.chains, key)
			return FoldResult{Chain: copyChain(c), Created: true, Completed: true}
		}
		return FoldResult{Chain: copyChain(c), Created: true}
	}

	if c.HasApprover(approver.Identity) {
		return FoldResult{Chain: copyChain(c), Duplicate: true}
	}

	c.Approvers = append(c.Approvers, approver)
	if len(c.Approvers) >= c.Profile.Required() {
		c.Status = models.ChainComplete
		delete(b.chains, key)
		return FoldResult{Chain: copyChain(c), Completed: true}
	}
	return FoldResult{Chain: copyChain(c)}
}

// Get returns a copy of the live chain for key, if any.
func (b *Builder) Get(key string) (models.ApprovalChain, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chains[key]
	if !ok {
		return models.ApprovalChain{}, false
	}
	return copyChain(c), true
}

// Remove drops a live chain without a terminal transition. Used by the manual
// revoke path; removing an absent key is a no-op.
func (b *Builder) Remove(key string) (models.ApprovalChain, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chains[key]
	if !ok {
		return models.ApprovalChain{}, false
	}
	delete(b.chains, key)
	return copyChain(c), true
}

// OverdueKeys lists keys whose chains breached their TTL as of now.
func (b *Builder) OverdueKeys(now time.Time) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key, c := range b.chains {
		if !now.Before(c.ExpiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// ExpireIfOverdue transitions an overdue accumulating chain to expired and
// removes it. Returns false when the chain is gone or not yet overdue, which
// makes sweeping idempotent against racing submissions.
func (b *Builder) ExpireIfOverdue(key string, now time.Time) (models.ApprovalChain, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chains[key]
	if !ok || now.Before(c.ExpiresAt) {
		return models.ApprovalChain{}, false
	}
	c.Status = models.ChainExpired
	delete(b.chains, key)
	return copyChain(c), true
}

// Pending returns copies of every live chain, for reporting.
func (b *Builder) Pending() []models.ApprovalChain {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ApprovalChain, 0, len(b.chains))
	for _, c := range b.chains {
		out = append(out, copyChain(c))
	}
	return out
}

// Len is the number of live chains.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chains)
}

func copyChain(c *models.ApprovalChain) models.ApprovalChain {
	out := *c
	out.Approvers = append([]models.Approver(nil), c.Approvers...)
	out.Payload = append(json.RawMessage(nil), c.Payload...)
	return out
}
