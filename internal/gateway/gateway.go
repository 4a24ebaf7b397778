// Package gateway ties the approval components together: it sequences
// submissions per key, runs the gate chain, folds consent into chains, and
// emits immutable decisions through the idempotency cache, the decision log,
// the audit archiver, and the outbound bus.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vantagetrading/approvald/internal/audit"
	"github.com/vantagetrading/approvald/internal/cache"
	"github.com/vantagetrading/approvald/internal/chain"
	"github.com/vantagetrading/approvald/internal/envstate"
	"github.com/vantagetrading/approvald/internal/gate"
	"github.com/vantagetrading/approvald/internal/metrics"
	"github.com/vantagetrading/approvald/internal/models"
	"github.com/vantagetrading/approvald/internal/policy"
	"github.com/vantagetrading/approvald/internal/store"
)

// ErrMalformed marks an inbound event that cannot create state. Callers drop
// these with a logged warning.
var ErrMalformed = errors.New("malformed submission")

// Publisher delivers outbound events. The kafka producer implements it; tests
// use a capturing fake.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, v interface{}) error
}

// Options wires a Gateway. Policies, Env, Store and Publisher are required;
// Archiver defaults to a no-op, Now to time.Now.
type Options struct {
	Policies *policy.Store
	Env      *envstate.Tracker
	Gates    *gate.Chain
	Cache    *cache.Cache
	Store    store.Store
	Archiver audit.Archiver
	Metrics  *metrics.Registry
	Pub      Publisher

	// Retention bounds the decision log; the sweep prunes older rows.
	Retention time.Duration

	Now func() time.Time
}

// Gateway is the approval service facade.
type Gateway struct {
	policies  *policy.Store
	env       *envstate.Tracker
	gates     *gate.Chain
	builder   *chain.Builder
	cache     *cache.Cache
	store     store.Store
	archiver  audit.Archiver
	metrics   *metrics.Registry
	pub       Publisher
	keys      *keyLock
	retention time.Duration
	now       func() time.Time
}

// New builds a Gateway from options.
func New(opts Options) *Gateway {
	if opts.Archiver == nil {
		opts.Archiver = audit.NopArchiver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &Gateway{
		policies:  opts.Policies,
		env:       opts.Env,
		gates:     opts.Gates,
		builder:   chain.NewBuilder(),
		cache:     opts.Cache,
		store:     opts.Store,
		archiver:  opts.Archiver,
		metrics:   opts.Metrics,
		pub:       opts.Pub,
		keys:      newKeyLock(),
		retention: opts.Retention,
		now:       opts.Now,
	}
}

// Submission is one normalized approval attempt, independent of which inbound
// surface carried it.
type Submission struct {
	ApprovalKey string
	Action      string
	Payload     json.RawMessage
	Requester   models.Requester
	Reason      string
	TTLOverride *int
}

// Submit processes one submission end to end and returns the resulting
// decision. Unexpected panics surface as an InternalError rejection rather
// than propagating.
func (g *Gateway) Submit(ctx context.Context, sub Submission) (d models.Decision, err error) {
	if sub.ApprovalKey == "" || sub.Action == "" || sub.Requester.Identity == "" {
		return models.Decision{}, fmt.Errorf("%w: approvalKey, action and identity required", ErrMalformed)
	}

	unlock := g.keys.lock(sub.ApprovalKey)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[gateway] panic processing key %s: %v", sub.ApprovalKey, r)
			d = g.emitRejected(ctx, sub.ApprovalKey, sub.Action, []string{models.ReasonInternalError}, nil)
			err = nil
		}
	}()

	now := g.now()

	// A live terminal decision replays verbatim; gates and chain are skipped.
	if entry, ok := g.cache.Get(sub.ApprovalKey, now); ok {
		log.Printf("[gateway] replaying cached %s decision for key %s", entry.Decision.Kind, sub.ApprovalKey)
		return entry.Decision, nil
	}

	snap := g.policies.Current()
	profile, spec, rerr := policy.ResolveProfile(snap, sub.Action, sub.TTLOverride)
	if rerr != nil {
		return g.emitRejected(ctx, sub.ApprovalKey, sub.Action, []string{models.ReasonUnknownAction}, nil), nil
	}

	res := g.gates.Evaluate(ctx, snap, gate.Request{
		ApprovalKey: sub.ApprovalKey,
		Action:      sub.Action,
		Spec:        spec,
		Profile:     profile,
		Payload:     sub.Payload,
		Requester:   sub.Requester,
		Reason:      sub.Reason,
	})
	if res.Denied() {
		g.alert(ctx, "warning", fmt.Sprintf("gate rejection for %s", sub.Action), map[string]string{
			"approvalKey": sub.ApprovalKey,
			"identity":    sub.Requester.Identity,
			"reasons":     fmt.Sprint(res.Reasons),
		})
		return g.emitRejected(ctx, sub.ApprovalKey, sub.Action, res.Reasons, nil), nil
	}

	approver := models.Approver{
		Identity:  sub.Requester.Identity,
		Roles:     append([]string(nil), sub.Requester.Roles...),
		Timestamp: now,
	}

	if res.Bypass {
		g.alert(ctx, "critical", res.BypassReason, map[string]string{
			"approvalKey": sub.ApprovalKey,
			"identity":    sub.Requester.Identity,
		})
		return g.emitApproved(ctx, models.ApprovalChain{
			ApprovalKey: sub.ApprovalKey,
			Action:      sub.Action,
			Payload:     sub.Payload,
			Profile:     profile,
			Approvers:   []models.Approver{approver},
			CreatedAt:   now,
			Status:      models.ChainComplete,
		}, res.BypassReason), nil
	}

	fold := g.builder.Fold(sub.ApprovalKey, chain.CreateSpec{
		Action:  sub.Action,
		Payload: sub.Payload,
		Profile: profile,
	}, approver, now)

	if fold.Completed {
		return g.emitApproved(ctx, fold.Chain, sub.Reason), nil
	}
	return g.emitPending(ctx, fold.Chain), nil
}

// Revoke terminates a key by explicit override. It is idempotent: revoking an
// unknown or already-revoked key returns the decision without publishing
// again. Revocation evicts the idempotency cache entry so the key can be
// resubmitted.
func (g *Gateway) Revoke(ctx context.Context, ev models.RevokeRequestEvent) (models.Decision, error) {
	if ev.ApprovalKey == "" {
		return models.Decision{}, fmt.Errorf("%w: approvalKey required", ErrMalformed)
	}
	reason := ev.Reason
	if reason == "" {
		reason = models.RevokeManual
	}

	unlock := g.keys.lock(ev.ApprovalKey)
	defer unlock()

	now := g.now()
	_, hadChain := g.builder.Remove(ev.ApprovalKey)
	_, hadEntry := g.cache.Get(ev.ApprovalKey, now)

	d := models.Decision{
		ID:          uuid.NewString(),
		Kind:        models.DecisionRevoked,
		ApprovalKey: ev.ApprovalKey,
		Reason:      reason,
		Rollback:    ev.Rollback,
		DecidedAt:   now,
	}
	if !hadChain && !hadEntry {
		return d, nil
	}

	g.cache.Evict(ev.ApprovalKey)
	g.record(ctx, d, 0)
	g.publish(ctx, models.TopicApprovalRevoked, d.ApprovalKey, models.RevokedEvent{
		ApprovalKey: d.ApprovalKey,
		Reason:      reason,
		Rollback:    ev.Rollback,
	})
	return d, nil
}

// SweepExpired performs one sweeper pass: overdue chains expire into
// InsufficientQuorum rejections, approved decisions past their action TTL are
// revoked, stale cache entries are evicted, and the decision log is pruned.
func (g *Gateway) SweepExpired(ctx context.Context) (expired, revoked, evicted int) {
	now := g.now()

	for _, key := range g.builder.OverdueKeys(now) {
		unlock := g.keys.lock(key)
		c, ok := g.builder.ExpireIfOverdue(key, now)
		if ok {
			g.emitRejected(ctx, c.ApprovalKey, c.Action, []string{models.ReasonInsufficientQuorum}, c.Approvers)
			expired++
		}
		unlock()
	}

	for _, entry := range g.cache.ApprovedDue(now) {
		key := entry.ApprovalKey
		unlock := g.keys.lock(key)
		// Re-fetch under the lock: the entry may have been revoked and the
		// key re-approved since the snapshot. Only a still-live Approved
		// decision whose own TTL has elapsed is revoked here.
		cur, live := g.cache.Get(key, now)
		if live && cur.Decision.Kind == models.DecisionApproved &&
			!now.Before(cur.Decision.DecidedAt.Add(time.Duration(cur.Decision.TTLSeconds)*time.Second)) {
			g.cache.Evict(key)
			d := models.Decision{
				ID:          uuid.NewString(),
				Kind:        models.DecisionRevoked,
				ApprovalKey: key,
				Action:      cur.Decision.Action,
				Reason:      models.RevokeTTLExpired,
				DecidedAt:   now,
			}
			g.record(ctx, d, 0)
			g.publish(ctx, models.TopicApprovalRevoked, key, models.RevokedEvent{
				ApprovalKey: key,
				Reason:      models.RevokeTTLExpired,
			})
			revoked++
		}
		unlock()
	}

	evicted = g.cache.EvictExpired(now)

	if n, err := g.store.PruneBefore(ctx, now.Add(-g.retention)); err != nil {
		log.Printf("[gateway] prune decision log: %v", err)
	} else if n > 0 {
		log.Printf("[gateway] pruned %d decision log rows", n)
	}
	return expired, revoked, evicted
}

// Pending lists live chains for reporting.
func (g *Gateway) Pending() []models.ApprovalChain {
	return g.builder.Pending()
}

// MetricsSummary samples the current counters.
func (g *Gateway) MetricsSummary() models.MetricsEvent {
	return g.metrics.Summary(g.builder.Len())
}

// EmitMetrics publishes the periodic approval.metrics summary.
func (g *Gateway) EmitMetrics(ctx context.Context) {
	g.publish(ctx, models.TopicApprovalMetrics, "", g.MetricsSummary())
}

func (g *Gateway) emitApproved(ctx context.Context, c models.ApprovalChain, reason string) models.Decision {
	now := g.now()
	d := models.Decision{
		ID:          uuid.NewString(),
		Kind:        models.DecisionApproved,
		ApprovalKey: c.ApprovalKey,
		Action:      c.Action,
		Payload:     c.Payload,
		Approvers:   c.Approvers,
		TTLSeconds:  c.Profile.TTLSeconds,
		Reason:      reason,
		DecidedAt:   now,
	}
	g.record(ctx, d, now.Sub(c.CreatedAt))
	g.publish(ctx, models.TopicActionApproved, d.ApprovalKey, models.ApprovedEvent{
		ApprovalKey: d.ApprovalKey,
		Action:      d.Action,
		Payload:     d.Payload,
		TTLSeconds:  d.TTLSeconds,
		Approvers:   d.Approvers,
		Chain: models.ChainProgress{
			Required:  c.Profile.Required(),
			Collected: len(c.Approvers),
		},
		Reason: reason,
		Audit:  d.ID,
	})
	return d
}

func (g *Gateway) emitRejected(ctx context.Context, key, action string, reasons []string, approvers []models.Approver) models.Decision {
	d := models.Decision{
		ID:          uuid.NewString(),
		Kind:        models.DecisionRejected,
		ApprovalKey: key,
		Action:      action,
		Reasons:     reasons,
		Approvers:   approvers,
		DecidedAt:   g.now(),
	}
	g.record(ctx, d, 0)
	g.publish(ctx, models.TopicActionRejected, key, models.RejectedEvent{
		ApprovalKey: key,
		Action:      action,
		Reasons:     reasons,
		Approvers:   approvers,
		Audit:       d.ID,
	})
	return d
}

func (g *Gateway) emitPending(ctx context.Context, c models.ApprovalChain) models.Decision {
	needed := models.QuorumNeed{Quorum: c.Profile.Required(), Of: c.Profile.OfCount}
	if needed.Of < needed.Quorum {
		needed.Of = needed.Quorum
	}
	d := models.Decision{
		ID:          uuid.NewString(),
		Kind:        models.DecisionPending,
		ApprovalKey: c.ApprovalKey,
		Action:      c.Action,
		Needed:      &needed,
		Received:    len(c.Approvers),
		ExpiresAt:   c.ExpiresAt,
		DecidedAt:   g.now(),
	}
	g.publish(ctx, models.TopicApprovalPending, c.ApprovalKey, models.PendingEvent{
		ApprovalKey: c.ApprovalKey,
		Action:      c.Action,
		Needed:      needed,
		Received:    len(c.Approvers),
		ExpiresAt:   c.ExpiresAt,
	})
	return d
}

// record caches, logs, archives and counts a terminal decision.
func (g *Gateway) record(ctx context.Context, d models.Decision, leadTime time.Duration) {
	g.cache.Put(d, d.DecidedAt)
	if err := g.store.AppendDecision(ctx, d); err != nil {
		log.Printf("[gateway] append decision %s: %v", d.ID, err)
	}
	if err := g.archiver.ArchiveDecision(ctx, d); err != nil {
		log.Printf("[gateway] archive decision %s: %v", d.ID, err)
	}
	g.metrics.ObserveDecision(d, leadTime)
}

func (g *Gateway) alert(ctx context.Context, level, message string, fields map[string]string) {
	g.publish(ctx, models.TopicApprovalAlert, "", models.AlertEvent{
		Level:   level,
		Message: message,
		Context: fields,
	})
}

func (g *Gateway) publish(ctx context.Context, topic, key string, v interface{}) {
	if g.pub == nil {
		return
	}
	var kb []byte
	if key != "" {
		kb = []byte(key)
	}
	if err := g.pub.Publish(ctx, topic, kb, v); err != nil {
		log.Printf("[gateway] publish %s: %v", topic, err)
	}
}
