package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagetrading/approvald/internal/cache"
	"github.com/vantagetrading/approvald/internal/envstate"
	"github.com/vantagetrading/approvald/internal/gate"
	"github.com/vantagetrading/approvald/internal/metrics"
	"github.com/vantagetrading/approvald/internal/models"
	"github.com/vantagetrading/approvald/internal/policy"
	"github.com/vantagetrading/approvald/internal/rbac"
	"github.com/vantagetrading/approvald/internal/store"
)

type published struct {
	Topic string
	Key   string
	Value interface{}
}

type fakePub struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePub) Publish(ctx context.Context, topic string, key []byte, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{Topic: topic, Key: string(key), Value: v})
	return nil
}

func (f *fakePub) byTopic(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, e := range f.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	gw  *Gateway
	pub *fakePub
	env *envstate.Tracker
	now time.Time
	mu  sync.Mutex
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		pub: &fakePub{},
		env: envstate.NewTracker(0),
		now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	policies := policy.NewStore()
	validator := rbac.NewValidator(rbac.StaticVerifier{}, time.Second)
	h.gw = New(Options{
		Policies: policies,
		Env:      h.env,
		Gates:    gate.NewChain(validator, h.env, 5*time.Minute),
		Cache:    cache.New(time.Hour),
		Store:    store.NewMemoryStore(),
		Metrics:  metrics.NewRegistry(),
		Pub:      h.pub,
		Now:      h.clock,
	})
	require.NoError(t, h.gw.ApplyPolicySnapshot(models.PolicySnapshotEvent{
		Roles: map[string][]string{
			"risk-officer": {"halt-entry", "override-risk", "raise-limit"},
		},
		Profiles: map[string]models.ApprovalProfile{
			"raise-limit": {Kind: models.ProfileQuorum, QuorumCount: 2, OfCount: 3, TTLSeconds: 5},
		},
		Actions: []models.ActionSpec{
			{Name: "halt-entry", Category: models.CategoryHalt, GlobalProtective: true},
			{Name: "override-risk", Category: models.CategoryParameterOverride},
			{Name: "raise-limit", Category: models.CategoryLimitChange},
		},
	}))
	return h
}

func submission(key, action, identity, reason string) Submission {
	return Submission{
		ApprovalKey: key,
		Action:      action,
		Requester:   models.Requester{Identity: identity, Roles: []string{"risk-officer"}, Signature: "sig"},
		Reason:      reason,
	}
}

func TestScenarioADualControl(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// X at t=0: pending, received 1.
	d1, err := h.gw.Submit(ctx, submission("A-1", "halt-entry", "X", "halting entries for failover drill"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, d1.Kind)
	assert.Equal(t, 1, d1.Received)
	require.NotNil(t, d1.Needed)
	assert.Equal(t, models.QuorumNeed{Quorum: 2, Of: 2}, *d1.Needed)

	// Y at t=10: approved with both approvers in arrival order.
	h.advance(10 * time.Second)
	d2, err := h.gw.Submit(ctx, submission("A-1", "halt-entry", "Y", "confirming the failover drill"))
	require.NoError(t, err)
	require.Equal(t, models.DecisionApproved, d2.Kind)
	require.Len(t, d2.Approvers, 2)
	assert.Equal(t, "X", d2.Approvers[0].Identity)
	assert.Equal(t, "Y", d2.Approvers[1].Identity)

	// Z at t=20: exact replay, approvers unchanged.
	h.advance(10 * time.Second)
	d3, err := h.gw.Submit(ctx, submission("A-1", "halt-entry", "Z", "me too"))
	require.NoError(t, err)
	assert.Equal(t, d2.ID, d3.ID)
	require.Len(t, d3.Approvers, 2)

	assert.Len(t, h.pub.byTopic(models.TopicActionApproved), 1, "exactly one approved event per key")
}

func TestScenarioBRejectedKeyIsNotLaundered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d1, err := h.gw.Submit(ctx, submission("B-1", "override-risk", "X", "short"))
	require.NoError(t, err)
	require.Equal(t, models.DecisionRejected, d1.Kind)
	assert.Equal(t, []string{models.ReasonTooShort}, d1.Reasons)

	// Same key with a compliant reason still replays the rejection.
	d2, err := h.gw.Submit(ctx, submission("B-1", "override-risk", "X", "a thoroughly documented reason"))
	require.NoError(t, err)
	assert.Equal(t, d1.ID, d2.ID)
	assert.Equal(t, models.DecisionRejected, d2.Kind)

	// A fresh key succeeds.
	d3, err := h.gw.Submit(ctx, submission("B-2", "override-risk", "X", "a thoroughly documented reason"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, d3.Kind)
}

func TestScenarioCExpiryBySweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d1, err := h.gw.Submit(ctx, submission("C-1", "raise-limit", "X", "raising the fx desk limit"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, d1.Kind)
	require.NotNil(t, d1.Needed)
	assert.Equal(t, models.QuorumNeed{Quorum: 2, Of: 3}, *d1.Needed)

	h.advance(6 * time.Second)
	expired, _, _ := h.gw.SweepExpired(ctx)
	assert.Equal(t, 1, expired)

	rejected := h.pub.byTopic(models.TopicActionRejected)
	require.Len(t, rejected, 1)
	ev := rejected[0].Value.(models.RejectedEvent)
	assert.Equal(t, "C-1", ev.ApprovalKey)
	assert.Equal(t, []string{models.ReasonInsufficientQuorum}, ev.Reasons)

	// The expiry is cached: a late approver replays the rejection.
	d2, err := h.gw.Submit(ctx, submission("C-1", "raise-limit", "Y", "better late than never"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, d2.Kind)
}

func TestSameIdentityTwiceStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d1, err := h.gw.Submit(ctx, submission("K-1", "halt-entry", "X", "first attempt"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, d1.Kind)

	d2, err := h.gw.Submit(ctx, submission("K-1", "halt-entry", "X", "impatient retry"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPending, d2.Kind)
	assert.Equal(t, 1, d2.Received, "same identity must not double count")
}

func TestRBACGateNeverAccumulates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := submission("K-2", "halt-entry", "intruder", "let me in please")
	sub.Requester.Roles = []string{"viewer"}
	d, err := h.gw.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, d.Kind)
	assert.Equal(t, []string{models.ReasonForbidden}, d.Reasons)
	assert.Empty(t, h.gw.Pending(), "forbidden submissions never open a chain")
}

func TestUnknownActionRejected(t *testing.T) {
	h := newHarness(t)
	d, err := h.gw.Submit(context.Background(), submission("K-3", "launch-missiles", "X", "certainly not"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, d.Kind)
	assert.Equal(t, []string{models.ReasonUnknownAction}, d.Reasons)
}

func TestEmergencyBypassApprovesImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gw.ApplyEmergencyStop(ctx, models.EmergencyStopEvent{Active: true, Reason: "exchange outage"})

	// halt-entry is dual control, yet one submission approves under bypass.
	d, err := h.gw.Submit(ctx, submission("E-1", "halt-entry", "X", "halting entries now"))
	require.NoError(t, err)
	require.Equal(t, models.DecisionApproved, d.Kind)
	assert.Contains(t, d.Reason, "emergency bypass")
	assert.Contains(t, d.Reason, "exchange outage")
	require.Len(t, d.Approvers, 1)

	alerts := h.pub.byTopic(models.TopicApprovalAlert)
	require.NotEmpty(t, alerts)
}

func TestAtMostOnceUnderConcurrentSubmissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	identities := []string{"X", "Y", "X", "Y", "Z", "X", "Z", "Y"}
	var wg sync.WaitGroup
	for _, id := range identities {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.gw.Submit(ctx, submission("CC-1", "halt-entry", id, "concurrent halt request"))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	approved := h.pub.byTopic(models.TopicActionApproved)
	require.Len(t, approved, 1, "exactly one approved event despite retries and duplicates")
	ev := approved[0].Value.(models.ApprovedEvent)
	assert.Len(t, ev.Approvers, 2)
}

func TestRevokeEvictsCacheAndAllowsResubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.gw.Submit(ctx, submission("R-1", "override-risk", "X", "documented parameter override"))
	require.NoError(t, err)
	require.Equal(t, models.DecisionApproved, d.Kind)

	rev, err := h.gw.Revoke(ctx, models.RevokeRequestEvent{ApprovalKey: "R-1"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRevoked, rev.Kind)
	assert.Equal(t, models.RevokeManual, rev.Reason)
	require.Len(t, h.pub.byTopic(models.TopicApprovalRevoked), 1)

	// Revoking again is an idempotent no-op: no second event.
	_, err = h.gw.Revoke(ctx, models.RevokeRequestEvent{ApprovalKey: "R-1"})
	require.NoError(t, err)
	assert.Len(t, h.pub.byTopic(models.TopicApprovalRevoked), 1)

	// The key is free again: resubmission computes a fresh decision.
	d2, err := h.gw.Submit(ctx, submission("R-1", "override-risk", "Y", "second documented override"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, d2.Kind)
	assert.NotEqual(t, d.ID, d2.ID)
}

func TestSweepRevokesApprovalsPastActionTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ttl := 10
	d, err := h.gw.Submit(ctx, Submission{
		ApprovalKey: "T-1",
		Action:      "override-risk",
		Requester:   models.Requester{Identity: "X", Roles: []string{"risk-officer"}, Signature: "sig"},
		Reason:      "documented override with ttl",
		TTLOverride: &ttl,
	})
	require.NoError(t, err)
	require.Equal(t, models.DecisionApproved, d.Kind)
	assert.Equal(t, 10, d.TTLSeconds)

	h.advance(11 * time.Second)
	_, revoked, _ := h.gw.SweepExpired(ctx)
	assert.Equal(t, 1, revoked)

	events := h.pub.byTopic(models.TopicApprovalRevoked)
	require.Len(t, events, 1)
	ev := events[0].Value.(models.RevokedEvent)
	assert.Equal(t, models.RevokeTTLExpired, ev.Reason)
}

func TestSweepSkipsKeyReapprovedDuringPass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ttl := 10
	_, err := h.gw.Submit(ctx, Submission{
		ApprovalKey: "T-2",
		Action:      "override-risk",
		Requester:   models.Requester{Identity: "X", Roles: []string{"risk-officer"}, Signature: "sig"},
		Reason:      "documented override with ttl",
		TTLOverride: &ttl,
	})
	require.NoError(t, err)
	h.advance(11 * time.Second)

	// Hold the key lock so the sweep snapshots the overdue entry and then
	// blocks. Replace the entry with a fresh approval before releasing,
	// the way a concurrent revoke and resubmit would.
	unlock := h.gw.keys.lock("T-2")
	var revoked int
	done := make(chan struct{})
	go func() {
		_, revoked, _ = h.gw.SweepExpired(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	h.gw.cache.Evict("T-2")
	fresh := models.Decision{
		ID:          "fresh",
		Kind:        models.DecisionApproved,
		ApprovalKey: "T-2",
		Action:      "override-risk",
		TTLSeconds:  100,
		DecidedAt:   h.clock(),
	}
	h.gw.cache.Put(fresh, h.clock())
	unlock()
	<-done

	assert.Equal(t, 0, revoked)
	assert.Empty(t, h.pub.byTopic(models.TopicApprovalRevoked))
	entry, ok := h.gw.cache.Get("T-2", h.clock())
	require.True(t, ok)
	assert.Equal(t, "fresh", entry.Decision.ID)
}

func TestOperatorDeclineIsDropped(t *testing.T) {
	h := newHarness(t)
	d, err := h.gw.HandleOperatorDecision(context.Background(), models.OperatorDecisionEvent{
		DecisionID: "op-1",
		Accepted:   false,
		Context:    models.DecisionContext{Action: "halt-entry", ApprovalKey: "O-1"},
		Auth:       models.Requester{Identity: "X", Roles: []string{"risk-officer"}, Signature: "sig"},
	})
	require.NoError(t, err)
	assert.Empty(t, d.Kind)
	assert.Empty(t, h.pub.events)
	assert.Empty(t, h.gw.Pending())
}

func TestDispatchDropsMalformedPayloads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.gw.Dispatch(ctx, models.TopicManualRequest, []byte(`{not json`)))
	require.NoError(t, h.gw.Dispatch(ctx, models.TopicBoundsResult, []byte(`{"ok":true}`)))
	assert.Empty(t, h.gw.Pending())
	assert.Empty(t, h.pub.events)
}

func TestDispatchRoutesManualRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ev := models.ManualRequestEvent{
		ApprovalKey: "D-1",
		Action:      "halt-entry",
		RequestedBy: models.Requester{Identity: "X", Roles: []string{"risk-officer"}, Signature: "sig"},
		Reason:      "routed through the bus",
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, h.gw.Dispatch(ctx, models.TopicManualRequest, b))
	require.Len(t, h.gw.Pending(), 1)
	assert.Len(t, h.pub.byTopic(models.TopicApprovalPending), 1)
}

func TestMetricsSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.gw.Submit(ctx, submission("M-1", "override-risk", "X", "documented override number 1"))
	require.NoError(t, err)
	_, err = h.gw.Submit(ctx, submission("M-2", "override-risk", "X", "short"))
	require.NoError(t, err)
	_, err = h.gw.Submit(ctx, submission("M-3", "halt-entry", "X", "pending halt request"))
	require.NoError(t, err)

	sum := h.gw.MetricsSummary()
	assert.Equal(t, 1, sum.Approved)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.Pending)
	assert.Equal(t, 2, sum.ByAction["override-risk"], "approved and rejected both count")

	h.gw.EmitMetrics(ctx)
	assert.Len(t, h.pub.byTopic(models.TopicApprovalMetrics), 1)
}
