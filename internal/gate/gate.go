// Package gate runs the ordered precondition checks applied once per inbound
// submission, before any chain accumulation.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/vantagetrading/approvald/internal/envstate"
	"github.com/vantagetrading/approvald/internal/models"
	"github.com/vantagetrading/approvald/internal/policy"
	"github.com/vantagetrading/approvald/internal/rbac"
)

// DefaultBoundsWindow is how recent an OK bounds-check result must be for
// actions that require one.
const DefaultBoundsWindow = 5 * time.Minute

// Request is one gate evaluation input.
type Request struct {
	ApprovalKey string
	Action      string
	Spec        models.ActionSpec
	Profile     models.ApprovalProfile
	Payload     json.RawMessage
	Requester   models.Requester
	Reason      string
}

// Result is the gate chain outcome. Exactly one of the three shapes holds:
// Reasons non-empty (rejected), Bypass true (emergency grant), or neither
// (submission may fold into the chain).
type Result struct {
	Reasons      []string
	Bypass       bool
	BypassReason string
}

// Denied reports whether any check failed.
func (r Result) Denied() bool { return len(r.Reasons) > 0 }

// Chain evaluates the fixed, ordered check set.
type Chain struct {
	validator    *rbac.Validator
	env          *envstate.Tracker
	boundsWindow time.Duration
}

// NewChain builds a gate chain. A zero boundsWindow falls back to
// DefaultBoundsWindow.
func NewChain(validator *rbac.Validator, env *envstate.Tracker, boundsWindow time.Duration) *Chain {
	if boundsWindow <= 0 {
		boundsWindow = DefaultBoundsWindow
	}
	return &Chain{validator: validator, env: env, boundsWindow: boundsWindow}
}

// Evaluate runs the checks in order. RBAC failing short-circuits everything
// else; the reason, bounds, and allowlist checks report jointly so one
// rejection carries every violated precondition.
func (c *Chain) Evaluate(ctx context.Context, snap *policy.Snapshot, req Request) Result {
	// 1. RBAC fails closed and skips the rest.
	if err := c.validator.Authorize(ctx, snap, req.Requester, req.Action); err != nil {
		if errors.Is(err, rbac.ErrSignatureInvalid) {
			return Result{Reasons: []string{models.ReasonSignatureInvalid}}
		}
		return Result{Reasons: []string{models.ReasonForbidden}}
	}

	var reasons []string

	// 2. Reason length.
	if req.Profile.MinReasonChars > 0 && utf8.RuneCountInString(req.Reason) < req.Profile.MinReasonChars {
		reasons = append(reasons, models.ReasonTooShort)
	}

	// 3. Bounds freshness for tagged actions.
	if req.Spec.RequiresBounds && !c.env.HasFreshOKBounds(req.Action, c.boundsWindow) {
		reasons = append(reasons, models.ReasonBoundsNotFresh)
	}

	// 4. Allowlist membership. Empty or absent allowlist is unrestricted.
	if len(req.Profile.Allowlist) > 0 && req.Spec.TargetParam != "" {
		target, ok := payloadTarget(req.Payload, req.Spec.TargetParam)
		if !ok || !member(req.Profile.Allowlist, target) {
			reasons = append(reasons, models.ReasonAllowlistViolation)
		}
	}

	if len(reasons) > 0 {
		return Result{Reasons: reasons}
	}

	// 5. Emergency bypass: active stop plus a global-protective action grants
	// immediately from a single submission, the only path that resolves a
	// multi-approver profile without accumulation.
	if stop := c.env.EmergencyStop(); stop.Active && req.Spec.GlobalProtective {
		msg := fmt.Sprintf("emergency bypass: emergency stop active (%s), action %s is global-protective", stop.Reason, req.Action)
		return Result{Bypass: true, BypassReason: msg}
	}

	return Result{}
}

func payloadTarget(payload json.RawMessage, param string) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[param]
	if !ok {
		return "", false
	}
	var target string
	if err := json.Unmarshal(raw, &target); err != nil {
		return "", false
	}
	return target, true
}

func member(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
