package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/vantagetrading/approvald/internal/models"
	"github.com/vantagetrading/approvald/internal/policy"
)

// HandleOperatorDecision processes an operator.decision.final event. Declined
// decisions are dropped without creating state.
func (g *Gateway) HandleOperatorDecision(ctx context.Context, ev models.OperatorDecisionEvent) (models.Decision, error) {
	if !ev.Accepted {
		log.Printf("[gateway] operator decision %s declined, dropping", ev.DecisionID)
		return models.Decision{}, nil
	}
	return g.Submit(ctx, Submission{
		ApprovalKey: ev.Context.ApprovalKey,
		Action:      ev.Context.Action,
		Payload:     ev.Context.Payload,
		Requester:   ev.Auth,
		Reason:      ev.Rationale,
		TTLOverride: ev.TTLSec,
	})
}

// HandleManualRequest processes a manual.approval.request event.
func (g *Gateway) HandleManualRequest(ctx context.Context, ev models.ManualRequestEvent) (models.Decision, error) {
	return g.Submit(ctx, Submission{
		ApprovalKey: ev.ApprovalKey,
		Action:      ev.Action,
		Payload:     ev.Payload,
		Requester:   ev.RequestedBy,
		Reason:      ev.Reason,
		TTLOverride: ev.TTLSec,
	})
}

// ApplyPolicySnapshot replaces the policy store wholesale. A snapshot that
// violates profile invariants is rejected and the previous snapshot stays
// live.
func (g *Gateway) ApplyPolicySnapshot(ev models.PolicySnapshotEvent) error {
	snap, err := policy.NewSnapshot(ev)
	if err != nil {
		return fmt.Errorf("policy snapshot: %w", err)
	}
	g.policies.Replace(snap)
	log.Printf("[gateway] policy snapshot replaced (%d roles, %d profiles)", len(ev.Roles), len(ev.Profiles))
	return nil
}

// ApplyGuardDirective replaces the guard mode.
func (g *Gateway) ApplyGuardDirective(ev models.GuardDirectiveEvent) {
	g.env.SetGuard(ev)
}

// ApplyBoundsResult upserts one bounds-check result.
func (g *Gateway) ApplyBoundsResult(ev models.BoundsResultEvent) {
	g.env.RecordBounds(ev)
}

// ApplyEmergencyStop replaces the emergency-stop flag.
func (g *Gateway) ApplyEmergencyStop(ctx context.Context, ev models.EmergencyStopEvent) {
	g.env.SetEmergencyStop(ev)
	if ev.Active {
		g.alert(ctx, "critical", "emergency stop activated", map[string]string{"reason": ev.Reason})
	}
}

// Dispatch routes a raw inbound message by topic. Unparseable payloads are
// dropped with a warning and never create partial state.
func (g *Gateway) Dispatch(ctx context.Context, topic string, payload []byte) error {
	switch topic {
	case models.TopicOperatorDecision:
		var ev models.OperatorDecisionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return dropMalformed(topic, err)
		}
		_, err := g.HandleOperatorDecision(ctx, ev)
		return err
	case models.TopicManualRequest:
		var ev models.ManualRequestEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return dropMalformed(topic, err)
		}
		_, err := g.HandleManualRequest(ctx, ev)
		return err
	case models.TopicPolicySnapshot:
		var ev models.PolicySnapshotEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return dropMalformed(topic, err)
		}
		if err := g.ApplyPolicySnapshot(ev); err != nil {
			log.Printf("[gateway] rejecting policy snapshot: %v", err)
		}
		return nil
	case models.TopicGuardDirective:
		var ev models.GuardDirectiveEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return dropMalformed(topic, err)
		}
		g.ApplyGuardDirective(ev)
		return nil
	case models.TopicBoundsResult:
		var ev models.BoundsResultEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return dropMalformed(topic, err)
		}
		if ev.CheckID == "" {
			return dropMalformed(topic, fmt.Errorf("missing checkId"))
		}
		g.ApplyBoundsResult(ev)
		return nil
	case models.TopicEmergencyStop:
		var ev models.EmergencyStopEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return dropMalformed(topic, err)
		}
		g.ApplyEmergencyStop(ctx, ev)
		return nil
	case models.TopicRevokeRequest:
		var ev models.RevokeRequestEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return dropMalformed(topic, err)
		}
		_, err := g.Revoke(ctx, ev)
		return err
	default:
		log.Printf("[gateway] unknown topic %s, dropping", topic)
		return nil
	}
}

func dropMalformed(topic string, err error) error {
	log.Printf("[gateway] dropping malformed %s event: %v", topic, err)
	return nil
}
