package models

import (
	"encoding/json"
	"time"
)

// Inbound topic names.
const (
	TopicOperatorDecision = "operator.decision.final"
	TopicManualRequest    = "manual.approval.request"
	TopicPolicySnapshot   = "policy.snapshot"
	TopicGuardDirective   = "environment.guard.directive"
	TopicBoundsResult     = "bounds.check.result"
	TopicEmergencyStop    = "emergency.stop"
	TopicRevokeRequest    = "approval.revoke"
)

// Outbound topic names.
const (
	TopicActionApproved  = "action.approved"
	TopicActionRejected  = "action.rejected"
	TopicApprovalPending = "approval.pending"
	TopicApprovalRevoked = "approval.revoked"
	TopicApprovalAlert   = "approval.alert"
	TopicApprovalMetrics = "approval.metrics"
)

// OperatorDecisionEvent is the operator decision flow output. Only accepted
// decisions are processed; declines are dropped.
type OperatorDecisionEvent struct {
	PromptID   string          `json:"promptId"`
	DecisionID string          `json:"decisionId"`
	Accepted   bool            `json:"accepted"`
	Rationale  string          `json:"rationale"`
	TTLSec     *int            `json:"ttlSec,omitempty"`
	Context    DecisionContext `json:"context"`
	Auth       Requester       `json:"auth"`
}

// DecisionContext carries the action binding for an operator decision.
type DecisionContext struct {
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ApprovalKey string          `json:"approvalKey"`
}

// ManualRequestEvent is a directly raised approval request.
type ManualRequestEvent struct {
	ApprovalKey string          `json:"approvalKey"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RequestedBy Requester       `json:"requestedBy"`
	Reason      string          `json:"reason"`
	TTLSec      *int            `json:"ttlSec,omitempty"`
}

// PolicySnapshotEvent replaces the policy store wholesale.
type PolicySnapshotEvent struct {
	Roles    map[string][]string        `json:"roles"`
	Profiles map[string]ApprovalProfile `json:"approvalProfiles"`
	Actions  []ActionSpec               `json:"actions,omitempty"`
}

// GuardDirectiveEvent replaces the current guard mode.
type GuardDirectiveEvent struct {
	Mode      string     `json:"mode"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// BoundsResultEvent is upserted into the bounded recent-results set.
type BoundsResultEvent struct {
	CheckID    string   `json:"checkId"`
	OK         bool     `json:"ok"`
	Severity   string   `json:"severity,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// EmergencyStopEvent replaces the emergency-stop flag.
type EmergencyStopEvent struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// RevokeRequestEvent asks for an explicit terminal override of a key.
type RevokeRequestEvent struct {
	ApprovalKey string          `json:"approvalKey"`
	Reason      string          `json:"reason,omitempty"`
	Rollback    json.RawMessage `json:"rollback,omitempty"`
	RequestedBy Requester       `json:"requestedBy"`
}

// ApprovedEvent is published on action.approved.
type ApprovedEvent struct {
	ApprovalKey string          `json:"approvalKey"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	TTLSeconds  int             `json:"ttlSeconds"`
	Approvers   []Approver      `json:"approvers"`
	Chain       ChainProgress   `json:"chain"`
	Reason      string          `json:"reason,omitempty"`
	Audit       string          `json:"audit"`
}

// ChainProgress reports required vs collected approvers.
type ChainProgress struct {
	Required  int `json:"required"`
	Collected int `json:"collected"`
}

// RejectedEvent is published on action.rejected.
type RejectedEvent struct {
	ApprovalKey string     `json:"approvalKey"`
	Action      string     `json:"action"`
	Reasons     []string   `json:"reasons"`
	Approvers   []Approver `json:"approvers,omitempty"`
	Audit       string     `json:"audit"`
}

// PendingEvent is published on approval.pending.
type PendingEvent struct {
	ApprovalKey string     `json:"approvalKey"`
	Action      string     `json:"action"`
	Needed      QuorumNeed `json:"needed"`
	Received    int        `json:"received"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

// RevokedEvent is published on approval.revoked.
type RevokedEvent struct {
	ApprovalKey string          `json:"approvalKey"`
	Reason      string          `json:"reason"`
	Rollback    json.RawMessage `json:"rollback,omitempty"`
}

// AlertEvent is published on approval.alert for gate violations worth surfacing.
type AlertEvent struct {
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// MetricsEvent is the periodic approval.metrics summary.
type MetricsEvent struct {
	Pending            int            `json:"pending"`
	Approved           int            `json:"approved"`
	Rejected           int            `json:"rejected"`
	Revoked            int            `json:"revoked"`
	ByAction           map[string]int `json:"byAction"`
	AvgLeadTimeSeconds float64        `json:"avgLeadTimeSeconds"`
}
