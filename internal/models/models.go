package models

import (
	"encoding/json"
	"time"
)

// ProfileKind describes how many distinct approvers an action needs.
type ProfileKind string

const (
	ProfileSingle ProfileKind = "single"
	ProfileDual   ProfileKind = "dual"
	ProfileQuorum ProfileKind = "quorum"
)

// ActionCategory groups actions for the built-in profile fallback table.
type ActionCategory string

const (
	CategoryHalt              ActionCategory = "halt"
	CategoryFailover          ActionCategory = "failover"
	CategoryParameterOverride ActionCategory = "parameter-override"
	CategoryLimitChange       ActionCategory = "limit-change"
)

// ApprovalProfile is the consent policy for one action. A chain snapshots the
// profile at creation time; later policy updates do not affect it.
type ApprovalProfile struct {
	Kind           ProfileKind `json:"kind"`
	QuorumCount    int         `json:"quorumCount"`
	OfCount        int         `json:"ofCount"`
	TTLSeconds     int         `json:"ttlSeconds"`
	MinReasonChars int         `json:"minReasonChars"`
	Allowlist      []string    `json:"allowlist,omitempty"`
}

// Required returns the distinct-approver count that completes a chain.
// OfCount is reporting-only: it describes the eligible pool, never the bar.
func (p ApprovalProfile) Required() int {
	if p.Kind == ProfileSingle {
		return 1
	}
	if p.QuorumCount < 1 {
		return 1
	}
	return p.QuorumCount
}

// ActionSpec is the per-action metadata carried in a policy snapshot.
type ActionSpec struct {
	Name             string         `json:"name"`
	Category         ActionCategory `json:"category"`
	GlobalProtective bool           `json:"globalProtective"`
	RequiresBounds   bool           `json:"requiresBounds"`
	TargetParam      string         `json:"targetParam,omitempty"`
}

// Requester identifies the party submitting an approval, with the signature
// binding identity and roles.
type Requester struct {
	Identity  string   `json:"identity"`
	Roles     []string `json:"roles"`
	Signature string   `json:"signature"`
}

// Approver is one recorded consent inside a chain.
type Approver struct {
	Identity  string    `json:"identity"`
	Roles     []string  `json:"roles"`
	Timestamp time.Time `json:"timestamp"`
}

// ChainStatus is the lifecycle state of an ApprovalChain.
type ChainStatus string

const (
	ChainAccumulating ChainStatus = "accumulating"
	ChainComplete     ChainStatus = "complete"
	ChainExpired      ChainStatus = "expired"
)

// ApprovalChain accumulates distinct approvers for one approval key.
type ApprovalChain struct {
	ApprovalKey string          `json:"approvalKey"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Profile     ApprovalProfile `json:"profile"`
	Approvers   []Approver      `json:"approvers"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Status      ChainStatus     `json:"status"`
}

// HasApprover reports whether identity already contributed to the chain.
func (c *ApprovalChain) HasApprover(identity string) bool {
	for _, a := range c.Approvers {
		if a.Identity == identity {
			return true
		}
	}
	return false
}

// DecisionKind tags the Decision variant.
type DecisionKind string

const (
	DecisionApproved DecisionKind = "approved"
	DecisionRejected DecisionKind = "rejected"
	DecisionPending  DecisionKind = "pending"
	DecisionRevoked  DecisionKind = "revoked"
)

// Rejection reason codes. Every gateway failure surfaces as one of these in a
// Rejected decision; nothing escapes as an unhandled fault.
const (
	ReasonSignatureInvalid   = "SignatureInvalid"
	ReasonForbidden          = "Forbidden"
	ReasonTooShort           = "ReasonTooShort"
	ReasonBoundsNotFresh     = "BoundsNotFresh"
	ReasonAllowlistViolation = "AllowlistViolation"
	ReasonUnknownAction      = "UnknownAction"
	ReasonInsufficientQuorum = "InsufficientQuorum"
	ReasonInternalError      = "InternalError"
)

// Revocation reason codes.
const (
	RevokeTTLExpired = "TtlExpired"
	RevokeManual     = "ManualRevoke"
	RevokeSuperseded = "Superseded"
)

// QuorumNeed reports chain requirements for Pending decisions.
type QuorumNeed struct {
	Quorum int `json:"quorum"`
	Of     int `json:"of"`
}

// Decision is the immutable outcome of processing one submission. Exactly one
// of the variant field groups is meaningful, selected by Kind.
type Decision struct {
	ID          string          `json:"id"`
	Kind        DecisionKind    `json:"kind"`
	ApprovalKey string          `json:"approvalKey"`
	Action      string          `json:"action,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Approvers   []Approver      `json:"approvers,omitempty"`
	TTLSeconds  int             `json:"ttlSeconds,omitempty"`
	Reason      string          `json:"reason,omitempty"`

	// Rejected
	Reasons []string `json:"reasons,omitempty"`

	// Pending
	Needed    *QuorumNeed `json:"needed,omitempty"`
	Received  int         `json:"received,omitempty"`
	ExpiresAt time.Time   `json:"expiresAt,omitempty"`

	// Revoked
	Rollback json.RawMessage `json:"rollback,omitempty"`

	DecidedAt time.Time `json:"decidedAt"`
}

// Terminal reports whether the decision settles the approval key. Pending
// decisions never enter the idempotency cache.
func (d Decision) Terminal() bool {
	return d.Kind == DecisionApproved || d.Kind == DecisionRejected || d.Kind == DecisionRevoked
}
