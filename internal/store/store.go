// Package store persists emitted decisions for reporting and idempotency
// warm-start. Retention is bounded; the sweeper prunes alongside cache
// eviction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("not found")

// ListFilter narrows ListDecisions output.
type ListFilter struct {
	ApprovalKey string
	Kind        models.DecisionKind
	Action      string
	Limit       int
	Offset      int
}

// Store is the decision log abstraction. Memory backs dev and tests; Postgres
// backs deployments.
type Store interface {
	AppendDecision(ctx context.Context, d models.Decision) error
	LatestDecision(ctx context.Context, approvalKey string) (models.Decision, error)
	ListDecisions(ctx context.Context, filter ListFilter) ([]models.Decision, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Ping(ctx context.Context) error
}
