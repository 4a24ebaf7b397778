// Package metrics aggregates gateway counters for the periodic
// approval.metrics summary and the /status surface.
package metrics

import (
	"sync"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
)

// Registry accumulates decision counts and approval lead times.
type Registry struct {
	mu        sync.Mutex
	approved  int
	rejected  int
	revoked   int
	byAction  map[string]int
	leadTotal time.Duration
	leadCount int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byAction: make(map[string]int)}
}

// ObserveDecision records a terminal decision. leadTime is the span from
// chain creation to approval and only applies to Approved decisions.
func (r *Registry) ObserveDecision(d models.Decision, leadTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch d.Kind {
	case models.DecisionApproved:
		r.approved++
		r.leadTotal += leadTime
		r.leadCount++
	case models.DecisionRejected:
		r.rejected++
	case models.DecisionRevoked:
		r.revoked++
	default:
		return
	}
	if d.Action != "" {
		r.byAction[d.Action]++
	}
}

// Summary builds the metrics event. pending is sampled from the chain builder
// at emit time rather than counted here.
func (r *Registry) Summary(pending int) models.MetricsEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	byAction := make(map[string]int, len(r.byAction))
	for k, v := range r.byAction {
		byAction[k] = v
	}
	avg := 0.0
	if r.leadCount > 0 {
		avg = (r.leadTotal / time.Duration(r.leadCount)).Seconds()
	}
	return models.MetricsEvent{
		Pending:            pending,
		Approved:           r.approved,
		Rejected:           r.rejected,
		Revoked:            r.revoked,
		ByAction:           byAction,
		AvgLeadTimeSeconds: avg,
	}
}
