// Package envstate tracks the environment signals the gate chain consults:
// guard mode, the emergency-stop flag, and a bounded set of recent
// bounds-check results.
package envstate

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
)

// GuardState is the current guard directive, replaced wholesale.
type GuardState struct {
	Mode      string
	ExpiresAt *time.Time
}

// StopState is the current emergency-stop flag, replaced wholesale.
type StopState struct {
	Active bool
	Reason string
}

// BoundsResult is one recorded bounds-check outcome.
type BoundsResult struct {
	CheckID    string
	OK         bool
	Severity   string
	Violations []string
	RecordedAt time.Time
}

// Tracker holds environment state. Guard and stop states swap atomically;
// bounds results live in a small mutex-guarded ring keyed by check id.
type Tracker struct {
	guard atomic.Pointer[GuardState]
	stop  atomic.Pointer[StopState]

	mu       sync.RWMutex
	bounds   map[string]BoundsResult
	order    []string
	capacity int

	now func() time.Time
}

// NewTracker returns a tracker retaining at most capacity recent bounds
// results (defaults to 256 when <= 0).
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 256
	}
	t := &Tracker{
		bounds:   make(map[string]BoundsResult, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	t.guard.Store(&GuardState{Mode: "normal"})
	t.stop.Store(&StopState{})
	return t
}

// SetGuard replaces the guard directive.
func (t *Tracker) SetGuard(ev models.GuardDirectiveEvent) {
	t.guard.Store(&GuardState{Mode: ev.Mode, ExpiresAt: ev.ExpiresAt})
}

// Guard returns the current guard directive.
func (t *Tracker) Guard() GuardState {
	return *t.guard.Load()
}

// SetEmergencyStop replaces the emergency-stop flag.
func (t *Tracker) SetEmergencyStop(ev models.EmergencyStopEvent) {
	t.stop.Store(&StopState{Active: ev.Active, Reason: ev.Reason})
}

// EmergencyStop returns the current emergency-stop flag.
func (t *Tracker) EmergencyStop() StopState {
	return *t.stop.Load()
}

// RecordBounds upserts a bounds-check result, evicting the oldest entry once
// capacity is reached.
func (t *Tracker) RecordBounds(ev models.BoundsResultEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.bounds[ev.CheckID]; !exists {
		if len(t.order) >= t.capacity {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.bounds, oldest)
		}
		t.order = append(t.order, ev.CheckID)
	}
	t.bounds[ev.CheckID] = BoundsResult{
		CheckID:    ev.CheckID,
		OK:         ev.OK,
		Severity:   ev.Severity,
		Violations: append([]string(nil), ev.Violations...),
		RecordedAt: t.now(),
	}
}

// HasFreshOKBounds reports whether an OK bounds result scoped to the given
// action was recorded within the freshness window. Results are related to an
// action by check-id prefix ("<action>:..."); an unprefixed check id counts
// for every action.
func (t *Tracker) HasFreshOKBounds(action string, window time.Duration) bool {
	cutoff := t.now().Add(-window)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.bounds {
		if !r.OK || r.RecordedAt.Before(cutoff) {
			continue
		}
		if action == "" || !strings.Contains(r.CheckID, ":") || strings.HasPrefix(r.CheckID, action+":") {
			return true
		}
	}
	return false
}
