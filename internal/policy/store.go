package policy

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vantagetrading/approvald/internal/models"
)

// ErrUnknownAction means neither the snapshot nor the built-in fallback table
// yields a profile for the action.
var ErrUnknownAction = errors.New("unknown action")

// Snapshot is an immutable view of the role->action map, named approval
// profiles, and per-action metadata. Snapshots are replaced wholesale; readers
// never observe a partial update.
type Snapshot struct {
	roles    map[string][]string
	profiles map[string]models.ApprovalProfile
	actions  map[string]models.ActionSpec
}

// NewSnapshot builds a snapshot from a policy.snapshot event. Profile
// invariants are enforced here so a bad snapshot is rejected at ingestion
// rather than surfacing mid-chain.
func NewSnapshot(ev models.PolicySnapshotEvent) (*Snapshot, error) {
	s := &Snapshot{
		roles:    make(map[string][]string, len(ev.Roles)),
		profiles: make(map[string]models.ApprovalProfile, len(ev.Profiles)),
		actions:  make(map[string]models.ActionSpec, len(ev.Actions)),
	}
	for role, actions := range ev.Roles {
		s.roles[role] = append([]string(nil), actions...)
	}
	for name, p := range ev.Profiles {
		if p.TTLSeconds < 0 {
			return nil, fmt.Errorf("profile %s: ttlSeconds must be >= 0", name)
		}
		if p.Kind == models.ProfileQuorum && p.OfCount > 0 && p.QuorumCount > p.OfCount {
			return nil, fmt.Errorf("profile %s: quorumCount %d exceeds ofCount %d", name, p.QuorumCount, p.OfCount)
		}
		s.profiles[name] = p
	}
	for _, a := range ev.Actions {
		if a.Name == "" {
			return nil, fmt.Errorf("action spec missing name")
		}
		s.actions[a.Name] = a
	}
	return s, nil
}

// RoleAllows reports whether the role maps to the action in this snapshot.
func (s *Snapshot) RoleAllows(role, action string) bool {
	for _, a := range s.roles[role] {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

// Action returns the metadata for a named action, if present.
func (s *Snapshot) Action(name string) (models.ActionSpec, bool) {
	a, ok := s.actions[name]
	return a, ok
}

// Store holds the current policy snapshot behind an atomic pointer. Swaps are
// whole-snapshot; there is no merge path.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store primed with an empty snapshot so readers never see
// nil.
func NewStore() *Store {
	st := &Store{}
	empty, _ := NewSnapshot(models.PolicySnapshotEvent{})
	st.current.Store(empty)
	return st
}

// Replace installs a new snapshot.
func (st *Store) Replace(s *Snapshot) {
	st.current.Store(s)
}

// Current returns the live snapshot.
func (st *Store) Current() *Snapshot {
	return st.current.Load()
}
