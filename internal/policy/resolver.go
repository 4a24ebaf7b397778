package policy

import (
	"github.com/vantagetrading/approvald/internal/models"
)

// Built-in fallback profiles by action category, used when the snapshot names
// no profile for an action. Halt and failover require dual control; parameter
// overrides are single-approver with a substantive reason; limit changes need
// a 2-of-3 quorum.
var categoryDefaults = map[models.ActionCategory]models.ApprovalProfile{
	models.CategoryHalt: {
		Kind:        models.ProfileDual,
		QuorumCount: 2,
		OfCount:     2,
		TTLSeconds:  300,
	},
	models.CategoryFailover: {
		Kind:        models.ProfileDual,
		QuorumCount: 2,
		OfCount:     2,
		TTLSeconds:  300,
	},
	models.CategoryParameterOverride: {
		Kind:           models.ProfileSingle,
		QuorumCount:    1,
		OfCount:        1,
		TTLSeconds:     300,
		MinReasonChars: 20,
	},
	models.CategoryLimitChange: {
		Kind:        models.ProfileQuorum,
		QuorumCount: 2,
		OfCount:     3,
		TTLSeconds:  600,
	},
}

// ResolveProfile returns the effective approval profile for an action under
// the given snapshot. A named profile wins over the category fallback; a
// caller TTL override replaces only ttlSeconds. Returns ErrUnknownAction when
// no source yields a profile.
func ResolveProfile(s *Snapshot, action string, ttlOverride *int) (models.ApprovalProfile, models.ActionSpec, error) {
	spec, known := s.Action(action)
	var profile models.ApprovalProfile
	found := false
	if known {
		if p, ok := s.profiles[action]; ok {
			profile, found = p, true
		} else if p, ok := categoryDefaults[spec.Category]; ok {
			profile, found = p, true
		}
	} else if p, ok := s.profiles[action]; ok {
		// Snapshot names a profile for an action it carries no spec for;
		// treat the profile as authoritative.
		spec = models.ActionSpec{Name: action}
		profile, found = p, true
	}
	if !found {
		return models.ApprovalProfile{}, models.ActionSpec{}, ErrUnknownAction
	}
	if ttlOverride != nil && *ttlOverride >= 0 {
		profile.TTLSeconds = *ttlOverride
	}
	return profile, spec, nil
}
