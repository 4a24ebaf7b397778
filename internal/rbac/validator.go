// Package rbac decides whether a requester's signature and roles authorize an
// action under the current policy snapshot.
package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
	"github.com/vantagetrading/approvald/internal/policy"
)

var (
	// ErrSignatureInvalid means the signature did not verify for the claimed
	// identity.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrForbidden means no requester role maps to the action. Verifier
	// unavailability also surfaces as ErrForbidden: the gate fails closed.
	ErrForbidden = errors.New("forbidden")
)

// Validator authorizes one requester for one action. Authorization is
// re-evaluated per approver and never cached across approvers of a chain;
// different approvers may carry different roles.
type Validator struct {
	verifier Verifier
	timeout  time.Duration
}

// NewValidator builds a validator. timeout bounds each verifier call; zero
// means 5s.
func NewValidator(verifier Verifier, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Validator{verifier: verifier, timeout: timeout}
}

// Authorize verifies the requester signature, then checks that some role maps
// to the action in the snapshot.
func (v *Validator) Authorize(ctx context.Context, snap *policy.Snapshot, req models.Requester, action string) error {
	if v.verifier == nil {
		return ErrForbidden
	}
	vctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	if err := v.verifier.Verify(vctx, req.Identity, req.Signature); err != nil {
		if vctx.Err() != nil {
			// Bounded external call timed out; fail closed rather than hang.
			return ErrForbidden
		}
		return ErrSignatureInvalid
	}
	for _, role := range req.Roles {
		if snap.RoleAllows(role, action) {
			return nil
		}
	}
	return ErrForbidden
}
