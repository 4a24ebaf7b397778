package rbac

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks that a submission signature binds the claimed identity.
// Implementations must be bounded: they either answer within the caller's
// context or fail, never hang.
type Verifier interface {
	Verify(ctx context.Context, identity string, signature string) error
}

// Ed25519Verifier validates EdDSA-signed JWT signatures. The token's sub claim
// must match the claimed identity.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

// NewEd25519Verifier wraps a raw Ed25519 public key.
func NewEd25519Verifier(pub ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verifier: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return &Ed25519Verifier{pub: pub}, nil
}

func (v *Ed25519Verifier) Verify(ctx context.Context, identity string, signature string) error {
	if signature == "" {
		return fmt.Errorf("empty signature")
	}
	token, err := jwt.Parse(signature, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return fmt.Errorf("subject claim: %w", err)
	}
	if sub != identity {
		return fmt.Errorf("token subject %q does not match identity %q", sub, identity)
	}
	return nil
}

// StaticVerifier accepts any non-empty signature. Development and tests only.
type StaticVerifier struct{}

func (StaticVerifier) Verify(ctx context.Context, identity string, signature string) error {
	if signature == "" {
		return fmt.Errorf("empty signature")
	}
	return nil
}
