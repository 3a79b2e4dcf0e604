package security

import (
	"golang.org/x/crypto/bcrypt"

	"gate-system/internal/status"
)

// OverrideAuthorizer checks a staff operator's PIN before a manual
// admission override is accepted. PIN hashes are provisioned onto the
// device alongside the verification key.
type OverrideAuthorizer struct {
	pinHashes map[string]string // operator id -> bcrypt hash
}

func NewOverrideAuthorizer(pinHashes map[string]string) *OverrideAuthorizer {
	return &OverrideAuthorizer{pinHashes: pinHashes}
}

// Authorize returns nil only when the operator exists and the PIN matches.
func (a *OverrideAuthorizer) Authorize(operatorID, pin string) error {
	hash, ok := a.pinHashes[operatorID]
	if !ok {
		return status.ErrOverrideDenied
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		return status.ErrOverrideDenied
	}
	return nil
}

// HashPIN is used by provisioning tooling and tests.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
