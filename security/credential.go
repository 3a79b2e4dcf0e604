package security

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"gate-system/internal/status"
)

// Credential is the token+signature pair presented by a ticket holder,
// extracted from a QR payload or NFC tag.
type Credential struct {
	TicketID  string
	EventID   string
	Token     string
	Signature string
}

// Verifier checks that a credential was produced by the trusted issuing
// authority. Implementations are pure and fully offline: the verification
// key material must already be on the device before doors open.
type Verifier interface {
	Verify(cred Credential) error
}

// Signer mints credential signatures. Held by the issuance collaborator,
// not by scanning devices (except in the shared-secret configuration).
type Signer interface {
	Sign(token string) string
}

// Payload wire format: "gate1:<ticket_id>:<event_id>:<token>:<signature>".
const payloadPrefix = "gate1"

// ParsePayload splits a scanned QR/NFC payload into a credential.
// Any structural defect is a malformed-payload failure; an empty token or
// signature is a missing-credential failure.
func ParsePayload(raw string) (Credential, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 5 || parts[0] != payloadPrefix {
		return Credential{}, status.ErrMalformedPayload
	}
	cred := Credential{
		TicketID:  parts[1],
		EventID:   parts[2],
		Token:     parts[3],
		Signature: parts[4],
	}
	if cred.TicketID == "" || cred.EventID == "" {
		return Credential{}, status.ErrMalformedPayload
	}
	if cred.Token == "" || cred.Signature == "" {
		return Credential{}, status.ErrMissingCredential
	}
	return cred, nil
}

// EncodePayload is the inverse of ParsePayload, used by issuance tooling
// and tests to build scannable payloads.
func EncodePayload(cred Credential) string {
	return strings.Join([]string{
		payloadPrefix, cred.TicketID, cred.EventID, cred.Token, cred.Signature,
	}, ":")
}

// HMACVerifier recomputes an HMAC-SHA256 signature over the token with a
// shared signing secret and compares in constant time. The secret on the
// device is sufficient to forge credentials; prefer Ed25519Verifier where
// key distribution allows.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

func (v *HMACVerifier) Verify(cred Credential) error {
	if cred.Token == "" || cred.Signature == "" {
		return status.ErrMissingCredential
	}
	want, err := hex.DecodeString(strings.ToLower(cred.Signature))
	if err != nil {
		return status.ErrMalformedPayload
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(cred.Token))

	// hmac.Equal is constant time.
	if !hmac.Equal(mac.Sum(nil), want) {
		return status.ErrInvalidSignature
	}
	return nil
}

// Sign lets the shared-secret configuration double as the issuance signer.
func (v *HMACVerifier) Sign(token string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Ed25519Verifier verifies an issuer signature with a public key only.
// The device cannot forge credentials with it, which removes the
// shared-secret exposure of the HMAC scheme without losing offline
// capability.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

func NewEd25519Verifier(pub ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{pub: pub}
}

func (v *Ed25519Verifier) Verify(cred Credential) error {
	if cred.Token == "" || cred.Signature == "" {
		return status.ErrMissingCredential
	}
	sig, err := hex.DecodeString(strings.ToLower(cred.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return status.ErrMalformedPayload
	}
	if !ed25519.Verify(v.pub, []byte(cred.Token), sig) {
		return status.ErrInvalidSignature
	}
	return nil
}

// Ed25519Signer is the issuance-side counterpart; the private key stays
// with the central issuer.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

func (s *Ed25519Signer) Sign(token string) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(token)))
}

// NewVerifier picks the asymmetric verifier when a public key is
// configured and falls back to the shared secret otherwise.
func NewVerifier(publicKeyHex string, secret []byte) (Verifier, error) {
	if publicKeyHex != "" {
		pub, err := hex.DecodeString(publicKeyHex)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, status.ErrMalformedPayload
		}
		return NewEd25519Verifier(ed25519.PublicKey(pub)), nil
	}
	return NewHMACVerifier(secret), nil
}
