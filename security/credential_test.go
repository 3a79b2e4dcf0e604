package security

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-system/internal/status"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name: "well formed",
			raw:  "gate1:t-1:ev-1:tok123:deadbeef",
		},
		{
			name:    "wrong prefix",
			raw:     "gate2:t-1:ev-1:tok123:deadbeef",
			wantErr: status.ErrMalformedPayload,
		},
		{
			name:    "missing field",
			raw:     "gate1:t-1:ev-1:tok123",
			wantErr: status.ErrMalformedPayload,
		},
		{
			name:    "empty ticket id",
			raw:     "gate1::ev-1:tok123:deadbeef",
			wantErr: status.ErrMalformedPayload,
		},
		{
			name:    "empty token",
			raw:     "gate1:t-1:ev-1::deadbeef",
			wantErr: status.ErrMissingCredential,
		},
		{
			name:    "empty signature",
			raw:     "gate1:t-1:ev-1:tok123:",
			wantErr: status.ErrMissingCredential,
		},
		{
			name:    "garbage",
			raw:     "not a payload at all",
			wantErr: status.ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := ParsePayload(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "t-1", cred.TicketID)
			assert.Equal(t, "ev-1", cred.EventID)
			assert.Equal(t, "tok123", cred.Token)
			assert.Equal(t, "deadbeef", cred.Signature)
		})
	}
}

func TestEncodePayload_RoundTrip(t *testing.T) {
	cred := Credential{TicketID: "t-9", EventID: "ev-2", Token: "tok", Signature: "aa"}

	parsed, err := ParsePayload(EncodePayload(cred))

	require.NoError(t, err)
	assert.Equal(t, cred, parsed)
}

func TestHMACVerifier(t *testing.T) {
	secret := []byte("issuing-secret")
	v := NewHMACVerifier(secret)

	cred := Credential{TicketID: "t-1", EventID: "ev-1", Token: "tok123"}
	cred.Signature = v.Sign(cred.Token)

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, v.Verify(cred))
	})

	t.Run("deterministic", func(t *testing.T) {
		// Same inputs, same verdict, no matter how often it runs.
		for i := 0; i < 10; i++ {
			assert.NoError(t, v.Verify(cred))
		}
	})

	t.Run("single byte tamper flips verdict", func(t *testing.T) {
		sig, err := hex.DecodeString(cred.Signature)
		require.NoError(t, err)
		sig[0] ^= 0x01

		tampered := cred
		tampered.Signature = hex.EncodeToString(sig)
		assert.ErrorIs(t, v.Verify(tampered), status.ErrInvalidSignature)
	})

	t.Run("tampered token", func(t *testing.T) {
		tampered := cred
		tampered.Token = "tok124"
		assert.ErrorIs(t, v.Verify(tampered), status.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewHMACVerifier([]byte("different-secret"))
		assert.ErrorIs(t, other.Verify(cred), status.ErrInvalidSignature)
	})

	t.Run("non-hex signature", func(t *testing.T) {
		bad := cred
		bad.Signature = "zzzz"
		assert.ErrorIs(t, v.Verify(bad), status.ErrMalformedPayload)
	})

	t.Run("missing credential", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(Credential{Token: "tok"}), status.ErrMissingCredential)
		assert.ErrorIs(t, v.Verify(Credential{Signature: "aa"}), status.ErrMissingCredential)
	})
}

func TestEd25519Verifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	signer := NewEd25519Signer(priv)
	v := NewEd25519Verifier(pub)

	cred := Credential{TicketID: "t-1", EventID: "ev-1", Token: "tok123"}
	cred.Signature = signer.Sign(cred.Token)

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, v.Verify(cred))
	})

	t.Run("single byte tamper flips verdict", func(t *testing.T) {
		sig, err := hex.DecodeString(cred.Signature)
		require.NoError(t, err)
		sig[10] ^= 0x80

		tampered := cred
		tampered.Signature = hex.EncodeToString(sig)
		assert.ErrorIs(t, v.Verify(tampered), status.ErrInvalidSignature)
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		other := NewEd25519Verifier(otherPub)
		assert.ErrorIs(t, other.Verify(cred), status.ErrInvalidSignature)
	})

	t.Run("truncated signature", func(t *testing.T) {
		bad := cred
		bad.Signature = "deadbeef"
		assert.ErrorIs(t, v.Verify(bad), status.ErrMalformedPayload)
	})
}

func TestNewVerifier(t *testing.T) {
	t.Run("public key selects ed25519", func(t *testing.T) {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)

		v, err := NewVerifier(hex.EncodeToString(pub), nil)
		require.NoError(t, err)
		assert.IsType(t, &Ed25519Verifier{}, v)
	})

	t.Run("no public key selects hmac", func(t *testing.T) {
		v, err := NewVerifier("", []byte("secret"))
		require.NoError(t, err)
		assert.IsType(t, &HMACVerifier{}, v)
	})

	t.Run("bad public key", func(t *testing.T) {
		_, err := NewVerifier("nothex", nil)
		assert.Error(t, err)

		_, err = NewVerifier("deadbeef", nil) // wrong length
		assert.Error(t, err)
	})
}

func TestOverrideAuthorizer(t *testing.T) {
	hash, err := HashPIN("4711")
	require.NoError(t, err)

	auth := NewOverrideAuthorizer(map[string]string{"op-1": hash})

	assert.NoError(t, auth.Authorize("op-1", "4711"))
	assert.ErrorIs(t, auth.Authorize("op-1", "9999"), status.ErrOverrideDenied)
	assert.ErrorIs(t, auth.Authorize("op-2", "4711"), status.ErrOverrideDenied)
}
