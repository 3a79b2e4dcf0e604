package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-system/internal/status"
	"gate-system/models"
	"gate-system/security"
	"gate-system/services"
)

var testSecret = []byte("test-issuing-secret")

func signedPayload(t *testing.T, ticketID, eventID, token string) string {
	t.Helper()
	signer := security.NewHMACVerifier(testSecret)
	return security.EncodePayload(security.Credential{
		TicketID:  ticketID,
		EventID:   eventID,
		Token:     token,
		Signature: signer.Sign(token),
	})
}

func testScanner(t *testing.T, central CentralClient) (*Scanner, *Queue, *SnapshotCache) {
	t.Helper()
	q := openTestQueue(t)
	cache := NewSnapshotCache(q, central)
	verifier := security.NewHMACVerifier(testSecret)

	hash, err := security.HashPIN("4711")
	require.NoError(t, err)
	overrides := security.NewOverrideAuthorizer(map[string]string{"op-1": hash})

	s := NewScanner("gate-7", verifier, overrides, central, q, cache, time.Second)
	return s, q, cache
}

func TestScanner_AdmitsLive(t *testing.T) {
	central := &fakeCentral{}
	central.push(func(req services.ClaimRequest) (*services.ClaimResult, error) {
		return &services.ClaimResult{
			Outcome: models.OutcomeValid,
			Ticket: &models.Ticket{
				ID:      req.TicketID,
				EventID: "ev-1",
				Status:  models.TicketScanned,
				Version: 1,
			},
		}, nil
	})
	s, q, cache := testScanner(t, central)
	ctx := context.Background()

	result, err := s.Scan(ctx, ScanInput{
		Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
		Method:  models.MethodQR,
		Mode:    models.ModeSingle,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusAdmitted, result.Status)
	assert.False(t, result.Provisional)

	// Nothing queued; snapshot cached for the next outage.
	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	snap, ok := cache.Get(ctx, "t-1")
	require.True(t, ok)
	assert.Equal(t, models.TicketScanned, snap.Status)

	reqs := central.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, services.OriginLive, reqs[0].Origin)
	assert.Equal(t, "gate-7", reqs[0].DeviceID)
	assert.Equal(t, "tok-1", reqs[0].Token)
}

func TestScanner_LiveRejectionShowsReason(t *testing.T) {
	central := &fakeCentral{}
	central.push(func(req services.ClaimRequest) (*services.ClaimResult, error) {
		return &services.ClaimResult{
			Outcome: models.OutcomeAlreadyScanned,
			Reason:  "ticket already scanned",
		}, nil
	})
	s, _, _ := testScanner(t, central)

	result, err := s.Scan(context.Background(), ScanInput{
		Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
		Method:  models.MethodQR,
		Mode:    models.ModeSingle,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, models.OutcomeAlreadyScanned, result.Outcome)
	assert.Equal(t, "ticket already scanned", result.Reason)
}

// Verification failures reject locally: no network call, no queue entry,
// no ledger trace.
func TestScanner_RejectsLocallyWithoutNetwork(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "tampered signature",
			payload: "gate1:t-1:ev-1:tok-1:deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		},
		{
			name:    "malformed payload",
			payload: "not-a-credential",
		},
		{
			name:    "missing token",
			payload: "gate1:t-1:ev-1::deadbeef",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			central := &fakeCentral{}
			s, q, _ := testScanner(t, central)

			result, err := s.Scan(context.Background(), ScanInput{
				Payload: tt.payload,
				Method:  models.MethodQR,
				Mode:    models.ModeSingle,
			})

			require.NoError(t, err)
			assert.Equal(t, StatusRejected, result.Status)
			assert.Equal(t, models.OutcomeInvalid, result.Outcome)
			assert.NotEmpty(t, result.Reason)

			assert.Empty(t, central.seen(), "verification failures must stay local")
			count, err := q.PendingCount(context.Background())
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestScanner_QueuesOnTransientFailure(t *testing.T) {
	central := &fakeCentral{}
	central.push(transientResponse)
	s, q, _ := testScanner(t, central)
	ctx := context.Background()

	result, err := s.Scan(ctx, ScanInput{
		Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
		Method:  models.MethodQR,
		Mode:    models.ModeSingle,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusQueued, result.Status)
	assert.True(t, result.Provisional)
	assert.Equal(t, models.OutcomeValid, result.Outcome)
	assert.Greater(t, result.QueuedSeq, int64(0))

	pending, err := q.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t-1", pending[0].TicketID)
	assert.Equal(t, models.OutcomeValid, pending[0].Provisional)
}

func TestScanner_QueuesOnTimeout(t *testing.T) {
	central := &fakeCentral{}
	central.push(func(req services.ClaimRequest) (*services.ClaimResult, error) {
		return nil, context.DeadlineExceeded
	})
	s, q, _ := testScanner(t, central)

	result, err := s.Scan(context.Background(), ScanInput{
		Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
		Method:  models.MethodQR,
		Mode:    models.ModeSingle,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusQueued, result.Status)

	count, err := q.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// The cached snapshot drives the provisional decision while offline.
func TestScanner_ProvisionalDecisionFromCache(t *testing.T) {
	central := &fakeCentral{}
	central.push(transientResponse)
	s, _, cache := testScanner(t, central)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, &models.Snapshot{
		TicketID: "t-1",
		EventID:  "ev-1",
		Status:   models.TicketScanned,
	}))

	result, err := s.Scan(ctx, ScanInput{
		Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
		Method:  models.MethodQR,
		Mode:    models.ModeSingle,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusQueued, result.Status)
	assert.Equal(t, models.OutcomeAlreadyScanned, result.Outcome)
	assert.True(t, result.Provisional)
}

// An omitted scan mode is derived from the cached snapshot's presence:
// a re-entry ticket outside gets an entry scan, inside gets an exit scan.
// Without presence evidence the gate requests a one-shot admission.
func TestScanner_InfersModeFromPresence(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *models.Snapshot
		wantMode string
	}{
		{
			name: "outside means entry",
			snapshot: &models.Snapshot{
				TicketID: "t-1",
				EventID:  "ev-1",
				Status:   models.TicketIssued,
				Presence: models.PresenceOutside,
			},
			wantMode: models.ModeEntry,
		},
		{
			name: "inside means exit",
			snapshot: &models.Snapshot{
				TicketID: "t-1",
				EventID:  "ev-1",
				Status:   models.TicketScanned,
				Presence: models.PresenceInside,
			},
			wantMode: models.ModeExit,
		},
		{
			name:     "no snapshot means single",
			wantMode: models.ModeSingle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			central := &fakeCentral{}
			central.push(okResponse)
			s, _, cache := testScanner(t, central)
			ctx := context.Background()

			if tt.snapshot != nil {
				require.NoError(t, cache.Put(ctx, tt.snapshot))
			}

			_, err := s.Scan(ctx, ScanInput{
				Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
				Method:  models.MethodQR,
			})

			require.NoError(t, err)
			reqs := central.seen()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.wantMode, reqs[0].Mode)
		})
	}
}

func TestScanner_ManualOverride(t *testing.T) {
	t.Run("authorized override reaches the coordinator", func(t *testing.T) {
		central := &fakeCentral{}
		central.push(okResponse)
		s, _, _ := testScanner(t, central)

		result, err := s.Scan(context.Background(), ScanInput{
			Payload:     signedPayload(t, "t-1", "ev-1", "tok-1"),
			Method:      models.MethodManual,
			Mode:        models.ModeSingle,
			OperatorID:  "op-1",
			OverridePIN: "4711",
		})

		require.NoError(t, err)
		assert.Equal(t, StatusAdmitted, result.Status)

		reqs := central.seen()
		require.Len(t, reqs, 1)
		assert.True(t, reqs[0].Override)
		assert.Equal(t, "op-1", reqs[0].OverrideBy)
	})

	t.Run("wrong pin rejects locally", func(t *testing.T) {
		central := &fakeCentral{}
		s, _, _ := testScanner(t, central)

		result, err := s.Scan(context.Background(), ScanInput{
			Payload:     signedPayload(t, "t-1", "ev-1", "tok-1"),
			Method:      models.MethodManual,
			Mode:        models.ModeSingle,
			OperatorID:  "op-1",
			OverridePIN: "0000",
		})

		require.NoError(t, err)
		assert.Equal(t, StatusRejected, result.Status)
		assert.Empty(t, central.seen())
	})

	t.Run("unknown operator rejects locally", func(t *testing.T) {
		central := &fakeCentral{}
		s, _, _ := testScanner(t, central)

		result, err := s.Scan(context.Background(), ScanInput{
			Payload:     signedPayload(t, "t-1", "ev-1", "tok-1"),
			Method:      models.MethodManual,
			Mode:        models.ModeSingle,
			OperatorID:  "op-9",
			OverridePIN: "4711",
		})

		require.NoError(t, err)
		assert.Equal(t, StatusRejected, result.Status)
	})
}

// Non-transient submission failures are neither a decision nor queueable;
// they surface to the caller.
func TestScanner_NonTransientErrorSurfaces(t *testing.T) {
	central := &fakeCentral{}
	central.push(func(req services.ClaimRequest) (*services.ClaimResult, error) {
		return nil, errors.New("claim submission: unexpected status 400")
	})
	s, q, _ := testScanner(t, central)

	_, err := s.Scan(context.Background(), ScanInput{
		Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
		Method:  models.MethodQR,
		Mode:    models.ModeSingle,
	})

	assert.Error(t, err)

	count, countErr := q.PendingCount(context.Background())
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestScanner_QueueStorageFailureSurfaces(t *testing.T) {
	central := &fakeCentral{}
	central.push(transientResponse)
	s, q, _ := testScanner(t, central)

	// Close the store underneath the scanner to force the enqueue to fail.
	require.NoError(t, q.Close())

	_, err := s.Scan(context.Background(), ScanInput{
		Payload: signedPayload(t, "t-1", "ev-1", "tok-1"),
		Method:  models.MethodQR,
		Mode:    models.ModeSingle,
	})

	assert.ErrorIs(t, err, status.ErrQueueStorage)
}
