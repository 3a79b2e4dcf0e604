package device

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gate-system/internal/status"
	"gate-system/models"
	"gate-system/monitoring"
	"gate-system/security"
	"gate-system/services"
)

// Scan result statuses shown to gate staff. Queued results are explicitly
// provisional until the reconciler has replayed them.
const (
	StatusAdmitted = "admitted"
	StatusRejected = "rejected"
	StatusQueued   = "queued"
)

// ScanInput is one physical scan interaction at the gate.
type ScanInput struct {
	Payload     string // raw QR/NFC payload
	Method      string // qr | nfc | manual
	Mode        string // single | entry | exit
	OperatorID  string // required for manual method
	OverridePIN string // required for manual method
}

// ScanResult is what the staff display renders. Reason is always a
// specific human-readable explanation; Provisional marks offline
// decisions awaiting reconciliation.
type ScanResult struct {
	Status      string `json:"status"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	Provisional bool   `json:"provisional"`
	QueuedSeq   int64  `json:"queued_seq,omitempty"`
}

// Scanner drives a handheld's admission decisions: local credential
// verification, live claims when the link is up and durable queueing with
// a provisional decision when it is not.
type Scanner struct {
	deviceID     string
	verifier     security.Verifier
	overrides    *security.OverrideAuthorizer
	client       CentralClient
	queue        *Queue
	cache        *SnapshotCache
	claimTimeout time.Duration
}

func NewScanner(deviceID string, verifier security.Verifier, overrides *security.OverrideAuthorizer, client CentralClient, queue *Queue, cache *SnapshotCache, claimTimeout time.Duration) *Scanner {
	if claimTimeout <= 0 {
		claimTimeout = 3 * time.Second
	}
	return &Scanner{
		deviceID:     deviceID,
		verifier:     verifier,
		overrides:    overrides,
		client:       client,
		queue:        queue,
		cache:        cache,
		claimTimeout: claimTimeout,
	}
}

// Scan decides one presented credential. Verification failures and manual
// override denials reject instantly and never reach the network. A live
// claim that fails transiently, times out, or hits an open breaker is
// queued with a provisional decision; the outcome of a timed-out claim is
// unknown and must not be assumed in either direction.
func (s *Scanner) Scan(ctx context.Context, input ScanInput) (*ScanResult, error) {
	started := time.Now()
	scannedAt := started

	cred, err := security.ParsePayload(input.Payload)
	if err == nil {
		err = s.verifier.Verify(cred)
	}
	if err != nil {
		monitoring.TrackVerificationFailure(err.Error())
		slog.Warn("credential rejected locally",
			"device_id", s.deviceID, "method", input.Method, "reason", err)
		return &ScanResult{
			Status:  StatusRejected,
			Outcome: models.OutcomeInvalid,
			Reason:  err.Error(),
		}, nil
	}

	if input.Method == models.MethodManual {
		if s.overrides == nil {
			return nil, status.ErrOverrideDenied
		}
		if err := s.overrides.Authorize(input.OperatorID, input.OverridePIN); err != nil {
			monitoring.TrackVerificationFailure("override_denied")
			return &ScanResult{
				Status:  StatusRejected,
				Outcome: models.OutcomeInvalid,
				Reason:  err.Error(),
			}, nil
		}
	}

	mode := s.resolveMode(ctx, cred.TicketID, input.Mode)

	req := services.ClaimRequest{
		TicketID:   cred.TicketID,
		EventID:    cred.EventID,
		Token:      cred.Token,
		DeviceID:   s.deviceID,
		Method:     input.Method,
		Mode:       mode,
		ScannedAt:  scannedAt,
		Origin:     services.OriginLive,
		Override:   input.Method == models.MethodManual,
		OverrideBy: input.OperatorID,
	}

	claimCtx, cancel := context.WithTimeout(ctx, s.claimTimeout)
	defer cancel()

	req.DurationMS = time.Since(started).Milliseconds()
	result, err := s.client.SubmitClaim(claimCtx, req)
	if err == nil {
		// Keep the local snapshot fresh for the next outage.
		if result.Ticket != nil {
			snap := &models.Snapshot{
				TicketID:   result.Ticket.ID,
				EventID:    result.Ticket.EventID,
				Status:     result.Ticket.Status,
				Presence:   result.Ticket.Presence,
				EntryCount: result.Ticket.EntryCount,
				ExitCount:  result.Ticket.ExitCount,
				Version:    result.Ticket.Version,
				FetchedAt:  time.Now().UTC(),
			}
			if cacheErr := s.cache.Put(ctx, snap); cacheErr != nil {
				slog.Warn("snapshot cache update failed", "ticket_id", snap.TicketID, "error", cacheErr)
			}
		}
		if result.Outcome == models.OutcomeValid {
			return &ScanResult{Status: StatusAdmitted, Outcome: result.Outcome}, nil
		}
		return &ScanResult{Status: StatusRejected, Outcome: result.Outcome, Reason: result.Reason}, nil
	}

	if !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	return s.queueOffline(ctx, cred, input, mode, scannedAt)
}

// resolveMode fills in an omitted scan mode. Re-entry tickets carry a
// presence in the cached snapshot and the next legal step is a pure
// function of it: outside means entry, inside means exit. Without
// presence evidence the gate assumes a one-shot admission.
func (s *Scanner) resolveMode(ctx context.Context, ticketID, requested string) string {
	if requested != "" {
		return requested
	}
	if snap, ok := s.cache.Get(ctx, ticketID); ok && snap.Presence != "" {
		return models.InferMode(snap.Presence)
	}
	return models.ModeSingle
}

// queueOffline durably buffers the scan and returns the provisional
// decision computed against the cached snapshot.
func (s *Scanner) queueOffline(ctx context.Context, cred security.Credential, input ScanInput, mode string, scannedAt time.Time) (*ScanResult, error) {
	provisional := s.cache.Decide(ctx, cred.TicketID, mode)

	scan := &models.QueuedScan{
		TicketID:    cred.TicketID,
		EventID:     cred.EventID,
		Token:       cred.Token,
		Signature:   cred.Signature,
		Method:      input.Method,
		Mode:        mode,
		DeviceID:    s.deviceID,
		ScannedAt:   scannedAt,
		Provisional: provisional,
	}

	seq, err := s.queue.Enqueue(ctx, scan)
	if err != nil {
		// Fatal local failure: surface immediately rather than pretending
		// the scan is safely queued.
		return nil, err
	}

	if count, countErr := s.queue.PendingCount(ctx); countErr == nil {
		monitoring.TrackQueueDepth(s.deviceID, count)
	}

	slog.Info("scan queued for sync",
		"device_id", s.deviceID, "ticket_id", cred.TicketID,
		"seq", seq, "provisional", provisional)

	return &ScanResult{
		Status:      StatusQueued,
		Outcome:     provisional,
		Reason:      "offline: decision provisional until synced",
		Provisional: true,
		QueuedSeq:   seq,
	}, nil
}
