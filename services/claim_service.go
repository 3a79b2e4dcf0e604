package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"gate-system/internal/status"
	"gate-system/models"
	"gate-system/monitoring"
)

// Claim origins. Replayed claims carry their original device timestamp and
// participate in first-scan-wins conflict resolution.
const (
	OriginLive   = "live"
	OriginReplay = "replay"
)

// TicketStore is the central ticket record with an atomic conditional
// update primitive.
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	CompareAndSwap(ctx context.Context, t *models.Ticket, prevVersion int64) (bool, error)
}

// ClaimRequest is one attempted admission transition.
type ClaimRequest struct {
	TicketID   string    `json:"ticket_id"`
	EventID    string    `json:"event_id"`
	Token      string    `json:"token,omitempty"`
	DeviceID   string    `json:"device_id"`
	Method     string    `json:"method"`
	Mode       string    `json:"mode"`
	ScannedAt  time.Time `json:"scanned_at"`
	Origin     string    `json:"origin"`
	DurationMS int64     `json:"duration_ms"`
	Override   bool      `json:"override"`
	OverrideBy string    `json:"override_by,omitempty"`
}

// ClaimResult is the decision. Outcome is a business result, not an error:
// rejections are expected and always ledgered.
type ClaimResult struct {
	Outcome string              `json:"outcome"`
	Reason  string              `json:"reason,omitempty"`
	Ticket  *models.Ticket      `json:"ticket,omitempty"`
	Attempt *models.ScanAttempt `json:"attempt,omitempty"`
}

// ClaimService is the sole mutator of ticket state. The read-decide-write
// sequence is serialized per ticket by the store's conditional update: of
// N concurrent claims exactly one observes a version match.
type ClaimService struct {
	tickets   TicketStore
	ledger    LedgerStore
	redis     *redis.Client
	pubnub    *pubnub.PubNub
	snapshots *SnapshotService
}

func NewClaimService(tickets TicketStore, ledger LedgerStore, redisClient *redis.Client, pn *pubnub.PubNub, snapshots *SnapshotService) *ClaimService {
	return &ClaimService{
		tickets:   tickets,
		ledger:    ledger,
		redis:     redisClient,
		pubnub:    pn,
		snapshots: snapshots,
	}
}

// casAttempts bounds the optimistic retry loop. A lost race re-reads and
// re-decides; the ticket version only moves forward, so persistent losses
// mean the decision resolves to a rejection within a few rounds.
const casAttempts = 5

// SubmitClaim atomically transitions the ticket if the requested scan is
// legal and returns a typed rejection otherwise. Every outcome, success or
// rejection, appends a ledger entry. Transient store failures return an
// error and ledger nothing: the caller must treat the outcome as unknown
// and retry the same idempotent claim.
func (s *ClaimService) SubmitClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	started := time.Now()
	result, err := s.submit(ctx, req)
	if err != nil {
		monitoring.TrackClaimDuration("error", time.Since(started))
		return nil, err
	}
	monitoring.TrackClaimDuration(result.Outcome, time.Since(started))
	return result, nil
}

func (s *ClaimService) submit(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		ticket, err := s.tickets.GetTicket(ctx, req.TicketID)
		if err != nil {
			if errors.Is(err, status.ErrTicketNotFound) {
				return s.reject(ctx, req, nil, models.OutcomeInvalid, err)
			}
			return nil, fmt.Errorf("claim read: %w", err)
		}

		if req.EventID != "" && req.EventID != ticket.EventID {
			return s.reject(ctx, req, ticket, models.OutcomeInvalid, status.ErrWrongEvent)
		}

		if req.Token != "" && req.Token != ticket.Token {
			return s.reject(ctx, req, ticket, models.OutcomeInvalid, status.ErrTokenMismatch)
		}

		event, err := s.tickets.GetEvent(ctx, ticket.EventID)
		if err != nil {
			if errors.Is(err, status.ErrEventNotFound) {
				// A permanent condition, not a transient one: devices must
				// not retry a ticket whose event no longer exists.
				return s.reject(ctx, req, ticket, models.OutcomeInvalid, err)
			}
			return nil, fmt.Errorf("claim event read: %w", err)
		}

		transition, decideErr := models.Decide(ticket, req.Mode, event.AdmissionPolicy)
		if decideErr != nil {
			if s.shouldSupersede(req, ticket, decideErr) {
				result, retry, err := s.supersede(ctx, req, ticket)
				if err != nil {
					return nil, err
				}
				if retry {
					continue
				}
				return result, nil
			}
			outcome := models.OutcomeInvalid
			if errors.Is(decideErr, status.ErrAlreadyScanned) || errors.Is(decideErr, status.ErrAlreadyInside) {
				outcome = models.OutcomeAlreadyScanned
			}
			return s.reject(ctx, req, ticket, outcome, decideErr)
		}

		updated := *ticket
		models.Apply(&updated, transition, req.ScannedAt, req.DeviceID)

		swapped, err := s.tickets.CompareAndSwap(ctx, &updated, ticket.Version)
		if err != nil {
			return nil, fmt.Errorf("claim swap: %w", err)
		}
		if !swapped {
			// Lost the race; re-read and re-decide.
			continue
		}

		return s.accept(ctx, req, &updated, transition)
	}

	return nil, status.ErrUnknownOutcome
}

// shouldSupersede reports whether a replayed offline claim predates the
// scan currently holding the admission. First-scan-wins: the earliest
// original device timestamp is authoritative regardless of which device
// reconnected first.
func (s *ClaimService) shouldSupersede(req ClaimRequest, ticket *models.Ticket, decideErr error) bool {
	if req.Origin != OriginReplay {
		return false
	}
	if !errors.Is(decideErr, status.ErrAlreadyScanned) && !errors.Is(decideErr, status.ErrAlreadyInside) {
		return false
	}
	return ticket.ScannedAt != nil && req.ScannedAt.Before(*ticket.ScannedAt)
}

// supersede reassigns the winning admission to the earlier-stamped replay:
// the ticket's attribution moves, the new attempt is ledgered as valid and
// the previously winning entry is corrected to already_scanned. Counts do
// not move; the venue still admitted exactly one bearer.
func (s *ClaimService) supersede(ctx context.Context, req ClaimRequest, ticket *models.Ticket) (*ClaimResult, bool, error) {
	previous, err := s.ledger.FindWinning(ctx, ticket.ID)
	if err != nil {
		return nil, false, fmt.Errorf("claim supersede lookup: %w", err)
	}

	updated := *ticket
	scannedAt := req.ScannedAt
	updated.ScannedBy = req.DeviceID
	updated.ScannedAt = &scannedAt
	updated.Version++

	swapped, err := s.tickets.CompareAndSwap(ctx, &updated, ticket.Version)
	if err != nil {
		return nil, false, fmt.Errorf("claim supersede swap: %w", err)
	}
	if !swapped {
		return nil, true, nil
	}

	attempt := s.buildAttempt(req, &updated, models.OutcomeValid, "")
	if err := s.ledger.Append(ctx, attempt); err != nil {
		return nil, false, err
	}
	if previous != nil && previous.ID != attempt.ID {
		if err := s.ledger.Supersede(ctx, previous.ID, attempt.ID); err != nil {
			return nil, false, err
		}
	}

	slog.Info("claim superseded by earlier offline scan",
		"ticket_id", ticket.ID,
		"device_id", req.DeviceID,
		"scanned_at", req.ScannedAt,
	)

	s.afterDecision(ctx, &updated, attempt)
	return &ClaimResult{Outcome: models.OutcomeValid, Ticket: &updated, Attempt: attempt}, false, nil
}

func (s *ClaimService) accept(ctx context.Context, req ClaimRequest, ticket *models.Ticket, transition models.Transition) (*ClaimResult, error) {
	attempt := s.buildAttempt(req, ticket, models.OutcomeValid, "")
	attempt.Metadata["transition"] = transition.Kind
	if err := s.ledger.Append(ctx, attempt); err != nil {
		// The state transition is already durable; the ledger write is
		// authoritative for audit and must not be lost silently.
		slog.Error("ledger append failed after admitted claim",
			"ticket_id", ticket.ID, "error", err)
		return nil, err
	}

	s.afterDecision(ctx, ticket, attempt)
	return &ClaimResult{Outcome: models.OutcomeValid, Ticket: ticket, Attempt: attempt}, nil
}

func (s *ClaimService) reject(ctx context.Context, req ClaimRequest, ticket *models.Ticket, outcome string, cause error) (*ClaimResult, error) {
	attempt := s.buildAttempt(req, ticket, outcome, cause.Error())
	if err := s.ledger.Append(ctx, attempt); err != nil {
		return nil, err
	}

	s.afterDecision(ctx, ticket, attempt)
	return &ClaimResult{Outcome: outcome, Reason: cause.Error(), Ticket: ticket, Attempt: attempt}, nil
}

func (s *ClaimService) buildAttempt(req ClaimRequest, ticket *models.Ticket, outcome, reason string) *models.ScanAttempt {
	eventID := req.EventID
	metadata := map[string]string{"origin": req.Origin}
	if ticket != nil {
		eventID = ticket.EventID
		metadata["tier"] = ticket.Tier
	}
	return &models.ScanAttempt{
		TicketID:   req.TicketID,
		EventID:    eventID,
		Outcome:    outcome,
		Reason:     reason,
		ScannedAt:  req.ScannedAt,
		DeviceID:   req.DeviceID,
		Method:     req.Method,
		Mode:       req.Mode,
		DurationMS: req.DurationMS,
		Override:   req.Override,
		OverrideBy: req.OverrideBy,
		Metadata:   metadata,
	}
}

// afterDecision fans the decision out to the snapshot cache, the per-event
// tallies and the realtime gate feed. All of it is advisory; failures are
// logged and never affect the decision.
func (s *ClaimService) afterDecision(ctx context.Context, ticket *models.Ticket, attempt *models.ScanAttempt) {
	monitoring.TrackScanOutcome(attempt.EventID, attempt.Outcome, attempt.Method)

	if s.snapshots != nil && ticket != nil {
		if err := s.snapshots.Refresh(ctx, ticket); err != nil {
			slog.Warn("snapshot refresh failed", "ticket_id", ticket.ID, "error", err)
		}
	}

	if s.redis != nil {
		kind := "rejected"
		if attempt.Outcome == models.OutcomeValid {
			kind = "admitted"
		}
		tallyKey := fmt.Sprintf("gate:tally:%s", attempt.EventID)
		if err := s.redis.HIncrBy(ctx, tallyKey, kind, 1).Err(); err != nil {
			slog.Warn("tally update failed", "event_id", attempt.EventID, "error", err)
		}
	}

	if s.pubnub != nil {
		channel := fmt.Sprintf("gate-%s", attempt.EventID)
		s.pubnub.Publish().
			Channel(channel).
			Message(map[string]any{
				"type":      "scan",
				"ticket_id": attempt.TicketID,
				"outcome":   attempt.Outcome,
				"reason":    attempt.Reason,
				"device_id": attempt.DeviceID,
				"method":    attempt.Method,
			}).
			Execute()
	}
}
