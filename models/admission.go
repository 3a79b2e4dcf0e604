package models

import (
	"time"

	"gate-system/internal/status"
)

// Transition kinds produced by Decide.
const (
	TransitionAdmit = "admit" // terminal single-entry admission
	TransitionEnter = "enter" // re-entry: outside -> inside
	TransitionExit  = "exit"  // re-entry: inside -> outside
)

// Transition is the state change a legal scan produces. It is computed
// without side effects; Apply stamps it onto a ticket.
type Transition struct {
	Kind        string
	NewStatus   string
	NewPresence string
}

// InferMode maps a ticket's presence to the scan mode a re-entry gate
// should request: outside means entry, inside means exit.
func InferMode(presence string) string {
	if presence == PresenceInside {
		return ModeExit
	}
	return ModeEntry
}

// Decide applies the admission rules to the ticket's current state and the
// requested mode under the event's admission policy. It returns the legal
// transition or a typed business rejection, and never mutates the ticket.
func Decide(t *Ticket, mode, policy string) (Transition, error) {
	if t.Terminal() {
		return Transition{}, status.ErrTicketInvalid
	}

	// The requested mode must be coherent with how the event was sold.
	switch mode {
	case ModeSingle:
		if policy != PolicySingleEntry {
			return Transition{}, status.ErrModeNotPermitted
		}
	case ModeEntry, ModeExit:
		if policy != PolicyReEntry {
			return Transition{}, status.ErrModeNotPermitted
		}
	default:
		return Transition{}, status.ErrModeNotPermitted
	}

	switch mode {
	case ModeSingle:
		if t.Status != TicketIssued {
			return Transition{}, status.ErrAlreadyScanned
		}
		return Transition{Kind: TransitionAdmit, NewStatus: TicketScanned}, nil

	case ModeEntry:
		if t.Presence == PresenceInside {
			return Transition{}, status.ErrAlreadyInside
		}
		return Transition{
			Kind:        TransitionEnter,
			NewStatus:   TicketScanned,
			NewPresence: PresenceInside,
		}, nil

	case ModeExit:
		if t.Presence != PresenceInside {
			return Transition{}, status.ErrExitNotInside
		}
		return Transition{
			Kind:        TransitionExit,
			NewStatus:   TicketScanned,
			NewPresence: PresenceOutside,
		}, nil
	}

	return Transition{}, status.ErrModeNotPermitted
}

// Apply stamps a decided transition onto the ticket: status, presence,
// entry/exit counters, timestamps, winning-scan attribution and version.
// Counters only move for re-entry transitions and never decrement.
func Apply(t *Ticket, tr Transition, at time.Time, deviceID string) {
	t.Status = tr.NewStatus
	t.Presence = tr.NewPresence
	t.LastScanAt = &at

	switch tr.Kind {
	case TransitionAdmit:
		t.ScannedBy = deviceID
		t.ScannedAt = &at
	case TransitionEnter:
		t.EntryCount++
		t.LastEntryAt = &at
		if t.ScannedAt == nil {
			t.ScannedBy = deviceID
			t.ScannedAt = &at
		}
	case TransitionExit:
		t.ExitCount++
		t.LastExitAt = &at
	}

	t.Version++
}
