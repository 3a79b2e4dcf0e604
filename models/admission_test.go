package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-system/internal/status"
)

func issuedTicket() *Ticket {
	return &Ticket{
		ID:       "t-100",
		EventID:  "ev-1",
		Tier:     TierGA,
		Token:    "tok",
		Status:   TicketIssued,
		Presence: PresenceOutside,
		IssuedAt: time.Now().UTC(),
	}
}

func TestDecide_SingleEntry(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		mode    string
		policy  string
		wantErr error
		want    string
	}{
		{
			name:   "issued ticket admits",
			status: TicketIssued,
			mode:   ModeSingle,
			policy: PolicySingleEntry,
			want:   TransitionAdmit,
		},
		{
			name:    "scanned ticket rejects",
			status:  TicketScanned,
			mode:    ModeSingle,
			policy:  PolicySingleEntry,
			wantErr: status.ErrAlreadyScanned,
		},
		{
			name:    "cancelled ticket rejects",
			status:  TicketCancelled,
			mode:    ModeSingle,
			policy:  PolicySingleEntry,
			wantErr: status.ErrTicketInvalid,
		},
		{
			name:    "refunded ticket rejects",
			status:  TicketRefunded,
			mode:    ModeSingle,
			policy:  PolicySingleEntry,
			wantErr: status.ErrTicketInvalid,
		},
		{
			name:    "single mode on re-entry event rejects",
			status:  TicketIssued,
			mode:    ModeSingle,
			policy:  PolicyReEntry,
			wantErr: status.ErrModeNotPermitted,
		},
		{
			name:    "entry mode on single-entry event rejects",
			status:  TicketIssued,
			mode:    ModeEntry,
			policy:  PolicySingleEntry,
			wantErr: status.ErrModeNotPermitted,
		},
		{
			name:    "unknown mode rejects",
			status:  TicketIssued,
			mode:    "teleport",
			policy:  PolicySingleEntry,
			wantErr: status.ErrModeNotPermitted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := issuedTicket()
			ticket.Status = tt.status

			tr, err := Decide(ticket, tt.mode, tt.policy)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.Kind)
			assert.Equal(t, TicketScanned, tr.NewStatus)
		})
	}
}

func TestDecide_ReEntry(t *testing.T) {
	t.Run("entry while outside", func(t *testing.T) {
		ticket := issuedTicket()

		tr, err := Decide(ticket, ModeEntry, PolicyReEntry)
		require.NoError(t, err)
		assert.Equal(t, TransitionEnter, tr.Kind)
		assert.Equal(t, PresenceInside, tr.NewPresence)
	})

	t.Run("entry while inside rejects", func(t *testing.T) {
		ticket := issuedTicket()
		ticket.Presence = PresenceInside

		_, err := Decide(ticket, ModeEntry, PolicyReEntry)
		assert.ErrorIs(t, err, status.ErrAlreadyInside)
	})

	t.Run("exit while inside", func(t *testing.T) {
		ticket := issuedTicket()
		ticket.Status = TicketScanned
		ticket.Presence = PresenceInside

		tr, err := Decide(ticket, ModeExit, PolicyReEntry)
		require.NoError(t, err)
		assert.Equal(t, TransitionExit, tr.Kind)
		assert.Equal(t, PresenceOutside, tr.NewPresence)
	})

	t.Run("exit while outside rejects", func(t *testing.T) {
		ticket := issuedTicket()

		_, err := Decide(ticket, ModeExit, PolicyReEntry)
		assert.ErrorIs(t, err, status.ErrExitNotInside)
	})

	t.Run("cancelled pre-empts re-entry", func(t *testing.T) {
		ticket := issuedTicket()
		ticket.Status = TicketCancelled
		ticket.Presence = PresenceInside

		_, err := Decide(ticket, ModeExit, PolicyReEntry)
		assert.ErrorIs(t, err, status.ErrTicketInvalid)
	})
}

func TestDecide_NeverMutates(t *testing.T) {
	ticket := issuedTicket()
	before := *ticket

	Decide(ticket, ModeEntry, PolicyReEntry)
	Decide(ticket, ModeSingle, PolicyReEntry)

	assert.Equal(t, before, *ticket)
}

func TestApply_Admit(t *testing.T) {
	ticket := issuedTicket()
	ticket.Presence = ""
	at := time.Now().UTC()

	tr, err := Decide(ticket, ModeSingle, PolicySingleEntry)
	require.NoError(t, err)

	Apply(ticket, tr, at, "gate-7")

	assert.Equal(t, TicketScanned, ticket.Status)
	assert.Equal(t, "gate-7", ticket.ScannedBy)
	require.NotNil(t, ticket.ScannedAt)
	assert.Equal(t, at, *ticket.ScannedAt)
	assert.Equal(t, int64(1), ticket.Version)
	assert.Equal(t, 0, ticket.EntryCount)
}

func TestApply_CountersMoveInLockstep(t *testing.T) {
	ticket := issuedTicket()
	deviceID := "gate-7"

	// entry, exit, entry: counts must track transitions exactly.
	for i, mode := range []string{ModeEntry, ModeExit, ModeEntry} {
		tr, err := Decide(ticket, mode, PolicyReEntry)
		require.NoError(t, err, "step %d", i)
		Apply(ticket, tr, time.Now().UTC(), deviceID)
	}

	assert.Equal(t, 2, ticket.EntryCount)
	assert.Equal(t, 1, ticket.ExitCount)
	assert.Equal(t, int64(3), ticket.Version)
	assert.Equal(t, PresenceInside, ticket.Presence)
	assert.NotNil(t, ticket.LastEntryAt)
	assert.NotNil(t, ticket.LastExitAt)
}

func TestApply_FirstEntryWinsAttribution(t *testing.T) {
	ticket := issuedTicket()

	tr, err := Decide(ticket, ModeEntry, PolicyReEntry)
	require.NoError(t, err)
	first := time.Now().UTC()
	Apply(ticket, tr, first, "gate-1")

	tr, err = Decide(ticket, ModeExit, PolicyReEntry)
	require.NoError(t, err)
	Apply(ticket, tr, first.Add(time.Hour), "gate-2")

	tr, err = Decide(ticket, ModeEntry, PolicyReEntry)
	require.NoError(t, err)
	Apply(ticket, tr, first.Add(2*time.Hour), "gate-3")

	// Attribution sticks with the first admitting scan.
	assert.Equal(t, "gate-1", ticket.ScannedBy)
	assert.Equal(t, first, *ticket.ScannedAt)
}

func TestInferMode(t *testing.T) {
	assert.Equal(t, ModeEntry, InferMode(PresenceOutside))
	assert.Equal(t, ModeEntry, InferMode(""))
	assert.Equal(t, ModeExit, InferMode(PresenceInside))
}

func TestTerminal(t *testing.T) {
	for _, st := range []string{TicketCancelled, TicketRefunded} {
		ticket := issuedTicket()
		ticket.Status = st
		assert.True(t, ticket.Terminal(), st)
	}
	for _, st := range []string{TicketIssued, TicketScanned} {
		ticket := issuedTicket()
		ticket.Status = st
		assert.False(t, ticket.Terminal(), st)
	}
}

// Rejections must be comparable with errors.Is so callers can map them to
// ledger outcomes without string matching.
func TestDecide_TypedErrors(t *testing.T) {
	ticket := issuedTicket()
	ticket.Status = TicketScanned

	_, err := Decide(ticket, ModeSingle, PolicySingleEntry)
	assert.True(t, errors.Is(err, status.ErrAlreadyScanned))
}
