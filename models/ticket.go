package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticket lifecycle statuses. Cancelled and refunded are terminal and
// pre-empt any future scan.
const (
	TicketIssued    = "issued"
	TicketScanned   = "scanned"
	TicketCancelled = "cancelled"
	TicketRefunded  = "refunded"
)

// Presence statuses for re-entry tickets. Empty for single-entry tickets,
// where TicketScanned is terminal.
const (
	PresenceOutside = "outside"
	PresenceInside  = "inside"
)

// Seating tiers sold for an event.
const (
	TierGA  = "ga"
	TierVIP = "vip"
)

// Ticket is one admission right. Created by the external issuance process,
// mutated exclusively by the claim coordinator, never deleted.
type Ticket struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	Tier      string          `json:"tier"`
	Price     decimal.Decimal `json:"price"`
	Token     string          `json:"token"`
	Signature string          `json:"signature"`
	Status    string          `json:"status"`
	Presence  string          `json:"presence,omitempty"`

	EntryCount int `json:"entry_count"`
	ExitCount  int `json:"exit_count"`

	// Version guards the conditional update. Every successful transition
	// increments it.
	Version int64 `json:"version"`

	// Winning scan attribution. ScannedAt carries the original device
	// timestamp so replayed offline scans can be ordered first-scan-wins.
	ScannedBy string     `json:"scanned_by,omitempty"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`

	IssuedAt    time.Time  `json:"issued_at"`
	LastScanAt  *time.Time `json:"last_scan_at,omitempty"`
	LastEntryAt *time.Time `json:"last_entry_at,omitempty"`
	LastExitAt  *time.Time `json:"last_exit_at,omitempty"`
}

// Terminal reports whether the lifecycle status blocks all future scans.
func (t *Ticket) Terminal() bool {
	return t.Status == TicketCancelled || t.Status == TicketRefunded
}

// Snapshot is the read-only view of ticket state served to devices for
// provisional offline decisioning.
type Snapshot struct {
	TicketID   string    `json:"ticket_id"`
	EventID    string    `json:"event_id"`
	Status     string    `json:"status"`
	Presence   string    `json:"presence,omitempty"`
	EntryCount int       `json:"entry_count"`
	ExitCount  int       `json:"exit_count"`
	Version    int64     `json:"version"`
	FetchedAt  time.Time `json:"fetched_at"`
}
