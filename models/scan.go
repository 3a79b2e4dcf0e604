package models

import (
	"time"
)

// Scan capture methods. A closed set; the claim coordinator is agnostic
// to how the credential was physically captured.
const (
	MethodQR     = "qr"
	MethodNFC    = "nfc"
	MethodManual = "manual"
)

// Requested scan modes. Single is the terminal one-shot admission;
// entry and exit drive the re-entry presence cycle.
const (
	ModeSingle = "single"
	ModeEntry  = "entry"
	ModeExit   = "exit"
)

// Scan attempt outcomes recorded in the ledger.
const (
	OutcomeValid          = "valid"
	OutcomeInvalid        = "invalid"
	OutcomeAlreadyScanned = "already_scanned"
)

// Sync statuses of a queued offline scan.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// ScanAttempt is one immutable ledger entry: a single verification or
// admission decision with full context. The only permitted correction is
// the first-scan-wins supersede marker, which flips the outcome of a
// later-stamped offline scan to already_scanned without deleting the row.
type ScanAttempt struct {
	ID           string            `json:"id"`
	TicketID     string            `json:"ticket_id"`
	EventID      string            `json:"event_id"`
	Outcome      string            `json:"outcome"`
	Reason       string            `json:"reason,omitempty"`
	ScannedAt    time.Time         `json:"scanned_at"`
	DeviceID     string            `json:"device_id"`
	Method       string            `json:"method"`
	Mode         string            `json:"mode"`
	DurationMS   int64             `json:"duration_ms"`
	Override     bool              `json:"override"`
	OverrideBy   string            `json:"override_by,omitempty"`
	SupersededBy string            `json:"superseded_by,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// QueuedScan is a provisional device-local record of a scan made without
// connectivity. Seq is the monotonically increasing local sequence number
// used as the reconciliation cursor.
type QueuedScan struct {
	Seq         int64      `json:"seq"`
	TicketID    string     `json:"ticket_id"`
	EventID     string     `json:"event_id"`
	Token       string     `json:"token"`
	Signature   string     `json:"signature"`
	Method      string     `json:"method"`
	Mode        string     `json:"mode"`
	DeviceID    string     `json:"device_id"`
	ScannedAt   time.Time  `json:"scanned_at"`
	Provisional string     `json:"provisional"`
	SyncStatus  string     `json:"sync_status"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}
