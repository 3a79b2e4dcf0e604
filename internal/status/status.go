package status

import "errors"

// Credential verification failures. These are decided on the device and
// never reach the network.
var (
	ErrMissingCredential = errors.New("credential: missing token or signature")
	ErrInvalidSignature  = errors.New("credential: signature mismatch")
	ErrMalformedPayload  = errors.New("credential: malformed payload")
)

// Business rejections. Expected outcomes of a claim, always ledgered,
// never retried.
var (
	ErrAlreadyScanned   = errors.New("claim: ticket already scanned")
	ErrAlreadyInside    = errors.New("claim: ticket already inside venue")
	ErrTicketInvalid    = errors.New("claim: ticket cancelled or refunded")
	ErrTicketNotFound   = errors.New("claim: ticket not found")
	ErrEventNotFound    = errors.New("claim: event not found")
	ErrWrongEvent       = errors.New("claim: ticket belongs to another event")
	ErrTokenMismatch    = errors.New("claim: credential token does not match ticket")
	ErrModeNotPermitted = errors.New("claim: re-entry not permitted for single-entry event")
	ErrExitNotInside    = errors.New("claim: exit requested but ticket is not inside")
)

// Transient and local failures.
var (
	ErrUnknownOutcome = errors.New("claim: submission outcome unknown, retry required")
	ErrQueueStorage   = errors.New("offline queue: device storage failure")
	ErrSyncAbandoned  = errors.New("sync: retry budget exhausted, marked for manual review")
	ErrOverrideDenied = errors.New("override: operator PIN rejected")
)
