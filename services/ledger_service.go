package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pocketbase/dbx"

	"gate-system/models"
	"gate-system/utils"
)

// LedgerStore is the append-only scan audit trail. Entries are never
// deleted; the only mutation is the first-scan-wins supersede correction.
type LedgerStore interface {
	Append(ctx context.Context, attempt *models.ScanAttempt) error
	Supersede(ctx context.Context, attemptID, byAttemptID string) error
	FindWinning(ctx context.Context, ticketID string) (*models.ScanAttempt, error)
	List(ctx context.Context, filter LedgerFilter) ([]models.ScanAttempt, string, error)
}

// LedgerFilter narrows a ledger read. Cursor is the opaque position token
// returned by the previous page; an empty cursor starts from the oldest
// entry.
type LedgerFilter struct {
	TicketID string
	DeviceID string
	Outcome  string
	From     time.Time
	To       time.Time
	Cursor   string
	Limit    int
}

// DBXLedger stores scan attempts in the scan_attempts table. The SQLite
// rowid doubles as a stable, strictly increasing cursor for incremental
// feeds.
type DBXLedger struct {
	db dbx.Builder
}

func NewDBXLedger(db dbx.Builder) *DBXLedger {
	return &DBXLedger{db: db}
}

type attemptRow struct {
	RowID        int64          `db:"rowid"`
	ID           string         `db:"id"`
	TicketID     string         `db:"ticket_id"`
	EventID      string         `db:"event_id"`
	Outcome      string         `db:"outcome"`
	Reason       string         `db:"reason"`
	ScannedAt    string         `db:"scanned_at"`
	DeviceID     string         `db:"device_id"`
	Method       string         `db:"method"`
	Mode         string         `db:"mode"`
	DurationMS   int64          `db:"duration_ms"`
	Override     bool           `db:"override"`
	OverrideBy   string         `db:"override_by"`
	SupersededBy string         `db:"superseded_by"`
	Metadata     sql.NullString `db:"metadata"`
}

func (r *attemptRow) toModel() models.ScanAttempt {
	a := models.ScanAttempt{
		ID:           r.ID,
		TicketID:     r.TicketID,
		EventID:      r.EventID,
		Outcome:      r.Outcome,
		Reason:       r.Reason,
		ScannedAt:    parseTime(r.ScannedAt),
		DeviceID:     r.DeviceID,
		Method:       r.Method,
		Mode:         r.Mode,
		DurationMS:   r.DurationMS,
		Override:     r.Override,
		OverrideBy:   r.OverrideBy,
		SupersededBy: r.SupersededBy,
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		_ = json.Unmarshal([]byte(r.Metadata.String), &a.Metadata)
	}
	return a
}

func (l *DBXLedger) Append(ctx context.Context, attempt *models.ScanAttempt) error {
	if attempt.ID == "" {
		id, err := utils.GenerateCode(8)
		if err != nil {
			return err
		}
		attempt.ID = id
	}

	var metadata any
	if len(attempt.Metadata) > 0 {
		raw, err := json.Marshal(attempt.Metadata)
		if err != nil {
			return err
		}
		metadata = string(raw)
	}

	_, err := l.db.Insert("scan_attempts", dbx.Params{
		"id":            attempt.ID,
		"ticket_id":     attempt.TicketID,
		"event_id":      attempt.EventID,
		"outcome":       attempt.Outcome,
		"reason":        attempt.Reason,
		"scanned_at":    attempt.ScannedAt.UTC().Format(time.RFC3339Nano),
		"device_id":     attempt.DeviceID,
		"method":        attempt.Method,
		"mode":          attempt.Mode,
		"duration_ms":   attempt.DurationMS,
		"override":      attempt.Override,
		"override_by":   attempt.OverrideBy,
		"superseded_by": attempt.SupersededBy,
		"metadata":      metadata,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	return nil
}

// Supersede corrects a previously winning attempt after an earlier-stamped
// offline scan for the same ticket was reconciled. The row keeps its
// original context; only the outcome and the supersede marker change.
func (l *DBXLedger) Supersede(ctx context.Context, attemptID, byAttemptID string) error {
	_, err := l.db.Update("scan_attempts", dbx.Params{
		"outcome":       models.OutcomeAlreadyScanned,
		"reason":        "superseded by earlier offline scan",
		"superseded_by": byAttemptID,
	}, dbx.HashExp{"id": attemptID}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("ledger supersede: %w", err)
	}
	return nil
}

// FindWinning returns the attempt currently holding the admission for the
// ticket, or nil when none does.
func (l *DBXLedger) FindWinning(ctx context.Context, ticketID string) (*models.ScanAttempt, error) {
	var row attemptRow
	err := l.db.Select(
		"rowid", "id", "ticket_id", "event_id", "outcome", "reason",
		"scanned_at", "device_id", "method", "mode", "duration_ms",
		"override", "override_by", "superseded_by", "metadata",
	).From("scan_attempts").
		Where(dbx.HashExp{"ticket_id": ticketID, "outcome": models.OutcomeValid}).
		OrderBy("scanned_at ASC").
		WithContext(ctx).One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	attempt := row.toModel()
	return &attempt, nil
}

func (l *DBXLedger) List(ctx context.Context, filter LedgerFilter) ([]models.ScanAttempt, string, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	conds := []dbx.Expression{}
	if filter.TicketID != "" {
		conds = append(conds, dbx.HashExp{"ticket_id": filter.TicketID})
	}
	if filter.DeviceID != "" {
		conds = append(conds, dbx.HashExp{"device_id": filter.DeviceID})
	}
	if filter.Outcome != "" {
		conds = append(conds, dbx.HashExp{"outcome": filter.Outcome})
	}
	if !filter.From.IsZero() {
		conds = append(conds, dbx.NewExp("scanned_at >= {:from}", dbx.Params{
			"from": filter.From.UTC().Format(time.RFC3339Nano),
		}))
	}
	if !filter.To.IsZero() {
		conds = append(conds, dbx.NewExp("scanned_at <= {:to}", dbx.Params{
			"to": filter.To.UTC().Format(time.RFC3339Nano),
		}))
	}
	if filter.Cursor != "" {
		after, err := strconv.ParseInt(filter.Cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("ledger list: invalid cursor %q", filter.Cursor)
		}
		conds = append(conds, dbx.NewExp("rowid > {:after}", dbx.Params{"after": after}))
	}

	q := l.db.Select(
		"rowid", "id", "ticket_id", "event_id", "outcome", "reason",
		"scanned_at", "device_id", "method", "mode", "duration_ms",
		"override", "override_by", "superseded_by", "metadata",
	).From("scan_attempts").OrderBy("rowid ASC").Limit(int64(limit))
	if len(conds) > 0 {
		q = q.Where(dbx.And(conds...))
	}

	var rows []attemptRow
	if err := q.WithContext(ctx).All(&rows); err != nil {
		return nil, "", err
	}

	attempts := make([]models.ScanAttempt, 0, len(rows))
	var nextCursor string
	for _, row := range rows {
		attempts = append(attempts, row.toModel())
		nextCursor = strconv.FormatInt(row.RowID, 10)
	}
	return attempts, nextCursor, nil
}
