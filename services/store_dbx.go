package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"

	"gate-system/internal/status"
	"gate-system/models"
)

// DBXStore persists tickets, events and the scan ledger through a dbx
// builder, normally PocketBase's application database.
type DBXStore struct {
	db dbx.Builder
}

func NewDBXStore(db dbx.Builder) *DBXStore {
	return &DBXStore{db: db}
}

type ticketRow struct {
	ID         string         `db:"id"`
	EventID    string         `db:"event_id"`
	Tier       string         `db:"tier"`
	Price      string         `db:"price"`
	Token      string         `db:"token"`
	Signature  string         `db:"signature"`
	Status     string         `db:"status"`
	Presence   string         `db:"presence"`
	EntryCount int            `db:"entry_count"`
	ExitCount  int            `db:"exit_count"`
	Version    int64          `db:"version"`
	ScannedBy  string         `db:"scanned_by"`
	ScannedAt  sql.NullString `db:"scanned_at"`
	IssuedAt   string         `db:"issued_at"`
	LastScanAt sql.NullString `db:"last_scan_at"`
	LastEntry  sql.NullString `db:"last_entry_at"`
	LastExit   sql.NullString `db:"last_exit_at"`
}

func (r *ticketRow) toModel() *models.Ticket {
	price, _ := decimal.NewFromString(r.Price)
	t := &models.Ticket{
		ID:         r.ID,
		EventID:    r.EventID,
		Tier:       r.Tier,
		Price:      price,
		Token:      r.Token,
		Signature:  r.Signature,
		Status:     r.Status,
		Presence:   r.Presence,
		EntryCount: r.EntryCount,
		ExitCount:  r.ExitCount,
		Version:    r.Version,
		ScannedBy:  r.ScannedBy,
		IssuedAt:   parseTime(r.IssuedAt),
	}
	t.ScannedAt = parseNullTime(r.ScannedAt)
	t.LastScanAt = parseNullTime(r.LastScanAt)
	t.LastEntryAt = parseNullTime(r.LastEntry)
	t.LastExitAt = parseNullTime(r.LastExit)
	return t
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *DBXStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var row ticketRow
	err := s.db.Select(
		"id", "event_id", "tier", "price", "token", "signature", "status",
		"presence", "entry_count", "exit_count", "version", "scanned_by",
		"scanned_at", "issued_at", "last_scan_at", "last_entry_at", "last_exit_at",
	).From("tickets").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTicketNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (s *DBXStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var row struct {
		ID              string `db:"id"`
		Name            string `db:"name"`
		Venue           string `db:"venue"`
		AdmissionPolicy string `db:"admission_policy"`
		Status          string `db:"status"`
	}
	err := s.db.Select("id", "name", "venue", "admission_policy", "status").
		From("events").Where(dbx.HashExp{"id": id}).WithContext(ctx).One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrEventNotFound
		}
		return nil, err
	}
	return &models.Event{
		ID:              row.ID,
		Name:            row.Name,
		Venue:           row.Venue,
		AdmissionPolicy: row.AdmissionPolicy,
		Status:          row.Status,
	}, nil
}

// CompareAndSwap writes the ticket's new state if and only if the stored
// version still matches prevVersion. The single conditional UPDATE is the
// serialization point for all concurrent claims on a ticket.
func (s *DBXStore) CompareAndSwap(ctx context.Context, t *models.Ticket, prevVersion int64) (bool, error) {
	res, err := s.db.Update("tickets", dbx.Params{
		"status":        t.Status,
		"presence":      t.Presence,
		"entry_count":   t.EntryCount,
		"exit_count":    t.ExitCount,
		"version":       t.Version,
		"scanned_by":    t.ScannedBy,
		"scanned_at":    formatNullTime(t.ScannedAt),
		"last_scan_at":  formatNullTime(t.LastScanAt),
		"last_entry_at": formatNullTime(t.LastEntryAt),
		"last_exit_at":  formatNullTime(t.LastExitAt),
	}, dbx.NewExp("id={:id} AND version={:version}", dbx.Params{
		"id":      t.ID,
		"version": prevVersion,
	})).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
