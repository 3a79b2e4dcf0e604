package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"

	"gate-system/internal/status"
	"gate-system/models"
)

// SnapshotCache is the device's last-known view of ticket state, persisted
// in the same local store as the offline queue. It is refreshed
// opportunistically while online and consulted for provisional decisions
// mid-outage. It is always advisory; the claim coordinator is the truth.
type SnapshotCache struct {
	queue  *Queue
	client CentralClient
}

func NewSnapshotCache(queue *Queue, client CentralClient) *SnapshotCache {
	return &SnapshotCache{queue: queue, client: client}
}

// Get returns the cached snapshot for the ticket, if any.
func (c *SnapshotCache) Get(ctx context.Context, ticketID string) (*models.Snapshot, bool) {
	var data string
	err := c.queue.db.Select("data").From("ticket_snapshots").
		Where(dbx.HashExp{"ticket_id": ticketID}).
		WithContext(ctx).Row(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("snapshot cache read failed", "ticket_id", ticketID, "error", err)
		}
		return nil, false
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// Put stores or replaces the cached snapshot.
func (c *SnapshotCache) Put(ctx context.Context, snap *models.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = c.queue.db.NewQuery(
		"INSERT INTO ticket_snapshots (ticket_id, data, fetched_at) " +
			"VALUES ({:id}, {:data}, {:at}) " +
			"ON CONFLICT(ticket_id) DO UPDATE SET data = {:data}, fetched_at = {:at}",
	).Bind(dbx.Params{
		"id":   snap.TicketID,
		"data": string(raw),
		"at":   time.Now().UTC().Format(time.RFC3339Nano),
	}).WithContext(ctx).Execute()
	return err
}

// Refresh pulls a fresh snapshot from the central store and caches it.
// Failures are tolerated: the cache keeps serving its last-known state.
func (c *SnapshotCache) Refresh(ctx context.Context, ticketID string) (*models.Snapshot, error) {
	snap, err := c.client.ReadSnapshot(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, snap); err != nil {
		slog.Warn("snapshot cache write failed", "ticket_id", ticketID, "error", err)
	}
	return snap, nil
}

// Decide computes the provisional admission decision for an offline scan
// against the cached snapshot. With no cached state the scan is
// provisionally admitted and left to reconciliation; the result is
// explicitly advisory either way.
func (c *SnapshotCache) Decide(ctx context.Context, ticketID, mode string) string {
	snap, ok := c.Get(ctx, ticketID)
	if !ok {
		return models.OutcomeValid
	}

	ticket := &models.Ticket{
		ID:         snap.TicketID,
		EventID:    snap.EventID,
		Status:     snap.Status,
		Presence:   snap.Presence,
		EntryCount: snap.EntryCount,
		ExitCount:  snap.ExitCount,
		Version:    snap.Version,
	}

	// The device cannot see event configuration offline, so the policy is
	// inferred from the requested mode; the coordinator re-validates mode
	// coherence during reconciliation.
	policy := models.PolicySingleEntry
	if mode == models.ModeEntry || mode == models.ModeExit {
		policy = models.PolicyReEntry
	}

	if _, err := models.Decide(ticket, mode, policy); err != nil {
		if errors.Is(err, status.ErrAlreadyScanned) || errors.Is(err, status.ErrAlreadyInside) {
			return models.OutcomeAlreadyScanned
		}
		return models.OutcomeInvalid
	}
	return models.OutcomeValid
}
