package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gate-system/models"
)

// SnapshotService serves read-only ticket state to devices for provisional
// offline decisioning. Reads go through a Redis cache with a short TTL and
// fall back to the ticket store; every successful claim refreshes the
// cached entry.
type SnapshotService struct {
	redis   *redis.Client
	tickets TicketStore
	ttl     time.Duration
}

func NewSnapshotService(redisClient *redis.Client, tickets TicketStore, ttl time.Duration) *SnapshotService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotService{redis: redisClient, tickets: tickets, ttl: ttl}
}

func snapshotKey(ticketID string) string {
	return fmt.Sprintf("ticket:snapshot:%s", ticketID)
}

// Read returns the ticket snapshot, cached when possible.
func (s *SnapshotService) Read(ctx context.Context, ticketID string) (*models.Snapshot, error) {
	if s.redis != nil {
		// Cache misses and cache trouble both fall through to the store.
		raw, err := s.redis.Get(ctx, snapshotKey(ticketID)).Result()
		if err == nil {
			var snap models.Snapshot
			if jsonErr := json.Unmarshal([]byte(raw), &snap); jsonErr == nil {
				return &snap, nil
			}
		}
	}

	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	snap := snapshotOf(ticket)
	if s.redis != nil {
		if raw, err := json.Marshal(snap); err == nil {
			s.redis.Set(ctx, snapshotKey(ticketID), string(raw), s.ttl)
		}
	}
	return snap, nil
}

// Refresh overwrites the cached snapshot after a state transition.
func (s *SnapshotService) Refresh(ctx context.Context, ticket *models.Ticket) error {
	if s.redis == nil {
		return nil
	}
	raw, err := json.Marshal(snapshotOf(ticket))
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, snapshotKey(ticket.ID), string(raw), s.ttl).Err()
}

func snapshotOf(t *models.Ticket) *models.Snapshot {
	return &models.Snapshot{
		TicketID:   t.ID,
		EventID:    t.EventID,
		Status:     t.Status,
		Presence:   t.Presence,
		EntryCount: t.EntryCount,
		ExitCount:  t.ExitCount,
		Version:    t.Version,
		FetchedAt:  time.Now().UTC(),
	}
}
