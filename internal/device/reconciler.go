package device

import (
	"context"
	"log/slog"
	"time"

	"gate-system/internal/status"
	"gate-system/models"
	"gate-system/monitoring"
	"gate-system/services"
)

// ReconcilerConfig carries the retry and retention policy.
type ReconcilerConfig struct {
	Interval    time.Duration // drain cadence while connectivity holds
	BackoffBase time.Duration // first retry delay, doubles per attempt
	BackoffCap  time.Duration // retry delay ceiling
	MaxAttempts int           // retries before an entry is marked failed
	Retention   time.Duration // synced entries older than this are pruned
}

func (c *ReconcilerConfig) withDefaults() ReconcilerConfig {
	out := *c
	if out.Interval <= 0 {
		out.Interval = 15 * time.Second
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffCap <= 0 {
		out.BackoffCap = 60 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 10
	}
	if out.Retention <= 0 {
		out.Retention = 7 * 24 * time.Hour
	}
	return out
}

// Reconciler drains the offline queue through the real claim coordinator
// once connectivity returns. Replays are idempotent: an already-applied
// transition resolves to the same terminal rejection, never a second
// admission, so crashing and restarting mid-drain is safe.
type Reconciler struct {
	deviceID string
	queue    *Queue
	client   CentralClient
	cfg      ReconcilerConfig

	// sleep is injectable so tests can assert the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewReconciler(deviceID string, queue *Queue, client CentralClient, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		deviceID: deviceID,
		queue:    queue,
		client:   client,
		cfg:      cfg.withDefaults(),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the background sync loop. It has a cancellation point between
// every queued entry, so a device going offline mid-sync resumes cleanly
// from the next unsynced entry on the following cycle.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.Info("sync reconciler started", "device_id", r.deviceID)

	for {
		select {
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("sync drain interrupted", "device_id", r.deviceID, "error", err)
			}
		case <-ctx.Done():
			slog.Info("sync reconciler stopping", "device_id", r.deviceID)
			return
		}
	}
}

// DrainOnce replays all pending entries in ascending original-timestamp
// order, then prunes synced entries past the retention window.
func (r *Reconciler) DrainOnce(ctx context.Context) error {
	pending, err := r.queue.ListPending(ctx, 0)
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.replay(ctx, entry); err != nil {
			// Context cancellation or storage failure; the entry stays
			// pending with its retry budget persisted.
			return err
		}
	}

	if pruned, err := r.queue.PruneSynced(ctx, r.cfg.Retention); err == nil && pruned > 0 {
		slog.Info("pruned synced scans", "device_id", r.deviceID, "count", pruned)
	}

	if count, err := r.queue.PendingCount(ctx); err == nil {
		monitoring.TrackQueueDepth(r.deviceID, count)
	}

	return nil
}

// replay submits one queued entry. The first submission goes out
// immediately so a healthy drain pays no per-entry latency; transient
// failures are retried with exponential backoff (1s doubling to a 60s
// cap). Business rejections are successful reconciliation outcomes. The
// retry budget persists across restarts; once exhausted the entry is
// marked failed for manual review.
func (r *Reconciler) replay(ctx context.Context, entry models.QueuedScan) error {
	req := services.ClaimRequest{
		TicketID:  entry.TicketID,
		EventID:   entry.EventID,
		Token:     entry.Token,
		DeviceID:  entry.DeviceID,
		Method:    entry.Method,
		Mode:      entry.Mode,
		ScannedAt: entry.ScannedAt,
		Origin:    services.OriginReplay,
	}

	retry := entry.RetryCount
	for {
		result, err := r.client.SubmitClaim(ctx, req)
		if err == nil {
			if err := r.queue.MarkSynced(ctx, entry.Seq); err != nil {
				return err
			}
			if err := r.queue.SetCursor(ctx, entry.Seq); err != nil {
				return err
			}
			monitoring.TrackSyncOperation(r.deviceID, "synced")
			if result.Outcome != entry.Provisional {
				slog.Info("provisional decision corrected at sync",
					"device_id", r.deviceID, "ticket_id", entry.TicketID,
					"provisional", entry.Provisional, "final", result.Outcome)
			}
			return nil
		}

		if !IsTransient(err) {
			// Unexpected non-transient transport failure; park the entry
			// for manual review rather than looping on it.
			monitoring.TrackSyncOperation(r.deviceID, "failed")
			return r.queue.MarkFailed(ctx, entry.Seq, err.Error())
		}

		retry++
		if updateErr := r.queue.UpdateRetry(ctx, entry.Seq, retry, err.Error()); updateErr != nil {
			return updateErr
		}
		monitoring.TrackSyncOperation(r.deviceID, "retried")
		if retry > r.cfg.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.backoff(retry-1)); err != nil {
			return err
		}
	}

	monitoring.TrackSyncOperation(r.deviceID, "failed")
	slog.Warn("sync retries exhausted", "device_id", r.deviceID,
		"ticket_id", entry.TicketID, "seq", entry.Seq)
	return r.queue.MarkFailed(ctx, entry.Seq, status.ErrSyncAbandoned.Error())
}

// backoff returns the delay before retry attempt n (zero-based):
// 1s, 2s, 4s, ... capped at BackoffCap.
func (r *Reconciler) backoff(n int) time.Duration {
	d := r.cfg.BackoffBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= r.cfg.BackoffCap {
			return r.cfg.BackoffCap
		}
	}
	if d > r.cfg.BackoffCap {
		return r.cfg.BackoffCap
	}
	return d
}
