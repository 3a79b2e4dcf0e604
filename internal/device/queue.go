package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	_ "modernc.org/sqlite"

	"gate-system/internal/status"
	"gate-system/models"
)

// Queue is the per-device durable buffer of scan attempts made without
// connectivity. It lives in a local SQLite file so queued work survives
// process restarts, and it never touches the network.
type Queue struct {
	sqlDB *sql.DB
	db    dbx.Builder
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS queued_scans (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id   TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	token       TEXT NOT NULL,
	signature   TEXT NOT NULL,
	method      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	scanned_at  TEXT NOT NULL,
	provisional TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	synced_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_queued_scans_status ON queued_scans (sync_status, scanned_at);

CREATE TABLE IF NOT EXISTS ticket_snapshots (
	ticket_id  TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// OpenQueue opens (creating if needed) the device store at path.
func OpenQueue(path string) (*Queue, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	if _, err := sqlDB.Exec(queueSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	return &Queue{sqlDB: sqlDB, db: dbx.NewFromDB(sqlDB, "sqlite")}, nil
}

func (q *Queue) Close() error {
	return q.sqlDB.Close()
}

// Enqueue durably persists a provisional scan and returns its local
// sequence number. A failed insert is a fatal local failure: the scanner
// must never pretend to have queued what it could not store.
func (q *Queue) Enqueue(ctx context.Context, scan *models.QueuedScan) (int64, error) {
	res, err := q.db.Insert("queued_scans", dbx.Params{
		"ticket_id":   scan.TicketID,
		"event_id":    scan.EventID,
		"token":       scan.Token,
		"signature":   scan.Signature,
		"method":      scan.Method,
		"mode":        scan.Mode,
		"device_id":   scan.DeviceID,
		"scanned_at":  scan.ScannedAt.UTC().Format(time.RFC3339Nano),
		"provisional": scan.Provisional,
		"sync_status": models.SyncPending,
	}).WithContext(ctx).Execute()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	scan.Seq = seq
	scan.SyncStatus = models.SyncPending
	return seq, nil
}

type queuedRow struct {
	Seq         int64          `db:"seq"`
	TicketID    string         `db:"ticket_id"`
	EventID     string         `db:"event_id"`
	Token       string         `db:"token"`
	Signature   string         `db:"signature"`
	Method      string         `db:"method"`
	Mode        string         `db:"mode"`
	DeviceID    string         `db:"device_id"`
	ScannedAt   string         `db:"scanned_at"`
	Provisional string         `db:"provisional"`
	SyncStatus  string         `db:"sync_status"`
	RetryCount  int            `db:"retry_count"`
	LastError   string         `db:"last_error"`
	SyncedAt    sql.NullString `db:"synced_at"`
}

func (r *queuedRow) toModel() models.QueuedScan {
	scan := models.QueuedScan{
		Seq:         r.Seq,
		TicketID:    r.TicketID,
		EventID:     r.EventID,
		Token:       r.Token,
		Signature:   r.Signature,
		Method:      r.Method,
		Mode:        r.Mode,
		DeviceID:    r.DeviceID,
		Provisional: r.Provisional,
		SyncStatus:  r.SyncStatus,
		RetryCount:  r.RetryCount,
		LastError:   r.LastError,
	}
	if t, err := time.Parse(time.RFC3339Nano, r.ScannedAt); err == nil {
		scan.ScannedAt = t
	}
	if r.SyncedAt.Valid && r.SyncedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, r.SyncedAt.String); err == nil {
			scan.SyncedAt = &t
		}
	}
	return scan
}

// ListPending returns not-yet-reconciled scans in ascending original
// timestamp order, which is the order the reconciler must replay them in.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]models.QueuedScan, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []queuedRow
	err := q.db.Select("seq", "ticket_id", "event_id", "token", "signature",
		"method", "mode", "device_id", "scanned_at", "provisional",
		"sync_status", "retry_count", "last_error", "synced_at").
		From("queued_scans").
		Where(dbx.HashExp{"sync_status": models.SyncPending}).
		OrderBy("scanned_at ASC", "seq ASC").
		Limit(int64(limit)).
		WithContext(ctx).All(&rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	scans := make([]models.QueuedScan, 0, len(rows))
	for _, row := range rows {
		scans = append(scans, row.toModel())
	}
	return scans, nil
}

func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.Select("COUNT(*)").From("queued_scans").
		Where(dbx.HashExp{"sync_status": models.SyncPending}).
		WithContext(ctx).Row(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	return count, nil
}

// MarkSynced transitions the entry to synced. Business rejections from the
// coordinator are normal reconciliation outcomes and also land here.
func (q *Queue) MarkSynced(ctx context.Context, seq int64) error {
	_, err := q.db.Update("queued_scans", dbx.Params{
		"sync_status": models.SyncSynced,
		"synced_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}, dbx.HashExp{"seq": seq}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	return nil
}

// UpdateRetry persists the retry bookkeeping after a transient failure so
// a restarted reconciler resumes with the remaining budget.
func (q *Queue) UpdateRetry(ctx context.Context, seq int64, retryCount int, lastError string) error {
	_, err := q.db.Update("queued_scans", dbx.Params{
		"retry_count": retryCount,
		"last_error":  lastError,
	}, dbx.HashExp{"seq": seq}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	return nil
}

// MarkFailed abandons the entry for manual review.
func (q *Queue) MarkFailed(ctx context.Context, seq int64, lastError string) error {
	_, err := q.db.Update("queued_scans", dbx.Params{
		"sync_status": models.SyncFailed,
		"last_error":  lastError,
	}, dbx.HashExp{"seq": seq}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	return nil
}

// PruneSynced removes synced entries older than the retention window to
// bound local storage growth. Pending and failed entries are never pruned.
func (q *Queue) PruneSynced(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := q.db.Delete("queued_scans", dbx.And(
		dbx.HashExp{"sync_status": models.SyncSynced},
		dbx.NewExp("synced_at < {:cutoff}", dbx.Params{"cutoff": cutoff}),
	)).WithContext(ctx).Execute()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	return res.RowsAffected()
}

// Cursor returns the last-synced sequence number, zero when none.
func (q *Queue) Cursor(ctx context.Context) (int64, error) {
	var value string
	err := q.db.Select("value").From("sync_state").
		Where(dbx.HashExp{"key": "last_synced_seq"}).
		WithContext(ctx).Row(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	var seq int64
	fmt.Sscanf(value, "%d", &seq)
	return seq, nil
}

// SetCursor records the last fully reconciled sequence number, making the
// drain's restart point explicit and testable.
func (q *Queue) SetCursor(ctx context.Context, seq int64) error {
	_, err := q.db.NewQuery(
		"INSERT INTO sync_state (key, value) VALUES ({:key}, {:value}) " +
			"ON CONFLICT(key) DO UPDATE SET value = {:value}",
	).Bind(dbx.Params{
		"key":   "last_synced_seq",
		"value": fmt.Sprintf("%d", seq),
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("%w: %v", status.ErrQueueStorage, err)
	}
	return nil
}
