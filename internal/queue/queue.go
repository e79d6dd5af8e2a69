// Package queue implements the durable FIFO store of pending sync
// operations.
//
// One row per enqueued mutation. An Enqueue that returns nil has been
// committed to SQLite and survives process restart. Rows are marked, never
// deleted, by the sync engine: a completed operation keeps its row (with
// synced_at set) and a failed operation is retained for diagnostics until
// the owning document is deleted, which cascades removal.
//
// Ordering: the autoincrement id is assigned at insert time under the
// single-writer connection, so ascending id is global enqueue order. All
// pending fetches use ORDER BY id ASC.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/carrel/internal/storage"
)

// Kind is the operation discriminator.
type Kind string

const (
	// KindPublish pushes a document snapshot to the catalog.
	KindPublish Kind = "publish"

	// KindUnpublish removes a previously published item from the catalog.
	KindUnpublish Kind = "unpublish"
)

// DefaultMaxRetries bounds attempts for retryable failures.
const DefaultMaxRetries = 3

// Operation is one queued publish or unpublish request.
type Operation struct {
	ID          int64
	ContentID   string
	Kind        Kind
	Payload     []byte
	CreatedAt   time.Time
	AttemptedAt *time.Time
	RetryCount  int
	LastError   string
	SyncedAt    *time.Time
}

// Completed reports whether the operation was durably confirmed remote-side.
func (op Operation) Completed() bool {
	return op.SyncedAt != nil
}

// Store provides durable queue persistence on the shared carrel database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a queue store on the shared database.
func New(db *storage.DB) *Store {
	return &Store{db: db.Conn(), now: time.Now}
}

// SetNowFunc overrides the wall clock. Tests only.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Enqueue inserts a new pending operation and returns it with its assigned
// id. The payload must be fully self-contained: by the time the operation
// executes, the source document may have been edited or deleted.
func (s *Store) Enqueue(ctx context.Context, contentID string, kind Kind, payload []byte) (Operation, error) {
	if len(payload) == 0 {
		return Operation{}, fmt.Errorf("enqueue %s for %s: empty payload", kind, contentID)
	}

	createdAt := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_operations (content_id, operation, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, 0)
	`, contentID, string(kind), payload, createdAt.Unix())
	if err != nil {
		return Operation{}, fmt.Errorf("enqueue %s for %s: %w", kind, contentID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Operation{}, fmt.Errorf("enqueue %s for %s: last insert id: %w", kind, contentID, err)
	}

	return Operation{
		ID:        id,
		ContentID: contentID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: createdAt.Truncate(time.Second),
	}, nil
}

// FetchPending returns all operations not yet confirmed and still under the
// retry limit, in global enqueue order.
func (s *Store) FetchPending(ctx context.Context, maxRetries int) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_id, operation, payload, created_at, attempted_at, retry_count, last_error, synced_at
		FROM sync_operations
		WHERE synced_at IS NULL AND retry_count < ?
		ORDER BY id ASC
	`, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("fetch pending: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch pending: iterate: %w", err)
	}

	if ops == nil {
		ops = []Operation{}
	}
	return ops, nil
}

// Get returns a single operation by id. Returns sql.ErrNoRows if missing.
func (s *Store) Get(ctx context.Context, id int64) (Operation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_id, operation, payload, created_at, attempted_at, retry_count, last_error, synced_at
		FROM sync_operations
		WHERE id = ?
	`, id)
	return scanOperation(row)
}

// ForContent returns every operation for a document, oldest first.
// Used for diagnostics and for the status surface.
func (s *Store) ForContent(ctx context.Context, contentID string) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_id, operation, payload, created_at, attempted_at, retry_count, last_error, synced_at
		FROM sync_operations
		WHERE content_id = ?
		ORDER BY id ASC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("operations for %s: %w", contentID, err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("operations for %s: %w", contentID, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("operations for %s: iterate: %w", contentID, err)
	}
	return ops, nil
}

// MarkComplete records durable remote confirmation of the operation.
func (s *Store) MarkComplete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_operations
		SET synced_at = ?, last_error = NULL
		WHERE id = ? AND synced_at IS NULL
	`, s.now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark complete %d: %w", id, err)
	}
	return requireRow(res, "mark complete", id)
}

// MarkRetry records a retryable failure: increments retry_count, stores the
// failure description, and stamps the attempt time used for backoff.
func (s *Store) MarkRetry(ctx context.Context, id int64, cause error) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_operations
		SET retry_count = retry_count + 1, last_error = ?, attempted_at = ?
		WHERE id = ? AND synced_at IS NULL
	`, cause.Error(), s.now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark retry %d: %w", id, err)
	}
	return requireRow(res, "mark retry", id)
}

// MarkFailed records a terminal failure. retry_count is pinned at or above
// maxRetries so FetchPending never returns the row again; only an explicit
// ResetForRetry can revive it.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause error, maxRetries int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_operations
		SET retry_count = MAX(retry_count, ?), last_error = ?, attempted_at = ?
		WHERE id = ? AND synced_at IS NULL
	`, maxRetries, cause.Error(), s.now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	return requireRow(res, "mark failed", id)
}

// ResetForRetry is the manual retry action: retry_count back to zero and the
// failure cleared for every unconfirmed operation of the document.
// Returns the number of revived operations.
func (s *Store) ResetForRetry(ctx context.Context, contentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_operations
		SET retry_count = 0, last_error = NULL, attempted_at = NULL
		WHERE content_id = ? AND synced_at IS NULL
	`, contentID)
	if err != nil {
		return 0, fmt.Errorf("reset for retry %s: %w", contentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset for retry %s: rows affected: %w", contentID, err)
	}
	return int(n), nil
}

// DeleteForContent drops every operation of a document, completed rows
// included. The foreign key cascade covers document deletes; this is for
// callers pruning history without deleting the document.
// Returns the number of deleted operations.
func (s *Store) DeleteForContent(ctx context.Context, contentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_operations WHERE content_id = ?`, contentID)
	if err != nil {
		return 0, fmt.Errorf("delete operations for %s: %w", contentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete operations for %s: rows affected: %w", contentID, err)
	}
	return int(n), nil
}

// LastActivityAt returns the most recent attempt or completion time across
// all operations, or nil when nothing has been attempted yet. Durable, so
// a fresh process can still report when the queue last moved.
func (s *Store) LastActivityAt(ctx context.Context) (*time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(MAX(COALESCE(attempted_at, 0), COALESCE(synced_at, 0)))
		FROM sync_operations
	`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("last activity: %w", err)
	}
	if !ts.Valid || ts.Int64 == 0 {
		return nil, nil
	}
	t := time.Unix(ts.Int64, 0).UTC()
	return &t, nil
}

// Counts holds the aggregate queue state the UI renders.
type Counts struct {
	Pending int
	Failed  int
}

// CountsByState returns how many operations are still eligible (pending)
// and how many are terminally failed, given the retry limit.
func (s *Store) CountsByState(ctx context.Context, maxRetries int) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE retry_count < ?),
			COUNT(*) FILTER (WHERE retry_count >= ?)
		FROM sync_operations
		WHERE synced_at IS NULL
	`, maxRetries, maxRetries).Scan(&c.Pending, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("counts by state: %w", err)
	}
	return c, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (Operation, error) {
	var (
		op          Operation
		kind        string
		createdAt   int64
		attemptedAt sql.NullInt64
		lastError   sql.NullString
		syncedAt    sql.NullInt64
	)
	err := row.Scan(&op.ID, &op.ContentID, &kind, &op.Payload, &createdAt,
		&attemptedAt, &op.RetryCount, &lastError, &syncedAt)
	if err != nil {
		return Operation{}, err
	}

	op.Kind = Kind(kind)
	op.CreatedAt = time.Unix(createdAt, 0).UTC()
	if attemptedAt.Valid {
		t := time.Unix(attemptedAt.Int64, 0).UTC()
		op.AttemptedAt = &t
	}
	op.LastError = lastError.String
	if syncedAt.Valid {
		t := time.Unix(syncedAt.Int64, 0).UTC()
		op.SyncedAt = &t
	}
	return op, nil
}

// requireRow converts a zero-row update into an error so callers notice
// marks against missing or already-completed operations.
func requireRow(res sql.Result, verb string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: rows affected: %w", verb, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: operation not found or already completed", verb, id)
	}
	return nil
}
