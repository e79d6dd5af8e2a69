package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/carrel/internal/storage"
	"github.com/roach88/carrel/internal/wire"
)

// Store persists documents in the local database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a document store over an open database.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db.Conn(), now: time.Now}
}

// SetNowFunc overrides the clock. Test hook.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

const documentColumns = `id, title, description, kind, content, tags, language,
	visibility, sync_status, sync_error, public_id, published_at,
	author_username, can_fork, created_at, updated_at`

// Create inserts a new document. ID, Kind, CreatedAt and UpdatedAt are
// filled in; the document starts private and synced (nothing to push).
func (s *Store) Create(ctx context.Context, doc *Document) error {
	kind, err := doc.Content.Kind()
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	doc.Kind = kind

	content, err := wire.EncodeContent(doc.Content)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	tags, err := json.Marshal(tagsOrEmpty(doc.Tags))
	if err != nil {
		return fmt.Errorf("create document: marshal tags: %w", err)
	}

	if doc.Language == "" {
		doc.Language = "en"
	}
	if doc.Visibility == "" {
		doc.Visibility = VisibilityPrivate
	}
	if doc.SyncStatus == "" {
		doc.SyncStatus = SyncSynced
	}
	now := s.now().UTC().Truncate(time.Second)
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, description, kind, content, tags,
			language, visibility, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Description, string(kind), string(content),
		string(tags), doc.Language, string(doc.Visibility),
		string(doc.SyncStatus), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get loads one document by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

// List returns all documents, newest first.
func (s *Store) List(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update rewrites the editable fields of a document and bumps updated_at.
func (s *Store) Update(ctx context.Context, doc *Document) error {
	kind, err := doc.Content.Kind()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	content, err := wire.EncodeContent(doc.Content)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	tags, err := json.Marshal(tagsOrEmpty(doc.Tags))
	if err != nil {
		return fmt.Errorf("update document: marshal tags: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = ?, description = ?, kind = ?, content = ?, tags = ?,
			language = ?, updated_at = ?
		WHERE id = ?`,
		doc.Title, doc.Description, string(kind), string(content),
		string(tags), doc.Language, now.Unix(), doc.ID)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	doc.Kind = kind
	doc.UpdatedAt = now
	return requireDocument(res, doc.ID)
}

// Delete removes a document. Sync operations for it cascade away with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return requireDocument(res, id)
}

// SetSyncStatus records the sync lifecycle state, with an optional error
// message for the failed state.
func (s *Store) SetSyncStatus(ctx context.Context, id string, status SyncStatus, syncErr *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET sync_status = ?, sync_error = ? WHERE id = ?`,
		string(status), syncErr, id)
	if err != nil {
		return fmt.Errorf("set sync status for %s: %w", id, err)
	}
	return requireDocument(res, id)
}

// SetVisibility flips the local sharing state.
func (s *Store) SetVisibility(ctx context.Context, id string, v Visibility) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET visibility = ? WHERE id = ?`, string(v), id)
	if err != nil {
		return fmt.Errorf("set visibility for %s: %w", id, err)
	}
	return requireDocument(res, id)
}

// SetPublicID records the chosen public identifier before the publish is
// confirmed, so a later unpublish can snapshot it.
func (s *Store) SetPublicID(ctx context.Context, id, publicID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET public_id = ? WHERE id = ?`, publicID, id)
	if err != nil {
		return fmt.Errorf("set public id for %s: %w", id, err)
	}
	return requireDocument(res, id)
}

// ApplyPublication records a confirmed publish: server metadata lands and
// the document becomes synced. A missing document is not an error; it was
// deleted while the operation was in flight.
func (s *Store) ApplyPublication(ctx context.Context, id string, pub Publication) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET public_id = ?, published_at = ?, author_username = ?, can_fork = ?,
			visibility = ?, sync_status = ?, sync_error = NULL
		WHERE id = ?`,
		pub.PublicID, pub.PublishedAt.UTC().Format(time.RFC3339),
		pub.AuthorUsername, boolToInt(pub.CanFork),
		string(VisibilityPublic), string(SyncSynced), id)
	if err != nil {
		return fmt.Errorf("apply publication to %s: %w", id, err)
	}
	return nil
}

// ClearPublication wipes publication metadata and returns the document to
// private. Like ApplyPublication, a missing document is a no-op.
func (s *Store) ClearPublication(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET public_id = NULL, published_at = NULL, author_username = NULL,
			can_fork = 0, visibility = ?
		WHERE id = ?`,
		string(VisibilityPrivate), id)
	if err != nil {
		return fmt.Errorf("clear publication from %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var (
		doc         Document
		kind        string
		content     string
		tags        string
		visibility  string
		syncStatus  string
		publishedAt sql.NullString
		canFork     int
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &kind, &content,
		&tags, &doc.Language, &visibility, &syncStatus, &doc.SyncError,
		&doc.PublicID, &publishedAt, &doc.AuthorUsername, &canFork,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	doc.Kind = wire.ContentType(kind)
	doc.Content, err = wire.DecodeContent(doc.Kind, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("decode stored content: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		return nil, fmt.Errorf("decode stored tags: %w", err)
	}
	doc.Visibility = Visibility(visibility)
	doc.SyncStatus = SyncStatus(syncStatus)
	if publishedAt.Valid {
		t, err := time.Parse(time.RFC3339, publishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode published_at: %w", err)
		}
		doc.PublishedAt = &t
	}
	doc.CanFork = canFork != 0
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()
	doc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &doc, nil
}

func requireDocument(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
