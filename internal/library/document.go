// Package library is the local content store: structured documents plus
// the per-document sync state the UI reads. The Service layer on top
// turns user intents (publish, unpublish) into durable queue operations.
package library

import (
	"errors"
	"time"

	"github.com/roach88/carrel/internal/wire"
)

// Visibility is the local sharing state of a document.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// SyncStatus tracks where a document sits in the sync lifecycle.
type SyncStatus string

const (
	// SyncPending means local edits exist that have not been queued.
	SyncPending SyncStatus = "pending"
	// SyncQueued means an operation is enqueued and waiting for a cycle.
	SyncQueued SyncStatus = "queued"
	// SyncSyncing means the coordinator is actively pushing the operation.
	SyncSyncing SyncStatus = "syncing"
	// SyncSynced means local and remote state agree.
	SyncSynced SyncStatus = "synced"
	// SyncFailed means the last operation exhausted retries or hit a
	// terminal error. Stays until a manual retry or document delete.
	SyncFailed SyncStatus = "failed"
)

var (
	// ErrNotFound is returned when no document has the given identifier.
	ErrNotFound = errors.New("document not found")
	// ErrSyncInFlight is returned when a publish or unpublish is requested
	// while an earlier operation for the same document is still queued.
	ErrSyncInFlight = errors.New("a sync operation for this document is already queued")
	// ErrNotPublished is returned when unpublishing a document that has no
	// public identifier.
	ErrNotPublished = errors.New("document is not published")
)

// Document is one library item. Content is the structured body; the
// publication fields are set only after a successful publish.
type Document struct {
	ID          string
	Title       string
	Description *string
	Kind        wire.ContentType
	Content     wire.Content
	Tags        []string
	Language    string
	Visibility  Visibility

	SyncStatus SyncStatus
	SyncError  *string

	PublicID       *string
	PublishedAt    *time.Time
	AuthorUsername *string
	CanFork        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Published reports whether the document currently carries a public
// identifier.
func (d *Document) Published() bool {
	return d.PublicID != nil && *d.PublicID != ""
}

// Publication is the server-assigned metadata recorded after a successful
// publish.
type Publication struct {
	PublicID       string
	PublishedAt    time.Time
	AuthorUsername string
	CanFork        bool
}
