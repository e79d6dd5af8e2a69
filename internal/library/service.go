package library

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/carrel/internal/queue"
	"github.com/roach88/carrel/internal/wire"
)

// Waker is notified when new work lands in the sync queue. The sync
// coordinator implements it; tests substitute a recorder.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to the Waker interface.
type WakerFunc func()

// Wake implements Waker.
func (f WakerFunc) Wake() { f() }

// Service turns user intents into documents and durable sync operations.
type Service struct {
	docs       *Store
	ops        *queue.Store
	waker      Waker
	logger     *slog.Logger
	maxRetries int
	newID      func() string
}

// NewService wires the document store and sync queue together.
func NewService(docs *Store, ops *queue.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		docs:       docs,
		ops:        ops,
		waker:      WakerFunc(func() {}),
		logger:     logger,
		maxRetries: queue.DefaultMaxRetries,
		newID:      uuid.NewString,
	}
}

// SetWaker registers the coordinator to poke after enqueuing work.
func (s *Service) SetWaker(w Waker) {
	s.waker = w
}

// SetIDFunc overrides identifier generation. Test hook.
func (s *Service) SetIDFunc(newID func() string) {
	s.newID = newID
}

// CreateDocument stores a new document with a fresh identifier.
func (s *Service) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = s.newID()
	}
	if doc.Title == "" {
		return fmt.Errorf("create document: title is required")
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return err
	}
	s.logger.Info("document created",
		slog.String("id", doc.ID),
		slog.String("kind", string(doc.Kind)))
	return nil
}

// GetDocument loads one document.
func (s *Service) GetDocument(ctx context.Context, id string) (*Document, error) {
	return s.docs.Get(ctx, id)
}

// ListDocuments returns every document, newest first.
func (s *Service) ListDocuments(ctx context.Context) ([]*Document, error) {
	return s.docs.List(ctx)
}

// UpdateDocument rewrites the editable fields. A published document drops
// back to pending; its remote copy is stale until the next publish.
func (s *Service) UpdateDocument(ctx context.Context, doc *Document) error {
	if err := s.docs.Update(ctx, doc); err != nil {
		return err
	}
	if doc.Published() {
		if err := s.docs.SetSyncStatus(ctx, doc.ID, SyncPending, nil); err != nil {
			return err
		}
		doc.SyncStatus = SyncPending
	}
	return nil
}

// DeleteDocument removes a document and, via the cascade, any queued
// operations for it.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document deleted", slog.String("id", id))
	return nil
}

// Publish snapshots the document into a publish payload and enqueues it.
// The snapshot is complete: later edits to the document do not change what
// this operation sends. The document immediately shows as public/queued.
func (s *Service) Publish(ctx context.Context, id string) error {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkNoOutstanding(ctx, id); err != nil {
		return err
	}

	publicID := ""
	if doc.PublicID != nil {
		publicID = *doc.PublicID
	}
	if publicID == "" {
		publicID = s.newID()
	}

	payload, err := wire.EncodePublish(wire.PublishPayload{
		Title:       doc.Title,
		Description: doc.Description,
		Content:     doc.Content,
		Tags:        doc.Tags,
		Language:    doc.Language,
		PublicID:    publicID,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", id, err)
	}

	if err := s.docs.SetPublicID(ctx, id, publicID); err != nil {
		return err
	}
	op, err := s.ops.Enqueue(ctx, id, queue.KindPublish, payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", id, err)
	}
	if err := s.docs.SetVisibility(ctx, id, VisibilityPublic); err != nil {
		return err
	}
	if err := s.docs.SetSyncStatus(ctx, id, SyncQueued, nil); err != nil {
		return err
	}

	s.logger.Info("publish queued",
		slog.String("document", id),
		slog.String("public_id", publicID),
		slog.Int64("operation", op.ID))
	s.waker.Wake()
	return nil
}

// Unpublish captures the current public identifier into the payload and
// enqueues the removal. The identifier is copied by value: clearing the
// document's publication state next does not touch the queued operation.
func (s *Service) Unpublish(ctx context.Context, id string) error {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !doc.Published() {
		return fmt.Errorf("unpublish %s: %w", id, ErrNotPublished)
	}
	if err := s.checkNoOutstanding(ctx, id); err != nil {
		return err
	}

	payload, err := wire.EncodeUnpublish(wire.UnpublishPayload{
		PublicID: *doc.PublicID,
	})
	if err != nil {
		return fmt.Errorf("unpublish %s: %w", id, err)
	}

	op, err := s.ops.Enqueue(ctx, id, queue.KindUnpublish, payload)
	if err != nil {
		return fmt.Errorf("unpublish %s: %w", id, err)
	}
	if err := s.docs.ClearPublication(ctx, id); err != nil {
		return err
	}
	if err := s.docs.SetSyncStatus(ctx, id, SyncQueued, nil); err != nil {
		return err
	}

	s.logger.Info("unpublish queued",
		slog.String("document", id),
		slog.Int64("operation", op.ID))
	s.waker.Wake()
	return nil
}

// Retry revives failed operations for a document and re-queues it.
func (s *Service) Retry(ctx context.Context, id string) error {
	n, err := s.ops.ResetForRetry(ctx, id)
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("retry %s: no failed operations", id)
	}
	if err := s.docs.SetSyncStatus(ctx, id, SyncQueued, nil); err != nil {
		return err
	}
	s.logger.Info("retry requested",
		slog.String("document", id),
		slog.Int("operations", n))
	s.waker.Wake()
	return nil
}

// checkNoOutstanding rejects a new operation while an earlier one for the
// same document is still waiting for a sync cycle. Failed operations do
// not block; a manual retry or delete resolves those.
func (s *Service) checkNoOutstanding(ctx context.Context, id string) error {
	ops, err := s.ops.ForContent(ctx, id)
	if err != nil {
		return fmt.Errorf("check outstanding operations for %s: %w", id, err)
	}
	for _, op := range ops {
		if !op.Completed() && op.RetryCount < s.maxRetries {
			return fmt.Errorf("document %s: %w", id, ErrSyncInFlight)
		}
	}
	return nil
}
