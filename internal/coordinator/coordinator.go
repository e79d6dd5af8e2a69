// Package coordinator drains the durable sync queue against the remote
// catalog.
//
// One coordinator owns the drain: sync cycles are single-flight, operations
// are processed oldest first, and every outcome is written back to the
// queue and the owning document before the next operation starts. External
// callers never talk to the catalog directly; they enqueue and wake.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/roach88/carrel/internal/catalog"
	"github.com/roach88/carrel/internal/library"
	"github.com/roach88/carrel/internal/queue"
	"github.com/roach88/carrel/internal/wire"
)

// DefaultInterval is how often a background Run loop starts a cycle on its
// own, independent of wakes.
const DefaultInterval = 5 * time.Minute

// DefaultBackoffBase is the delay after the first failed attempt. Each
// further attempt doubles it.
const DefaultBackoffBase = 30 * time.Second

// Catalog is the remote surface the coordinator drains against.
// Implemented by catalog.Client.
type Catalog interface {
	Publish(ctx context.Context, payload wire.PublishPayload) (catalog.PublicationResult, error)
	Unpublish(ctx context.Context, publicID string) error
}

// Prober answers the question "is the catalog reachable right now".
// A cycle that starts offline is a counted no-op, not a failure.
type Prober interface {
	Online(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

// Online implements Prober.
func (f ProberFunc) Online(ctx context.Context) bool { return f(ctx) }

// HTTPProber reports online when a HEAD request to the URL gets any HTTP
// response at all. Status codes do not matter; only reachability does.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Online implements Prober.
func (p HTTPProber) Online(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// CycleResult summarizes one drain cycle.
type CycleResult struct {
	// Ran is false when the cycle was skipped because another was already
	// in flight.
	Ran bool
	// Offline is true when the connectivity probe failed and nothing was
	// attempted.
	Offline bool

	Completed int
	Retried   int
	Failed    int
	// Deferred counts operations skipped this cycle because their backoff
	// window had not elapsed.
	Deferred int
}

// Status is the queue summary surfaced to the UI.
type Status struct {
	IsSyncing bool
	Pending   int
	Failed    int
	// LastDrain is when the most recent cycle finished. A process that has
	// not drained yet reports the queue's durable last attempt or
	// completion time instead; zero when nothing was ever attempted.
	LastDrain time.Time
}

// Coordinator owns the sync drain loop.
type Coordinator struct {
	ops     *queue.Store
	docs    *library.Store
	catalog Catalog
	prober  Prober
	logger  *slog.Logger

	maxRetries  int
	backoffBase time.Duration
	interval    time.Duration
	now         func() time.Time

	syncing   atomic.Bool
	lastDrain atomic.Pointer[time.Time]
	wake      chan struct{} // buffered size 1, coalesces wakes
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxRetries caps attempts per operation.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) { c.maxRetries = n }
}

// WithBackoffBase sets the delay after the first failed attempt.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Coordinator) { c.backoffBase = d }
}

// WithInterval sets the background cycle period for Run.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

// WithNowFunc overrides the clock. Test hook.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator. It does nothing until SyncNow or Run is
// called.
func New(ops *queue.Store, docs *library.Store, cat Catalog, prober Prober, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		ops:         ops,
		docs:        docs,
		catalog:     cat,
		prober:      prober,
		logger:      logger,
		maxRetries:  queue.DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		interval:    DefaultInterval,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wake requests a sync cycle soon. Safe from any goroutine; wakes during
// an active cycle coalesce into at most one follow-up cycle.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run drives cycles until the context is cancelled: one immediately, then
// on every wake and every interval tick.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if _, err := c.SyncNow(ctx); err != nil {
		c.logger.Error("sync cycle failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		case <-ticker.C:
		}
		if _, err := c.SyncNow(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("sync cycle failed", slog.String("error", err.Error()))
		}
	}
}

// SyncNow runs one drain cycle. Concurrent calls are single-flight: the
// second caller gets Ran=false and does no work.
func (c *Coordinator) SyncNow(ctx context.Context) (CycleResult, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return CycleResult{}, nil
	}
	defer c.syncing.Store(false)

	if !c.prober.Online(ctx) {
		c.logger.Debug("sync skipped, catalog unreachable")
		return CycleResult{Ran: true, Offline: true}, nil
	}

	pending, err := c.ops.FetchPending(ctx, c.maxRetries)
	if err != nil {
		return CycleResult{Ran: true}, fmt.Errorf("fetch pending operations: %w", err)
	}

	result := CycleResult{Ran: true}
	for _, op := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if c.inBackoff(op) {
			result.Deferred++
			continue
		}
		switch c.process(ctx, op) {
		case outcomeCompleted:
			result.Completed++
		case outcomeRetried:
			result.Retried++
		case outcomeFailed:
			result.Failed++
		}
	}

	finished := c.now()
	c.lastDrain.Store(&finished)

	if result.Completed+result.Retried+result.Failed > 0 {
		c.logger.Info("sync cycle finished",
			slog.Int("completed", result.Completed),
			slog.Int("retried", result.Retried),
			slog.Int("failed", result.Failed),
			slog.Int("deferred", result.Deferred))
	}
	return result, nil
}

// Status reports queue counts plus whether a cycle is in flight.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	counts, err := c.ops.CountsByState(ctx, c.maxRetries)
	if err != nil {
		return Status{}, fmt.Errorf("count operations: %w", err)
	}
	status := Status{
		IsSyncing: c.syncing.Load(),
		Pending:   counts.Pending,
		Failed:    counts.Failed,
	}
	if last := c.lastDrain.Load(); last != nil {
		status.LastDrain = *last
	} else {
		// This process has not drained yet; fall back to the durable
		// record of the queue's last movement.
		ts, err := c.ops.LastActivityAt(ctx)
		if err != nil {
			return Status{}, fmt.Errorf("last queue activity: %w", err)
		}
		if ts != nil {
			status.LastDrain = *ts
		}
	}
	return status, nil
}

// inBackoff reports whether the operation's retry delay has not elapsed.
// Delay doubles per attempt: base, 2x base, 4x base.
func (c *Coordinator) inBackoff(op queue.Operation) bool {
	if op.RetryCount == 0 || op.AttemptedAt == nil {
		return false
	}
	delay := c.backoffBase << (op.RetryCount - 1)
	return c.now().Before(op.AttemptedAt.Add(delay))
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRetried
	outcomeFailed
)

// process pushes one operation to the catalog and records the result.
func (c *Coordinator) process(ctx context.Context, op queue.Operation) outcome {
	c.setDocStatus(ctx, op.ContentID, library.SyncSyncing, nil)

	var err error
	switch op.Kind {
	case queue.KindPublish:
		err = c.processPublish(ctx, op)
	case queue.KindUnpublish:
		err = c.processUnpublish(ctx, op)
	default:
		err = &permanentError{fmt.Errorf("unknown operation kind %q", op.Kind)}
	}

	if err == nil {
		if markErr := c.ops.MarkComplete(ctx, op.ID); markErr != nil {
			c.logger.Error("mark complete failed",
				slog.Int64("operation", op.ID),
				slog.String("error", markErr.Error()))
		}
		return outcomeCompleted
	}

	if isPermanent(err) || !catalog.IsRetryable(err) {
		return c.fail(ctx, op, err)
	}
	if op.RetryCount+1 >= c.maxRetries {
		// Last permitted attempt just failed.
		return c.fail(ctx, op, err)
	}

	if markErr := c.ops.MarkRetry(ctx, op.ID, err); markErr != nil {
		c.logger.Error("mark retry failed",
			slog.Int64("operation", op.ID),
			slog.String("error", markErr.Error()))
	}
	c.setDocStatus(ctx, op.ContentID, library.SyncQueued, nil)
	c.logger.Warn("operation will retry",
		slog.Int64("operation", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.Int("attempt", op.RetryCount+1),
		slog.String("error", err.Error()))
	return outcomeRetried
}

// processPublish decodes the snapshot and pushes it. A publish whose
// document was deleted while queued is impossible here (the queue row
// cascades away with the document), but a publish can still complete for
// a document deleted mid-flight; ApplyPublication treats that as a no-op.
func (c *Coordinator) processPublish(ctx context.Context, op queue.Operation) error {
	payload, err := wire.DecodePublish(op.Payload)
	if err != nil {
		return &permanentError{fmt.Errorf("decode publish payload: %w", err)}
	}

	result, err := c.catalog.Publish(ctx, payload)
	if err != nil {
		return err
	}

	if applyErr := c.docs.ApplyPublication(ctx, op.ContentID, library.Publication{
		PublicID:       result.PublicID,
		PublishedAt:    result.PublishedAt,
		AuthorUsername: result.AuthorUsername,
		CanFork:        result.CanFork,
	}); applyErr != nil {
		c.logger.Error("apply publication failed",
			slog.String("document", op.ContentID),
			slog.String("error", applyErr.Error()))
	}
	return nil
}

// processUnpublish removes the item named by the payload snapshot. A 404
// from the catalog means the item is already gone, which is the goal
// state, so it counts as success.
func (c *Coordinator) processUnpublish(ctx context.Context, op queue.Operation) error {
	payload, err := wire.DecodeUnpublish(op.Payload)
	if err != nil {
		return &permanentError{fmt.Errorf("decode unpublish payload: %w", err)}
	}

	err = c.catalog.Unpublish(ctx, payload.PublicID)
	if err != nil && catalog.CodeOf(err) != catalog.CodeNotFound {
		return err
	}

	c.setDocStatus(ctx, op.ContentID, library.SyncSynced, nil)
	return nil
}

// fail records a terminal outcome: the operation is pinned out of the
// pending set and the document shows failed with the message.
func (c *Coordinator) fail(ctx context.Context, op queue.Operation, cause error) outcome {
	if markErr := c.ops.MarkFailed(ctx, op.ID, cause, c.maxRetries); markErr != nil {
		c.logger.Error("mark failed failed",
			slog.Int64("operation", op.ID),
			slog.String("error", markErr.Error()))
	}
	msg := cause.Error()
	c.setDocStatus(ctx, op.ContentID, library.SyncFailed, &msg)
	c.logger.Warn("operation failed terminally",
		slog.Int64("operation", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("error", msg))
	return outcomeFailed
}

// setDocStatus updates the owning document's sync state. The document may
// have been deleted while the operation was queued; that is not an error.
func (c *Coordinator) setDocStatus(ctx context.Context, id string, status library.SyncStatus, msg *string) {
	err := c.docs.SetSyncStatus(ctx, id, status, msg)
	if err != nil && !errors.Is(err, library.ErrNotFound) {
		c.logger.Error("set document sync status failed",
			slog.String("document", id),
			slog.String("error", err.Error()))
	}
}

// permanentError marks failures that must never retry, independent of the
// catalog's classification. Corrupt payloads are the main case.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
