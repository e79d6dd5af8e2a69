package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carrel/internal/catalog"
	"github.com/roach88/carrel/internal/catalogtest"
	"github.com/roach88/carrel/internal/library"
	"github.com/roach88/carrel/internal/queue"
	"github.com/roach88/carrel/internal/storage"
	"github.com/roach88/carrel/internal/wire"
)

type fixture struct {
	coord  *Coordinator
	svc    *library.Service
	docs   *library.Store
	ops    *queue.Store
	server *catalogtest.Server
	online bool
	now    time.Time
}

func createFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "carrel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		docs:   library.NewStore(db),
		ops:    queue.New(db),
		server: catalogtest.New(),
		online: true,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	t.Cleanup(f.server.Close)

	f.ops.SetNowFunc(func() time.Time { return f.now })

	f.svc = library.NewService(f.docs, f.ops, slog.New(slog.NewTextHandler(io.Discard, nil)))
	seq := 0
	f.svc.SetIDFunc(func() string {
		seq++
		return fmt.Sprintf("id-%04d", seq)
	})

	client := catalog.NewClient(f.server.URL(), catalog.StaticToken("tok-1"))
	prober := ProberFunc(func(ctx context.Context) bool { return f.online })

	allOpts := append([]Option{WithNowFunc(func() time.Time { return f.now })}, opts...)
	f.coord = New(f.ops, f.docs, client, prober, slog.New(slog.NewTextHandler(io.Discard, nil)), allOpts...)
	return f
}

func (f *fixture) publishDoc(t *testing.T, title string) *library.Document {
	t.Helper()
	ctx := context.Background()
	doc := &library.Document{
		Title: title,
		Content: wire.Content{
			Checklist: &wire.Checklist{Items: []wire.ChecklistItem{{Text: "Step"}}},
		},
	}
	require.NoError(t, f.svc.CreateDocument(ctx, doc))
	require.NoError(t, f.svc.Publish(ctx, doc.ID))
	return doc
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestSyncNow_PublishHappyPath(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Morning routine")

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Completed)

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncSynced, got.SyncStatus)
	assert.Equal(t, library.VisibilityPublic, got.Visibility)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, "testauthor", *got.AuthorUsername)
	assert.True(t, got.CanFork)

	calls := f.server.PublishCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Morning routine", calls[0].Title())

	ops, err := f.ops.ForContent(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.True(t, ops[0].Completed())

	status, err := f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.now, status.LastDrain)
	assert.Zero(t, status.Pending)
}

func TestSyncNow_UnpublishHappyPath(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Routine")

	_, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Unpublish(ctx, doc.ID))
	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncSynced, got.SyncStatus)
	assert.False(t, got.Published())

	require.Len(t, f.server.UnpublishCalls(), 1)
}

func TestSyncNow_OfflineIsNoOp(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	f.publishDoc(t, "Routine")
	f.online = false

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.True(t, result.Offline)
	assert.Zero(t, result.Completed)
	assert.Empty(t, f.server.PublishCalls())

	// Queue counts stay readable while offline.
	status, err := f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
}

func TestSyncNow_DrainsAfterComingOnline(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Routine")

	f.online = false
	_, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)

	f.online = true
	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncSynced, got.SyncStatus)
}

func TestSyncNow_RetryableFailureThenSuccess(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Routine")
	f.server.ForceStatuses(500)

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncQueued, got.SyncStatus)

	// Within the backoff window the operation is deferred, not attempted.
	result, err = f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Zero(t, result.Completed)

	f.advance(DefaultBackoffBase + time.Second)
	result, err = f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	got, err = f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncSynced, got.SyncStatus)
}

func TestSyncNow_ExhaustsRetriesThenFails(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Routine")
	f.server.ForceStatuses(500, 500, 500)

	for i := 0; i < 3; i++ {
		_, err := f.coord.SyncNow(ctx)
		require.NoError(t, err)
		f.advance(10 * time.Minute)
	}

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncFailed, got.SyncStatus)
	require.NotNil(t, got.SyncError)

	status, err := f.coord.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failed)
	assert.Zero(t, status.Pending)

	// Three attempts happened; further cycles touch nothing.
	callsBefore := len(f.server.PublishCalls())
	assert.Equal(t, 3, callsBefore)
	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Completed+result.Retried+result.Failed)
	assert.Len(t, f.server.PublishCalls(), callsBefore)
}

func TestSyncNow_TerminalErrorShortCircuits(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	f.server.MarkTaken("id-0002")
	doc := f.publishDoc(t, "Routine")

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Retried)

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncFailed, got.SyncStatus)

	// One attempt only; the conflict never retries.
	f.advance(10 * time.Minute)
	_, err = f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Len(t, f.server.PublishCalls(), 1)
}

func TestSyncNow_CorruptPayloadFailsWithoutNetworkCall(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()

	doc := &library.Document{
		Title: "Routine",
		Content: wire.Content{
			Checklist: &wire.Checklist{Items: []wire.ChecklistItem{{Text: "Step"}}},
		},
	}
	require.NoError(t, f.svc.CreateDocument(ctx, doc))
	_, err := f.ops.Enqueue(ctx, doc.ID, queue.KindPublish, []byte("{garbage"))
	require.NoError(t, err)

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, f.server.PublishCalls())

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncFailed, got.SyncStatus)
}

func TestSyncNow_ProcessesOldestFirst(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	f.publishDoc(t, "First")
	f.publishDoc(t, "Second")
	f.publishDoc(t, "Third")

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Completed)

	calls := f.server.PublishCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "First", calls[0].Title())
	assert.Equal(t, "Second", calls[1].Title())
	assert.Equal(t, "Third", calls[2].Title())
}

func TestSyncNow_BackedOffItemDoesNotBlockOthers(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	stalled := f.publishDoc(t, "Stalled")
	f.server.ForceStatuses(500)

	_, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)

	fresh := f.publishDoc(t, "Fresh")
	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Equal(t, 1, result.Completed)

	gotStalled, err := f.docs.Get(ctx, stalled.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncQueued, gotStalled.SyncStatus)

	gotFresh, err := f.docs.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncSynced, gotFresh.SyncStatus)
}

func TestSyncNow_UnpublishAlreadyGoneCompletes(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Routine")

	_, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Unpublish(ctx, doc.ID))
	// The catalog forgets the item before the unpublish lands.
	f.server.ForceStatuses(404)

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncSynced, got.SyncStatus)
}

func TestSyncNow_SingleFlight(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()

	probeEntered := make(chan struct{})
	probeRelease := make(chan struct{})
	blockingProber := ProberFunc(func(ctx context.Context) bool {
		close(probeEntered)
		<-probeRelease
		return false
	})
	f.coord.prober = blockingProber

	first := make(chan CycleResult)
	go func() {
		result, _ := f.coord.SyncNow(ctx)
		first <- result
	}()

	<-probeEntered
	second, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.False(t, second.Ran)

	close(probeRelease)
	assert.True(t, (<-first).Ran)
}

func TestSyncNow_ManualRetryAfterFailure(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Routine")
	f.server.ForceStatuses(500, 500, 500)

	for i := 0; i < 3; i++ {
		_, err := f.coord.SyncNow(ctx)
		require.NoError(t, err)
		f.advance(10 * time.Minute)
	}

	require.NoError(t, f.svc.Retry(ctx, doc.ID))

	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	got, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, library.SyncSynced, got.SyncStatus)
	assert.Nil(t, got.SyncError)
}

// deletingCatalog removes the local document while the publish request is
// in flight, reproducing a delete racing a sync cycle.
type deletingCatalog struct {
	inner Catalog
	docs  *library.Store
	docID string
}

func (d *deletingCatalog) Publish(ctx context.Context, payload wire.PublishPayload) (catalog.PublicationResult, error) {
	if err := d.docs.Delete(ctx, d.docID); err != nil {
		return catalog.PublicationResult{}, err
	}
	return d.inner.Publish(ctx, payload)
}

func (d *deletingCatalog) Unpublish(ctx context.Context, publicID string) error {
	return d.inner.Unpublish(ctx, publicID)
}

func TestSyncNow_DocumentDeletedMidFlight(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	doc := f.publishDoc(t, "Routine")

	f.coord.catalog = &deletingCatalog{
		inner: f.coord.catalog, docs: f.docs, docID: doc.ID,
	}

	// The publish still succeeds remotely; applying the result to the
	// vanished document is a quiet no-op.
	result, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	_, err = f.docs.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestStatus_LastDrainFromDurableState(t *testing.T) {
	f := createFixture(t)
	ctx := context.Background()
	f.publishDoc(t, "Routine")

	_, err := f.coord.SyncNow(ctx)
	require.NoError(t, err)

	// A second coordinator over the same stores, as after a process
	// restart, still reports when the queue last moved.
	client := catalog.NewClient(f.server.URL(), catalog.StaticToken("tok-1"))
	fresh := New(f.ops, f.docs, client,
		ProberFunc(func(ctx context.Context) bool { return true }),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithNowFunc(func() time.Time { return f.now }))

	status, err := fresh.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.now, status.LastDrain)
}

func TestRun_WakeTriggersCycle(t *testing.T) {
	f := createFixture(t, WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.coord.Run(ctx) }()

	doc := f.publishDoc(t, "Routine")
	f.coord.Wake()

	require.Eventually(t, func() bool {
		got, err := f.docs.Get(context.Background(), doc.ID)
		return err == nil && got.SyncStatus == library.SyncSynced
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
