package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

type fakeLocal struct {
	mu       sync.Mutex
	drafts   map[string]models.FormRecord
	unsynced map[string]models.FormRecord
	synced   map[string]time.Time

	listGate chan struct{}
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{
		drafts:   make(map[string]models.FormRecord),
		unsynced: make(map[string]models.FormRecord),
		synced:   make(map[string]time.Time),
	}
}

func (f *fakeLocal) List(_ context.Context, isDraft bool) ([]models.FormRecord, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !isDraft {
		return nil, nil
	}
	out := make([]models.FormRecord, 0, len(f.drafts))
	for _, rec := range f.drafts {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeLocal) ListUnsynced(_ context.Context) ([]models.FormRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.FormRecord, 0, len(f.unsynced))
	for _, rec := range f.unsynced {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeLocal) Delete(_ context.Context, id string, isDraft bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	coll := f.drafts
	if !isDraft {
		return common.ErrNotFound
	}
	if _, ok := coll[id]; !ok {
		return common.ErrNotFound
	}
	delete(coll, id)
	return nil
}

func (f *fakeLocal) MarkSynced(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.unsynced[id]; !ok {
		return common.ErrNotFound
	}
	f.synced[id] = at
	return nil
}

type fakeRemote struct {
	mu     sync.Mutex
	drafts map[string]models.FormRecord
	forms  []models.FormRecord
	queue  []models.QueueItem
	nextID int64

	insertErr    error
	insertCalls  int
	bumped       []int64
	bumpedFailed []bool
	removed      []int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{drafts: make(map[string]models.FormRecord)}
}

func (f *fakeRemote) Insert(_ context.Context, rec models.FormRecord, isDraft bool) (models.RecordID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return models.RecordID{}, f.insertErr
	}
	f.nextID++
	id := models.RemoteID(fmt.Sprintf("%d", f.nextID))
	rec.ID = id
	if isDraft {
		f.drafts[id.Value] = rec
	} else {
		f.forms = append(f.forms, rec)
	}
	return id, nil
}

func (f *fakeRemote) Update(_ context.Context, rec models.FormRecord, isDraft bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !isDraft {
		return common.ErrNotFound
	}
	if _, ok := f.drafts[rec.ID.Value]; !ok {
		return common.ErrNotFound
	}
	f.drafts[rec.ID.Value] = rec
	return nil
}

func (f *fakeRemote) Exists(_ context.Context, id string, isDraft bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !isDraft {
		return false, nil
	}
	_, ok := f.drafts[id]
	return ok, nil
}

func (f *fakeRemote) Enqueue(_ context.Context, item models.QueueItem) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	item.ID = f.nextID
	f.queue = append(f.queue, item)
	return item.ID, nil
}

func (f *fakeRemote) PendingQueue(_ context.Context) ([]models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.QueueItem, 0, len(f.queue))
	for _, item := range f.queue {
		if item.Status == models.QueuePending {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeRemote) BumpRetry(_ context.Context, id int64, _ string, failed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumped = append(f.bumped, id)
	f.bumpedFailed = append(f.bumpedFailed, failed)
	return nil
}

func (f *fakeRemote) RemoveQueued(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	for i, item := range f.queue {
		if item.ID == id {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			break
		}
	}
	return nil
}

func newTestReconciler(local *fakeLocal, remote *fakeRemote) *Reconciler {
	return New(local, remote, 3, time.Millisecond, testLogger())
}

func TestSyncAll_PushesDraftAndDeletesLocalCopy(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	id := models.NewLocalID(time.Now())
	local.drafts[id.Value] = models.FormRecord{ID: id, Status: models.StatusDraft}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Success: 1}, res)
	assert.Empty(t, local.drafts, "draft removed only after the remote accepted it")
	assert.Len(t, remote.drafts, 1)
}

func TestSyncAll_DraftWithRemoteIDUpdatesInPlace(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()

	// The shape an outage leaves behind: a remote-tagged draft stored locally.
	id := models.RemoteID("77")
	remote.drafts[id.Value] = models.FormRecord{ID: id, Fields: map[string]string{"visitReason": "old"}}
	local.drafts[id.Value] = models.FormRecord{ID: id, Fields: map[string]string{"visitReason": "new"}}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Success: 1}, res)
	assert.Len(t, remote.drafts, 1, "no twin row when the remote id already exists")
	assert.Equal(t, "new", remote.drafts["77"].Fields["visitReason"])
	assert.Empty(t, local.drafts)
}

func TestSyncAll_FailureKeepsLocalCopy(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	remote.insertErr = fmt.Errorf("insert: %w", common.ErrTransportUnavailable)

	id := models.NewLocalID(time.Now())
	local.drafts[id.Value] = models.FormRecord{ID: id}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, res)
	assert.Len(t, local.drafts, 1, "a failed push must never destroy the local copy")
}

func TestSyncAll_CompletedMarkedSyncedNeverDeleted(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	local.unsynced["f1"] = models.FormRecord{
		ID:         models.LocalID("f1"),
		Status:     models.StatusCompleted,
		RegionCode: "CPT",
	}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Success: 1}, res)
	assert.Len(t, remote.forms, 1)
	assert.Contains(t, local.synced, "f1", "completed records stay local as the audit trail")
}

func TestSyncAll_TransportErrorRetriesUpToBound(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	remote.insertErr = fmt.Errorf("insert: %w", common.ErrTransportUnavailable)
	local.unsynced["f1"] = models.FormRecord{ID: models.LocalID("f1"), Status: models.StatusCompleted}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, res)
	assert.Equal(t, 3, remote.insertCalls)
	assert.NotContains(t, local.synced, "f1")
}

func TestSyncAll_ClientRejectionIsPermanentAndParked(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	remote.insertErr = fmt.Errorf("insert: %w", common.ErrClientRejected)
	local.unsynced["f1"] = models.FormRecord{
		ID:         models.LocalID("f1"),
		Status:     models.StatusCompleted,
		RegionCode: "JHB",
	}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, res)
	assert.Equal(t, 1, remote.insertCalls, "a rejection is never retried")
	require.Len(t, remote.queue, 1)
	assert.Equal(t, models.QueueFailed, remote.queue[0].Status)
	assert.Equal(t, "JHB", remote.queue[0].RegionCode)
	assert.Contains(t, remote.queue[0].SubmissionEndpoint, "jhb")
}

func TestSyncAll_DrainsPendingQueue(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()

	payload, err := json.Marshal(models.FormRecord{ID: models.LocalID("q1"), Status: models.StatusCompleted})
	require.NoError(t, err)
	remote.queue = []models.QueueItem{{ID: 9, FormData: payload, Status: models.QueuePending}}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Success: 1}, res)
	assert.Equal(t, []int64{9}, remote.removed)
	assert.Len(t, remote.forms, 1)
}

func TestSyncAll_QueueItemExhaustsRetries(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	remote.insertErr = fmt.Errorf("insert: %w", common.ErrTransportUnavailable)

	payload, err := json.Marshal(models.FormRecord{ID: models.LocalID("q1")})
	require.NoError(t, err)
	remote.queue = []models.QueueItem{{ID: 4, FormData: payload, Status: models.QueuePending, RetryCount: 2}}

	res, err := newTestReconciler(local, remote).SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, res)
	require.Equal(t, []int64{4}, remote.bumped)
	assert.True(t, remote.bumpedFailed[0], "retry count at the bound flips the row to failed")
}

func TestSyncAll_ConcurrentPassesCollapse(t *testing.T) {
	local := newFakeLocal()
	local.listGate = make(chan struct{})
	remote := newFakeRemote()
	r := newTestReconciler(local, remote)

	done := make(chan Result, 1)
	go func() {
		res, _ := r.SyncAll(context.Background())
		done <- res
	}()

	require.Eventually(t, func() bool { return r.running.Load() }, time.Second, time.Millisecond)

	second, err := r.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, second, "a pass in flight absorbs the second trigger")

	close(local.listGate)
	<-done
}
