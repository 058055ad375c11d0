package draft

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

type fakeSaver struct {
	mu    sync.Mutex
	calls []models.FormRecord
	err   error
	gate  chan struct{}
}

func (f *fakeSaver) SaveDraft(_ context.Context, rec models.FormRecord) (models.FormRecord, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.FormRecord{}, f.err
	}
	f.calls = append(f.calls, rec)
	if rec.ID.IsZero() {
		rec.ID = models.RemoteID(fmt.Sprintf("%d", len(f.calls)))
	}
	return rec, nil
}

func (f *fakeSaver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestController(saver Saver, opts Options) *Controller {
	c := New(saver, opts, testLogger())
	return c
}

// advance replaces the controller clock with one fixed past the debounce
// window, so autosave eligibility does not depend on real sleeping.
func advance(c *Controller, d time.Duration) {
	base := c.now()
	c.now = func() time.Time { return base.Add(d) }
}

func dirtyForm(c *Controller, fields map[string]string) {
	c.Update(models.FormRecord{Status: models.StatusDraft, Fields: fields})
}

func TestAutosave_SkipsCleanForm(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(saver, Options{MinFields: 1})

	c.autosave(context.Background())
	assert.Zero(t, saver.callCount())
	assert.Equal(t, models.SaveIdle, c.Status())
}

func TestAutosave_RespectsDebounce(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(saver, Options{Debounce: time.Minute, MinFields: 1})
	dirtyForm(c, map[string]string{"patientName": "x"})

	c.autosave(context.Background())
	assert.Zero(t, saver.callCount(), "a form edited a moment ago is not saved yet")

	advance(c, 2*time.Minute)
	c.autosave(context.Background())
	assert.Equal(t, 1, saver.callCount())
}

func TestAutosave_RequiresMinimumFields(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(saver, Options{Debounce: time.Millisecond, MinFields: 3})
	dirtyForm(c, map[string]string{"patientName": "x", "empty": ""})
	advance(c, time.Second)

	c.autosave(context.Background())
	assert.Zero(t, saver.callCount(), "one answered field is below the threshold")
}

func TestAutosave_PreservesIDAcrossSaves(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(saver, Options{Debounce: time.Millisecond, MinFields: 1})
	ctx := context.Background()

	dirtyForm(c, map[string]string{"patientName": "a"})
	advance(c, time.Second)
	c.autosave(ctx)

	dirtyForm(c, map[string]string{"patientName": "ab"})
	advance(c, time.Second)
	c.autosave(ctx)

	require.Equal(t, 2, saver.callCount())
	assert.True(t, saver.calls[0].ID.IsZero())
	assert.Equal(t, models.RemoteID("1"), saver.calls[1].ID,
		"the second save carries the id the first save was assigned")
	assert.Equal(t, models.SaveSuccess, c.Status())
	assert.False(t, c.LastSaved().IsZero())
}

func TestAutosave_InFlightSaveAbsorbsTrigger(t *testing.T) {
	saver := &fakeSaver{gate: make(chan struct{})}
	c := newTestController(saver, Options{Debounce: time.Millisecond, MinFields: 1})
	dirtyForm(c, map[string]string{"patientName": "x"})
	advance(c, time.Second)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		c.autosave(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.saving.Load() }, time.Second, time.Millisecond)

	c.autosave(ctx) // returns immediately, no second save queued

	close(saver.gate)
	<-done
	assert.Equal(t, 1, saver.callCount())
}

func TestSaveFailure_SnapshotAndWarning(t *testing.T) {
	dir := t.TempDir()
	var warned int
	saver := &fakeSaver{err: fmt.Errorf("all storage methods failed")}
	c := newTestController(saver, Options{
		Debounce:  time.Millisecond,
		MinFields: 1,
		BackupDir: dir,
		WarnAfter: 2,
		OnWarning: func(n int) { warned = n },
	})
	dirtyForm(c, map[string]string{"patientName": "Nomsa D"})
	advance(c, time.Second)

	ctx := context.Background()
	require.Error(t, c.ManualSave(ctx))
	assert.Equal(t, models.SaveError, c.Status())
	assert.Zero(t, warned, "warning only after repeated failures")

	require.Error(t, c.ManualSave(ctx))
	assert.Equal(t, 2, warned)

	data, err := os.ReadFile(filepath.Join(dir, snapshotName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Nomsa D", "snapshot keeps the answers recoverable")
}

func TestManualSave_IgnoresDebounceAndFieldCount(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(saver, Options{Debounce: time.Hour, MinFields: 10})
	dirtyForm(c, map[string]string{"patientName": "x"})

	require.NoError(t, c.ManualSave(context.Background()))
	require.Equal(t, 1, saver.callCount())
	assert.Equal(t, models.StatusDraft, saver.calls[0].Status)
}

func TestFlush(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(saver, Options{MinFields: 1})
	ctx := context.Background()

	c.Flush(ctx)
	assert.Zero(t, saver.callCount(), "nothing to flush on a clean form")

	dirtyForm(c, map[string]string{"patientName": "x"})
	c.Flush(ctx)
	assert.Equal(t, 1, saver.callCount())

	c.Flush(ctx)
	assert.Equal(t, 1, saver.callCount(), "a successful flush clears the dirty flag")
}

func TestRun_TicksAutosave(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(saver, Options{Interval: 10 * time.Millisecond, Debounce: time.Millisecond, MinFields: 1})
	dirtyForm(c, map[string]string{"patientName": "x"})
	advance(c, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return saver.callCount() >= 1 }, time.Second, 5*time.Millisecond)
}
