// Package draft runs the autosave lifecycle of the form being edited:
// a debounced periodic save of the dirty working copy, an emergency flush on
// shutdown, and a file snapshot fallback when every store refused the write.
package draft

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/filex"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

// Saver persists one draft revision and returns the stored record with its
// assigned id. The forms service implements it.
type Saver interface {
	SaveDraft(ctx context.Context, rec models.FormRecord) (models.FormRecord, error)
}

// Options tune the controller. Zero values fall back to the defaults below.
type Options struct {
	// Interval is the autosave cadence.
	Interval time.Duration
	// Debounce is the quiet period after the last edit before an autosave
	// may fire, so a form being actively typed into is not saved mid-word.
	Debounce time.Duration
	// MinFields is the minimum number of answered fields before a draft is
	// considered worth persisting.
	MinFields int
	// BackupDir receives the snapshot file written when a save fails
	// outright. Empty disables snapshots.
	BackupDir string
	// WarnAfter is the consecutive-failure count that triggers OnWarning.
	WarnAfter int
	// OnWarning is invoked (on the autosave goroutine) when saves keep
	// failing; the UI surfaces it to the clinician.
	OnWarning func(consecutiveFailures int)
}

const (
	defaultInterval  = 30 * time.Second
	defaultDebounce  = 2 * time.Second
	defaultWarnAfter = 3

	snapshotName = "draft-backup.json"
)

type Controller struct {
	saver Saver
	opts  Options
	log   logging.Logger

	mu        sync.Mutex
	rec       models.FormRecord
	dirty     bool
	lastEdit  time.Time
	status    models.SaveStatus
	lastSaved time.Time
	failures  int

	saving atomic.Bool

	now func() time.Time
}

func New(saver Saver, opts Options, log logging.Logger) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.WarnAfter <= 0 {
		opts.WarnAfter = defaultWarnAfter
	}
	return &Controller{
		saver:  saver,
		opts:   opts,
		log:    log,
		status: models.SaveIdle,
		now:    time.Now,
	}
}

// Update replaces the working copy with the latest form state. The id of a
// previously saved revision is preserved so the next save updates in place.
func (c *Controller) Update(rec models.FormRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.ID.IsZero() {
		rec.ID = c.rec.ID
	}
	c.rec = rec
	c.dirty = true
	c.lastEdit = c.now()
}

// Status returns the observable save state.
func (c *Controller) Status() models.SaveStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastSaved returns when the last successful save finished.
func (c *Controller) LastSaved() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved
}

// Run drives the autosave loop until ctx is cancelled. Call it on its own
// goroutine.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.autosave(ctx)
		}
	}
}

// autosave persists the working copy when it is dirty, quiet past the
// debounce window, and substantial enough. A save already in flight absorbs
// the trigger silently; the next tick picks the work up again.
func (c *Controller) autosave(ctx context.Context) {
	c.mu.Lock()
	rec := c.rec.Clone()
	stamp := c.lastEdit
	eligible := c.dirty &&
		c.now().Sub(c.lastEdit) >= c.opts.Debounce &&
		answeredFields(rec) >= c.opts.MinFields
	c.mu.Unlock()

	if !eligible {
		return
	}
	if !c.saving.CompareAndSwap(false, true) {
		return
	}
	defer c.saving.Store(false)

	c.save(ctx, rec, stamp)
}

// ManualSave persists the working copy immediately, regardless of debounce
// or field count, always as a draft. It may run alongside an in-flight
// autosave; both carry the same id, so last-write-wins is acceptable.
func (c *Controller) ManualSave(ctx context.Context) error {
	c.mu.Lock()
	rec := c.rec.Clone()
	stamp := c.lastEdit
	c.mu.Unlock()
	return c.save(ctx, rec, stamp)
}

// Flush is the shutdown path: one best-effort synchronous save if the
// working copy is dirty and nothing is already in flight.
func (c *Controller) Flush(ctx context.Context) {
	c.mu.Lock()
	dirty := c.dirty
	rec := c.rec.Clone()
	stamp := c.lastEdit
	c.mu.Unlock()

	if !dirty {
		return
	}
	if !c.saving.CompareAndSwap(false, true) {
		return
	}
	defer c.saving.Store(false)

	if err := c.save(ctx, rec, stamp); err != nil {
		c.log.Error(ctx, "flush on shutdown failed", "error", err)
	}
}

// save persists one revision. stamp is the lastEdit value the revision was
// cloned at; the dirty flag clears only if no edit arrived while the save
// ran.
func (c *Controller) save(ctx context.Context, rec models.FormRecord, stamp time.Time) error {
	c.setStatus(models.SaveSaving)

	saved, err := c.saver.SaveDraft(ctx, rec)
	if err != nil {
		c.onFailure(ctx, rec, err)
		return err
	}

	c.mu.Lock()
	c.rec.ID = saved.ID
	if c.lastEdit.Equal(stamp) {
		c.dirty = false
	}
	c.lastSaved = c.now()
	c.failures = 0
	c.status = models.SaveSuccess
	c.mu.Unlock()

	c.log.Debug(ctx, "draft saved", "id", saved.ID)
	return nil
}

func (c *Controller) onFailure(ctx context.Context, rec models.FormRecord, cause error) {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.status = models.SaveError
	c.mu.Unlock()

	c.log.Warn(ctx, "draft save failed", "failures", failures, "error", cause)

	if c.opts.BackupDir != "" {
		if data, err := json.Marshal(rec); err == nil {
			if werr := filex.WriteSnapshot(c.opts.BackupDir, snapshotName, data); werr != nil {
				c.log.Error(ctx, "snapshot fallback failed", "error", werr)
			}
		}
	}

	if failures >= c.opts.WarnAfter && c.opts.OnWarning != nil {
		c.opts.OnWarning(failures)
	}
}

func (c *Controller) setStatus(s models.SaveStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// answeredFields counts the non-empty answers in the open field set.
func answeredFields(rec models.FormRecord) int {
	n := 0
	for _, v := range rec.Fields {
		if v != "" {
			n++
		}
	}
	return n
}
