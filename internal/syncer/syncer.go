// Package syncer reconciles locally stranded records with the remote store
// once connectivity returns. One pass pushes unsent drafts, replays
// completed-but-unsynced submissions, and drains the remote sync_queue.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/region"
)

// Local is the slice of the embedded store the reconciler reads from.
type Local interface {
	List(ctx context.Context, isDraft bool) ([]models.FormRecord, error)
	ListUnsynced(ctx context.Context) ([]models.FormRecord, error)
	Delete(ctx context.Context, id string, isDraft bool) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// Remote is the slice of the remote client the reconciler pushes to.
type Remote interface {
	Insert(ctx context.Context, rec models.FormRecord, isDraft bool) (models.RecordID, error)
	Update(ctx context.Context, rec models.FormRecord, isDraft bool) error
	Exists(ctx context.Context, id string, isDraft bool) (bool, error)
	Enqueue(ctx context.Context, item models.QueueItem) (int64, error)
	PendingQueue(ctx context.Context) ([]models.QueueItem, error)
	BumpRetry(ctx context.Context, id int64, errMsg string, failed bool) error
	RemoveQueued(ctx context.Context, id int64) error
}

// Result counts the outcome of one reconciliation pass.
type Result struct {
	Success int
	Failed  int
}

type Reconciler struct {
	local  Local
	remote Remote
	log    logging.Logger

	maxAttempts uint64
	baseDelay   time.Duration

	running atomic.Bool
	mu      sync.Mutex
	lastRun time.Time

	now func() time.Time
}

func New(local Local, remote Remote, maxAttempts int, baseDelay time.Duration, log logging.Logger) *Reconciler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reconciler{
		local:       local,
		remote:      remote,
		log:         log,
		maxAttempts: uint64(maxAttempts),
		baseDelay:   baseDelay,
		now:         time.Now,
	}
}

// LastRun reports when the previous pass finished.
func (r *Reconciler) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// SyncAll runs one reconciliation pass. Concurrent calls collapse to one:
// a pass already in flight makes the second call return immediately with an
// empty result.
//
// The pass enumerates all pending work before deleting anything, so a
// failure midway never loses records that were counted but not yet pushed.
func (r *Reconciler) SyncAll(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Debug(ctx, "sync pass already in flight, skipping")
		return Result{}, nil
	}
	defer r.running.Store(false)

	drafts, err := r.local.List(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("enumerate drafts: %w", err)
	}
	unsynced, err := r.local.ListUnsynced(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("enumerate unsynced: %w", err)
	}

	var res Result
	for _, rec := range drafts {
		if err := r.pushDraft(ctx, rec); err != nil {
			res.Failed++
			r.log.Warn(ctx, "draft sync failed", "id", rec.ID, "error", err)
			continue
		}
		res.Success++
	}

	for _, rec := range unsynced {
		if err := r.pushCompleted(ctx, rec); err != nil {
			res.Failed++
			r.log.Warn(ctx, "submission sync failed", "id", rec.ID, "error", err)
			continue
		}
		res.Success++
	}

	qs, qf := r.drainQueue(ctx)
	res.Success += qs
	res.Failed += qf

	r.mu.Lock()
	r.lastRun = r.now()
	r.mu.Unlock()

	r.log.Info(ctx, "sync pass finished", "success", res.Success, "failed", res.Failed)
	return res, nil
}

// pushDraft delivers one locally stored draft. The local row is removed only
// after the remote store confirmed acceptance; any failure leaves it behind
// for the next pass.
func (r *Reconciler) pushDraft(ctx context.Context, rec models.FormRecord) error {
	localKey := rec.ID.Value

	// A draft can carry a remote id from before the outage. Update the
	// existing remote row instead of inserting a twin.
	if rec.ID.Backend == models.BackendRemote {
		found, err := r.remote.Exists(ctx, rec.ID.Value, true)
		if err != nil {
			return err
		}
		if found {
			if err := r.remote.Update(ctx, rec, true); err != nil {
				return err
			}
			return r.deleteLocal(ctx, localKey, true)
		}
	}

	if _, err := r.remote.Insert(ctx, rec, true); err != nil {
		return err
	}
	return r.deleteLocal(ctx, localKey, true)
}

// pushCompleted replays one completed submission against its region
// endpoint, with a bounded number of attempts and a linearly growing delay.
// On acceptance the local copy is marked synced and kept; completed records
// are never deleted. A client rejection is permanent: the payload is parked
// in the remote sync_queue instead of being retried forever.
func (r *Reconciler) pushCompleted(ctx context.Context, rec models.FormRecord) error {
	endpoint := region.Lookup(rec.RegionCode).Endpoint

	err := retry.Do(ctx, retry.WithMaxRetries(r.maxAttempts-1, linearBackoff(r.baseDelay)),
		func(ctx context.Context) error {
			_, ierr := r.remote.Insert(ctx, rec, false)
			if ierr == nil {
				return nil
			}
			if errors.Is(ierr, common.ErrClientRejected) {
				return ierr
			}
			return retry.RetryableError(ierr)
		})

	if errors.Is(err, common.ErrClientRejected) {
		r.park(ctx, rec, endpoint, err)
		return err
	}
	if err != nil {
		return err
	}

	if merr := r.local.MarkSynced(ctx, rec.ID.Value, r.now().UTC()); merr != nil {
		// The remote copy is durable; the stale local flag only costs a
		// duplicate push attempt on the next pass.
		r.log.Warn(ctx, "mark synced failed after accepted push", "id", rec.ID, "error", merr)
	}
	r.log.Info(ctx, "submission delivered", "id", rec.ID, "endpoint", endpoint)
	return nil
}

// park records a permanently rejected submission in the remote sync_queue so
// the rejection is visible server-side and auditable.
func (r *Reconciler) park(ctx context.Context, rec models.FormRecord, endpoint string, cause error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		r.log.Error(ctx, "marshal rejected submission", "id", rec.ID, "error", err)
		return
	}
	_, err = r.remote.Enqueue(ctx, models.QueueItem{
		FormData:           payload,
		RegionCode:         rec.RegionCode,
		Status:             models.QueueFailed,
		SubmissionEndpoint: endpoint,
		ErrorMessage:       cause.Error(),
	})
	if err != nil {
		r.log.Warn(ctx, "could not park rejected submission", "id", rec.ID, "error", err)
	}
}

// drainQueue replays pending sync_queue rows. Each accepted row is removed;
// a failed row gets its retry count bumped, flipping to failed status once
// the bound is reached.
func (r *Reconciler) drainQueue(ctx context.Context) (success, failed int) {
	items, err := r.remote.PendingQueue(ctx)
	if err != nil {
		if !errors.Is(err, common.ErrTransportUnavailable) {
			r.log.Warn(ctx, "read sync queue", "error", err)
		}
		return 0, 0
	}

	for _, item := range items {
		var rec models.FormRecord
		if err := json.Unmarshal(item.FormData, &rec); err != nil {
			r.log.Error(ctx, "corrupt queue payload", "queueID", item.ID, "error", err)
			if berr := r.remote.BumpRetry(ctx, item.ID, "corrupt payload: "+err.Error(), true); berr != nil {
				r.log.Warn(ctx, "bump retry failed", "queueID", item.ID, "error", berr)
			}
			failed++
			continue
		}

		if _, err := r.remote.Insert(ctx, rec, false); err != nil {
			exhausted := item.RetryCount+1 >= int(r.maxAttempts)
			if berr := r.remote.BumpRetry(ctx, item.ID, err.Error(), exhausted); berr != nil {
				r.log.Warn(ctx, "bump retry failed", "queueID", item.ID, "error", berr)
			}
			failed++
			continue
		}

		if err := r.remote.RemoveQueued(ctx, item.ID); err != nil {
			r.log.Warn(ctx, "remove queued item", "queueID", item.ID, "error", err)
		}
		success++
	}
	return success, failed
}

func (r *Reconciler) deleteLocal(ctx context.Context, id string, isDraft bool) error {
	err := r.local.Delete(ctx, id, isDraft)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("delete local copy: %w", err)
	}
	return nil
}

// linearBackoff waits base, 2*base, 3*base between attempts.
func linearBackoff(base time.Duration) retry.Backoff {
	var attempt int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n := atomic.AddInt64(&attempt, 1)
		return time.Duration(n) * base, false
	})
}
