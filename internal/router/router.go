// Package router implements the hybrid record router: for every save, list
// and delete it picks remote-first with local fallback based on the current
// capability snapshot, and performs deduplicated update-in-place for drafts
// so a 30-45 second autosave cadence never fans out duplicate rows.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/capability"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/codec"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

// RemoteStore is the slice of the remote client the router needs.
type RemoteStore interface {
	Insert(ctx context.Context, rec models.FormRecord, isDraft bool) (models.RecordID, error)
	Update(ctx context.Context, rec models.FormRecord, isDraft bool) error
	Exists(ctx context.Context, id string, isDraft bool) (bool, error)
	List(ctx context.Context, isDraft bool) ([]models.FormRecord, error)
	Delete(ctx context.Context, id string, isDraft bool) error
}

// LocalStore is the slice of the embedded store the router needs.
type LocalStore interface {
	Put(ctx context.Context, rec models.FormRecord, isDraft bool) error
	Get(ctx context.Context, id string, isDraft bool) (models.FormRecord, error)
	List(ctx context.Context, isDraft bool) ([]models.FormRecord, error)
	Delete(ctx context.Context, id string, isDraft bool) error
}

type Router struct {
	remote RemoteStore
	local  LocalStore
	caps   *capability.State
	codec  *codec.Codec
	log    logging.Logger

	now func() time.Time
}

func New(remote RemoteStore, local LocalStore, caps *capability.State, c *codec.Codec, log logging.Logger) *Router {
	return &Router{
		remote: remote,
		local:  local,
		caps:   caps,
		codec:  c,
		log:    log,
		now:    time.Now,
	}
}

// Save persists rec, choosing the backend and between update and insert.
//
// The order of attempts:
//  1. A draft that already carries an id is updated in place on whichever
//     backend holds it (remote first). This is the dedup path.
//  2. Otherwise the record is inserted remotely when the remote store is
//     believed available; a transport failure flips the capability flag and
//     falls through.
//  3. The local embedded store takes the write when the remote path was
//     unavailable or failed. Only when this fails too does the caller see
//     common.ErrAllBackendsFailed, the one unrecoverable outcome.
//
// Sensitive fields are encoded before either backend sees the record; the
// returned record carries the caller's plaintext plus the assigned id and
// sync state.
func (r *Router) Save(ctx context.Context, rec models.FormRecord, isDraft bool) (models.FormRecord, error) {
	now := r.now().UTC()
	firstSave := rec.ID.IsZero()
	if firstSave {
		rec.ID = models.NewLocalID(now)
		if rec.Timestamp.IsZero() {
			rec.Timestamp = now
		}
	}
	rec.LastModified = now

	enc := r.codec.Encode(rec)

	if isDraft && !firstSave {
		if saved, ok := r.updateExisting(ctx, rec, enc); ok {
			return saved, nil
		}
	}

	if r.caps.RemoteAvailable() {
		id, err := r.remote.Insert(ctx, enc, isDraft)
		switch {
		case err == nil:
			rec.ID = id
			if !isDraft {
				rec.Synced = true
				rec.SyncedAt = now
			}
			return rec, nil
		case errors.Is(err, common.ErrTransportUnavailable):
			r.caps.MarkRemoteDown(ctx, err)
		default:
			// Rejected by the server. The rejection is permanent, but the
			// user's answers are not allowed to die with it: keep going to
			// the local store and let the reconciler retry from there.
			r.log.Warn(ctx, "remote store rejected insert, falling back to local", "error", err)
		}
	}

	if r.caps.LocalAvailable() {
		err := r.local.Put(ctx, enc, isDraft)
		if err == nil {
			return rec, nil
		}
		r.caps.MarkLocalDown(ctx, err)
	}

	return models.FormRecord{}, fmt.Errorf("%w: record %s", common.ErrAllBackendsFailed, rec.ID)
}

// updateExisting is the dedup path: find a row with the record's id and
// rewrite it in place. Returns ok=false when no backend holds the id, in
// which case Save falls back to the insert path.
func (r *Router) updateExisting(ctx context.Context, rec, enc models.FormRecord) (models.FormRecord, bool) {
	if rec.ID.Backend == models.BackendRemote && r.caps.RemoteAvailable() {
		found, err := r.remote.Exists(ctx, rec.ID.Value, true)
		switch {
		case errors.Is(err, common.ErrTransportUnavailable):
			r.caps.MarkRemoteDown(ctx, err)
		case err == nil && found:
			if uerr := r.remote.Update(ctx, enc, true); uerr == nil {
				return rec, true
			} else if errors.Is(uerr, common.ErrTransportUnavailable) {
				r.caps.MarkRemoteDown(ctx, uerr)
			} else {
				r.log.Warn(ctx, "remote draft update failed", "id", rec.ID, "error", uerr)
			}
		}
	}

	if r.caps.LocalAvailable() {
		if _, err := r.local.Get(ctx, rec.ID.Value, true); err == nil {
			if perr := r.local.Put(ctx, enc, true); perr == nil {
				return rec, true
			}
		}
	}

	return models.FormRecord{}, false
}

// List returns the requested collection, newest first, preferring the
// remote store and falling back to local. Total storage unavailability
// yields an empty slice, not an error, so callers never crash on it.
func (r *Router) List(ctx context.Context, isDraft bool) ([]models.FormRecord, error) {
	if r.caps.RemoteAvailable() {
		recs, err := r.remote.List(ctx, isDraft)
		if err == nil {
			return r.decodeAll(recs), nil
		}
		if errors.Is(err, common.ErrTransportUnavailable) {
			r.caps.MarkRemoteDown(ctx, err)
		} else {
			r.log.Warn(ctx, "remote list failed", "error", err)
		}
	}

	if r.caps.LocalAvailable() {
		recs, err := r.local.List(ctx, isDraft)
		if err == nil {
			return r.decodeAll(recs), nil
		}
		r.caps.MarkLocalDown(ctx, err)
	}

	return []models.FormRecord{}, nil
}

// Delete removes the record from every backend it could live on,
// succeeding if either backend succeeds. A remote-tagged id is also tried
// locally: a record saved during an outage keeps its remote id inside the
// local store.
func (r *Router) Delete(ctx context.Context, id models.RecordID, isDraft bool) error {
	if id.IsZero() {
		return common.ErrNotFound
	}

	var deleted, attempted bool

	if id.Backend == models.BackendRemote && r.caps.RemoteAvailable() {
		attempted = true
		err := r.remote.Delete(ctx, id.Value, isDraft)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, common.ErrTransportUnavailable):
			r.caps.MarkRemoteDown(ctx, err)
		case errors.Is(err, common.ErrNotFound):
		default:
			r.log.Warn(ctx, "remote delete failed", "id", id, "error", err)
		}
	}

	if r.caps.LocalAvailable() {
		attempted = true
		err := r.local.Delete(ctx, id.Value, isDraft)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, common.ErrNotFound):
		default:
			r.caps.MarkLocalDown(ctx, err)
		}
	}

	if deleted {
		return nil
	}
	if attempted {
		return common.ErrNotFound
	}
	return fmt.Errorf("%w: delete %s", common.ErrAllBackendsFailed, id)
}

func (r *Router) decodeAll(recs []models.FormRecord) []models.FormRecord {
	out := make([]models.FormRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.codec.Decode(rec))
	}
	return out
}
