// Package forms is the boundary the form UI talks to: draft saving,
// submission, listing and deletion, with the hybrid routing and the field
// codec hidden behind it.
package forms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/capability"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/region"
)

// Store is the hybrid record router the service routes through.
type Store interface {
	Save(ctx context.Context, rec models.FormRecord, isDraft bool) (models.FormRecord, error)
	List(ctx context.Context, isDraft bool) ([]models.FormRecord, error)
	Delete(ctx context.Context, id models.RecordID, isDraft bool) error
}

type Service struct {
	store Store
	caps  *capability.State
	log   logging.Logger

	now func() time.Time
}

func NewService(store Store, caps *capability.State, log logging.Logger) *Service {
	return &Service{store: store, caps: caps, log: log, now: time.Now}
}

// SaveDraft persists the record as a draft, assigning region defaults on
// first save. The returned record carries the id every later save must
// reuse.
func (s *Service) SaveDraft(ctx context.Context, rec models.FormRecord) (models.FormRecord, error) {
	rec.Status = models.StatusDraft
	applyRegion(&rec)
	return s.store.Save(ctx, rec, true)
}

// Submit finalizes the form: the record flips to completed exactly once,
// gets its submission id, and moves to the completed collection. The draft
// revision left behind by autosave is cleaned up afterwards; a failure
// there is logged, not surfaced, since the submission itself is durable.
func (s *Service) Submit(ctx context.Context, rec models.FormRecord) (models.FormRecord, error) {
	if rec.Status == models.StatusCompleted {
		return models.FormRecord{}, fmt.Errorf("record %s already completed", rec.ID)
	}

	applyRegion(&rec)
	draftID := rec.ID
	rec.Status = models.StatusCompleted
	rec.SubmissionID = models.NewSubmissionID(rec.RegionCode, s.now())

	saved, err := s.store.Save(ctx, rec, false)
	if err != nil {
		return models.FormRecord{}, fmt.Errorf("submit: %w", err)
	}

	if !draftID.IsZero() {
		if derr := s.store.Delete(ctx, draftID, true); derr != nil && !errors.Is(derr, common.ErrNotFound) {
			s.log.Warn(ctx, "draft cleanup after submit failed", "draftID", draftID, "error", derr)
		}
	}

	s.log.Info(ctx, "form submitted", "id", saved.ID, "submissionID", saved.SubmissionID, "synced", saved.Synced)
	return saved, nil
}

// List returns the drafts or the completed forms, newest first. Storage
// trouble degrades to an empty list.
func (s *Service) List(ctx context.Context, isDraft bool) ([]models.FormRecord, error) {
	return s.store.List(ctx, isDraft)
}

// Delete removes a record from whichever backends hold it.
func (s *Service) Delete(ctx context.Context, id models.RecordID, isDraft bool) error {
	return s.store.Delete(ctx, id, isDraft)
}

// Capabilities reports the currently believed backend availability.
func (s *Service) Capabilities() models.CapabilitySnapshot {
	return s.caps.Snapshot()
}

// applyRegion fills the region defaults on a record that never picked one.
func applyRegion(rec *models.FormRecord) {
	if rec.RegionCode == "" {
		rec.RegionCode = region.DefaultCode
	}
	if rec.Region == "" {
		rec.Region = region.Lookup(rec.RegionCode).Label
	}
}
