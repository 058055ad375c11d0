// Package models holds the shared types of the persistence engine: the form
// record, its tagged identifier, capability snapshots and save telemetry.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a form record. A record is created as
// a draft and becomes completed exactly once, at submission.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
)

// Backend tags which store an identifier belongs to, so delete routing is
// exhaustive instead of being inferred from the runtime shape of the id.
type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

// RecordID identifies one logical form instance across its entire
// draft-to-completed lifecycle. The same id is preserved across every save
// so that autosave updates a record in place rather than duplicating it.
type RecordID struct {
	Backend Backend `json:"backend"`
	Value   string  `json:"value"`
}

// NewLocalID returns a time-based identifier for a record first created on
// this device. The uuid suffix keeps two records created within the same
// millisecond distinct.
func NewLocalID(now time.Time) RecordID {
	return RecordID{
		Backend: BackendLocal,
		Value:   fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
	}
}

// RemoteID wraps an identifier assigned by the remote store.
func RemoteID(value string) RecordID {
	return RecordID{Backend: BackendRemote, Value: value}
}

// LocalID wraps an identifier assigned by the local store.
func LocalID(value string) RecordID {
	return RecordID{Backend: BackendLocal, Value: value}
}

func (id RecordID) IsZero() bool {
	return id.Value == ""
}

func (id RecordID) String() string {
	if id.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s", id.Backend, id.Value)
}

// FormRecord is the unit of persistence: a typed core schema plus an open
// extension map for the form's free-form answers.
type FormRecord struct {
	ID     RecordID `json:"id"`
	Status Status   `json:"status"`

	// Routing and labeling tags, set once at form initialization and
	// carried through unchanged.
	RegionCode     string `json:"regionCode"`
	Region         string `json:"region"`
	Doctor         string `json:"doctor"`
	PracticeNumber string `json:"practiceNumber"`

	// Fields is the open-ended answer set. Keys listed by the codec as
	// sensitive never cross a persistence boundary in plaintext.
	Fields map[string]string `json:"fields"`

	Timestamp    time.Time `json:"timestamp"`
	LastModified time.Time `json:"lastModified"`

	// Synced is true only once the remote store has durably accepted a
	// completed record. SubmissionID is assigned at completion time as
	// {regionCode}-{epochMillis}; it is a dedup hint, not a uniqueness
	// guarantee.
	Synced       bool      `json:"synced"`
	SyncedAt     time.Time `json:"syncedAt,omitzero"`
	SubmissionID string    `json:"submissionId,omitempty"`

	// Encrypted tells a reader whether the sensitive fields of a persisted
	// copy need the codec's decode path. DecryptionFailed flags a record
	// where at least one field could not be decoded; the record is still
	// returned with the affected fields as stored.
	Encrypted        bool `json:"encrypted"`
	DecryptionFailed bool `json:"decryptionFailed,omitempty"`
}

// Clone returns a deep copy of the record. Stores and the codec operate on
// clones so callers never observe half-transformed field maps.
func (r FormRecord) Clone() FormRecord {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// NewSubmissionID builds the completion-time submission identifier.
func NewSubmissionID(regionCode string, now time.Time) string {
	return fmt.Sprintf("%s-%d", regionCode, now.UnixMilli())
}
