package models

import "time"

// CapabilitySnapshot is the currently believed availability of the two
// storage backends.
type CapabilitySnapshot struct {
	RemoteAvailable bool `json:"remoteAvailable"`
	LocalAvailable  bool `json:"localAvailable"`
}

// SaveStatus is the observable state of the draft lifecycle controller.
type SaveStatus string

const (
	SaveIdle    SaveStatus = "idle"
	SaveSaving  SaveStatus = "saving"
	SaveSuccess SaveStatus = "success"
	SaveError   SaveStatus = "error"
)

// QueueItem is a row in the remote sync_queue collection: the durable record
// of a submission that could not be delivered directly.
type QueueItem struct {
	ID                 int64     `json:"id"`
	FormData           []byte    `json:"formData"`
	RegionCode         string    `json:"regionCode"`
	RetryCount         int       `json:"retryCount"`
	Status             string    `json:"status"`
	SubmissionEndpoint string    `json:"submissionEndpoint"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Queue item statuses.
const (
	QueuePending = "pending"
	QueueFailed  = "failed"
)
