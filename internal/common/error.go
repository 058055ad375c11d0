// Package common defines shared constants and sentinel errors used across
// the persistence and sync layers. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Storage-level errors.
	ErrNotFound = errors.New("not found")

	// Backend availability errors. ErrTransportUnavailable means the remote
	// store could not be reached at all; ErrLocalUnavailable means the
	// embedded database could not be opened or written.
	ErrTransportUnavailable = errors.New("remote store unreachable")
	ErrLocalUnavailable     = errors.New("local store unavailable")

	// ErrClientRejected marks a permanent rejection by the remote store
	// (validation, constraint or permission failure). Retrying does not help.
	ErrClientRejected = errors.New("rejected by remote store")

	// ErrAllBackendsFailed is the only unrecoverable save outcome: both the
	// remote and the local store refused the write.
	ErrAllBackendsFailed = errors.New("all storage methods failed")
)
