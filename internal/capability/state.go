// Package capability tracks the believed availability of the two storage
// backends. The state is an explicit, injectable object (not process-wide
// flags) so the router and the reconciler stay testable in isolation.
//
// Degradation is optimistic: any operational failure against a store flips
// its flag for the remainder of the session, preventing repeated slow
// timeouts on every write. A downgraded flag recovers only on the
// offline-to-online transition, when the watcher re-probes both stores.
package capability

import (
	"context"
	"sync"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

// Prober is the lightweight reachability check a backend exposes.
type Prober interface {
	Ping(ctx context.Context) error
}

// State holds the capability snapshot and the online flag.
type State struct {
	mu     sync.RWMutex
	remote bool
	local  bool
	online bool

	log logging.Logger
}

// NewState starts optimistic: both backends are assumed available until a
// probe or an operational failure says otherwise.
func NewState(log logging.Logger) *State {
	return &State{remote: true, local: true, online: true, log: log}
}

// Probe refreshes both flags by pinging the backends. Run once at startup
// and again on every offline-to-online transition.
func (s *State) Probe(ctx context.Context, remote, local Prober) models.CapabilitySnapshot {
	remoteOK := remote != nil && remote.Ping(ctx) == nil
	localOK := local != nil && local.Ping(ctx) == nil

	s.mu.Lock()
	s.remote = remoteOK
	s.local = localOK
	s.mu.Unlock()

	s.log.Info(ctx, "storage capabilities probed", "remote", remoteOK, "local", localOK)
	return models.CapabilitySnapshot{RemoteAvailable: remoteOK, LocalAvailable: localOK}
}

// Snapshot returns the current capability snapshot.
func (s *State) Snapshot() models.CapabilitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CapabilitySnapshot{RemoteAvailable: s.remote, LocalAvailable: s.local}
}

func (s *State) RemoteAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

func (s *State) LocalAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// MarkRemoteDown records an operational failure against the remote store.
func (s *State) MarkRemoteDown(ctx context.Context, reason error) {
	s.mu.Lock()
	changed := s.remote
	s.remote = false
	s.mu.Unlock()

	if changed {
		s.log.Warn(ctx, "remote store marked unavailable", "reason", reason)
	}
}

// MarkLocalDown records an operational failure against the embedded store.
func (s *State) MarkLocalDown(ctx context.Context, reason error) {
	s.mu.Lock()
	changed := s.local
	s.local = false
	s.mu.Unlock()

	if changed {
		s.log.Warn(ctx, "local store marked unavailable", "reason", reason)
	}
}

// Online reports the current connectivity belief.
func (s *State) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// setOnline updates the connectivity flag and reports whether this call was
// the offline-to-online transition.
func (s *State) setOnline(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasOffline := !s.online
	s.online = online
	return online && wasOffline
}
