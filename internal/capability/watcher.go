package capability

import (
	"context"
	"time"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
)

const probeTimeout = 3 * time.Second

// Watcher periodically probes remote reachability and drives the online
// flag. On every offline-to-online transition it re-probes both backends
// and fires the registered callback, which is where the reconciler hangs
// its replay.
type Watcher struct {
	state    *State
	remote   Prober
	local    Prober
	interval time.Duration
	onOnline func(ctx context.Context)
	log      logging.Logger
}

func NewWatcher(state *State, remote, local Prober, interval time.Duration, onOnline func(ctx context.Context), log logging.Logger) *Watcher {
	return &Watcher{
		state:    state,
		remote:   remote,
		local:    local,
		interval: interval,
		onOnline: onOnline,
		log:      log,
	}
}

// Run blocks until ctx is done. The first check happens immediately so the
// startup probe is not delayed by a full interval.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(ctx)

	for {
		select {
		case <-ticker.C:
			w.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := w.remote.Ping(probeCtx)
	cancel()

	if err != nil {
		w.state.setOnline(false)
		w.log.Debug(ctx, "connectivity check failed", "error", err)
		return
	}

	if w.state.setOnline(true) {
		w.log.Info(ctx, "connectivity restored")
		w.state.Probe(ctx, w.remote, w.local)
		if w.onOnline != nil {
			w.onOnline(ctx)
		}
	}
}
