// Package agent wires the persistence engine together: stores, codec,
// router, autosave controller and connectivity watcher, plus graceful
// shutdown with a final draft flush.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/capability"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/codec"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/config"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/draft"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/filex"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/forms"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/router"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/store/local"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/store/remote"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/syncer"
)

// keySalt pins key derivation to this application. The passphrase is the
// secret; the salt only separates our keys from other argon2id users.
const keySalt = "mia-consent-intake-v1"

// shutdownTimeout bounds the final flush after the run context is cancelled.
const shutdownTimeout = 5 * time.Second

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type App struct {
	config *config.Config
	log    logging.Logger

	local  *local.Store
	remote *remote.Client
	caps   *capability.State

	Forms      *forms.Service
	Controller *draft.Controller

	watcher    *capability.Watcher
	reconciler *syncer.Reconciler
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	pass := []byte(c.Passphrase)
	if len(pass) == 0 {
		var err error
		pass, err = promptPassphrase(os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
	}
	cdc, err := codec.New(codec.DeriveKey(pass, []byte(keySalt)))
	if err != nil {
		return nil, err
	}

	localStore, err := local.Open(ctx, c.LocalDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	remoteClient, err := remote.Connect(c.RemoteDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("remote client: %w", err)
	}

	caps := capability.NewState(logger)
	caps.Probe(ctx, remoteClient, localStore)

	rtr := router.New(remoteClient, localStore, caps, cdc, logger)
	svc := forms.NewService(rtr, caps, logger)
	rec := syncer.New(localStore, remoteClient, c.SyncMaxAttempts, c.SyncBaseDelay, logger)

	backupDir, err := filex.EnsureSubdDir(c.BackupDir)
	if err != nil {
		return nil, err
	}

	controller := draft.New(svc, draft.Options{
		Interval:  c.AutosaveInterval,
		Debounce:  c.AutosaveDebounce,
		MinFields: c.MinAutosaveFields,
		BackupDir: backupDir,
		OnWarning: func(failures int) {
			logger.Warn(ctx, "autosave keeps failing, answers are held in the snapshot file", "failures", failures)
		},
	}, logger)

	watcher := capability.NewWatcher(caps, remoteClient, localStore, c.OnlineCheckInterval,
		func(ctx context.Context) {
			if _, err := rec.SyncAll(ctx); err != nil {
				logger.Warn(ctx, "reconciliation after reconnect failed", "error", err)
			}
		}, logger)

	return &App{
		config:     c,
		log:        logger,
		local:      localStore,
		remote:     remoteClient,
		caps:       caps,
		Forms:      svc,
		Controller: controller,
		watcher:    watcher,
		reconciler: rec,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the watcher and the autosave loop and blocks until a signal
// arrives. Shutdown drains with one final flush of the working draft.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.log.Info(ctx, "starting intake agent",
		"db", app.config.LocalDBPath, "capabilities", app.caps.Snapshot())

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.watcher.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Controller.Run(ctx)
	}()

	wg.Wait()

	// The run context is gone; the flush gets its own short deadline.
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.Controller.Flush(flushCtx)

	if err := app.remote.Close(); err != nil {
		app.log.Warn(flushCtx, "close remote client", "error", err)
	}
	if err := app.local.Close(); err != nil {
		app.log.Warn(flushCtx, "close local store", "error", err)
	}
	app.log.Info(flushCtx, "agent stopped")
}

// promptPassphrase reads the field-encryption passphrase from the terminal
// without echo.
func promptPassphrase(w *os.File) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter passphrase: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, fmt.Errorf("empty passphrase")
	}
	return pw, nil
}
