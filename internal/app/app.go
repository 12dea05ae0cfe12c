// Package app wires the request client, dispatcher, transport channel,
// journal and per-device controllers into one owned context object.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/clock"
	"github.com/micro-ha/transmission-sync/internal/config"
	"github.com/micro-ha/transmission-sync/internal/events"
	"github.com/micro-ha/transmission-sync/internal/export"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/notify"
	"github.com/micro-ha/transmission-sync/internal/session"
	"github.com/micro-ha/transmission-sync/internal/storage"
	"github.com/micro-ha/transmission-sync/internal/transmission"
	"github.com/micro-ha/transmission-sync/internal/transport"
)

const recentNotifications = 200

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("app closed")

// Options configures New. Only Config is required.
type Options struct {
	Config     config.Config
	Logger     *slog.Logger
	Clock      clock.Clock
	HTTPClient *http.Client
	Dialer     transport.Dialer
	Confirmer  transmission.Confirmer
	// Notifier receives every notification in addition to the log, the
	// journal and the in-memory ring.
	Notifier notify.Notifier
}

// App owns everything one agent session needs.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	clock      clock.Clock
	client     *client.Client
	dispatcher *events.Dispatcher
	transport  *transport.Manager
	journal    *storage.Repository
	ring       *notify.Ring
	notifier   notify.Notifier
	confirmer  transmission.Confirmer
	exports    export.Writer

	mu      sync.Mutex
	devices map[model.DeviceID]*transmission.Controller
	lock    *session.Lock
	runCtx  context.Context
	started bool
	closed  bool
}

// New builds the app and opens the journal. Nothing talks to the server
// until Start.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	journal, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	var tokens client.TokenSource
	if cfg.Server.Token != "" {
		tokens = client.StaticToken(cfg.Server.Token)
	}
	api := client.New(client.Config{
		BaseURL:     cfg.Server.BaseURL(),
		Tokens:      tokens,
		HTTPClient:  opts.HTTPClient,
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.RequestMaxAttempts,
		RetryBase:   cfg.RequestRetryBase,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		Logger:      logger,
	})

	dispatcher := events.NewDispatcher(logger)

	dialer := opts.Dialer
	if dialer == nil {
		header := http.Header{}
		if cfg.Server.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.Server.Token)
		}
		dialer = transport.WebsocketDialer{Header: header}
	}

	ring := notify.NewRing(recentNotifications)
	sinks := notify.Multi{notify.Log{Logger: logger}, journal, ring}
	if opts.Notifier != nil {
		sinks = append(sinks, opts.Notifier)
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		clock:      clk,
		client:     api,
		dispatcher: dispatcher,
		journal:    journal,
		ring:       ring,
		notifier:   sinks,
		confirmer:  opts.Confirmer,
		exports:    export.Writer{Dir: cfg.ExportDir, Logger: logger},
		devices:    make(map[model.DeviceID]*transmission.Controller),
	}
	a.transport = transport.New(transport.Options{
		URL:          cfg.Server.WebsocketURL(),
		Dialer:       dialer,
		Updates:      api,
		Dispatcher:   dispatcher,
		Clock:        clk,
		Policy:       transport.Policy{BaseDelay: cfg.ReconnectBaseDelay, MaxAttempts: cfg.ReconnectMaxAttempts},
		PollInterval: cfg.UpdatesPollInterval,
		ForcePolling: cfg.ForcePolling(),
		Recorder:     journal,
		Logger:       logger,
	})
	return a, nil
}

// Start takes the session lock, opens the transport channel and binds a
// controller to every configured device.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return nil
	}
	lock, err := session.Acquire(a.cfg.LockPath())
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.lock = lock
	a.runCtx = ctx
	a.started = true
	a.mu.Unlock()

	a.transport.Start(ctx)
	for _, id := range a.cfg.Devices {
		if _, err := a.OpenDevice(id); err != nil {
			return err
		}
	}
	a.logger.Info("agent started",
		"server", a.cfg.Server.BaseURL(),
		"devices", len(a.cfg.Devices),
		"force_polling", a.cfg.ForcePolling(),
	)
	return nil
}

// OpenDevice binds a controller to id, or returns the one already bound.
// Controllers opened after Start poll state until closed.
func (a *App) OpenDevice(id model.DeviceID) (*transmission.Controller, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid device id %q", id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if ctrl, ok := a.devices[id]; ok {
		return ctrl, nil
	}

	ctrl := transmission.New(transmission.Options{
		DeviceID:     id,
		ConnectionID: a.cfg.ConnectionID,
		API:          a.client,
		Dispatcher:   a.dispatcher,
		Notifier:     a.notifier,
		Confirmer:    a.confirmer,
		Clock:        a.clock,
		PollInterval: a.cfg.StatePollInterval,
		Logger:       a.logger,
	})
	a.devices[id] = ctrl
	if a.started {
		ctrl.StartStatePolling(a.runCtx)
		ctrl.TriggerRefresh()
	}
	return ctrl, nil
}

// CloseDevice unbinds id. It reports whether a controller was bound.
func (a *App) CloseDevice(id model.DeviceID) bool {
	a.mu.Lock()
	ctrl, ok := a.devices[id]
	delete(a.devices, id)
	a.mu.Unlock()
	if ok {
		ctrl.Close()
	}
	return ok
}

// Device returns the controller bound to id.
func (a *App) Device(id model.DeviceID) (*transmission.Controller, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ctrl, ok := a.devices[id]
	return ctrl, ok
}

// Devices returns the bound controllers ordered by device id.
func (a *App) Devices() []*transmission.Controller {
	a.mu.Lock()
	out := make([]*transmission.Controller, 0, len(a.devices))
	for _, ctrl := range a.devices {
		out = append(out, ctrl)
	}
	a.mu.Unlock()
	slices.SortFunc(out, func(x, y *transmission.Controller) int {
		return compareIDs(x.DeviceID(), y.DeviceID())
	})
	return out
}

// Shorter ids first, so numeric ids sort numerically.
func compareIDs(x, y model.DeviceID) int {
	if len(x) != len(y) {
		return len(x) - len(y)
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// ExportHistory downloads the history of id into the export directory.
func (a *App) ExportHistory(ctx context.Context, id model.DeviceID, format string) (string, error) {
	path, err := a.exports.Save(ctx, a.client, id, format)
	if err != nil {
		a.notifier.Notify(ctx, notify.New(notify.LevelError, "export history", id, client.Message(err)))
		return "", err
	}
	a.notifier.Notify(ctx, notify.New(notify.LevelSuccess, "export history", id, "History exported to "+path))
	return path, nil
}

// Close unbinds every device, destroys the transport, trims the journal and
// releases the session lock. It is safe to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	devices := a.devices
	a.devices = map[model.DeviceID]*transmission.Controller{}
	lock := a.lock
	a.mu.Unlock()

	for _, ctrl := range devices {
		ctrl.Close()
	}
	a.transport.Destroy()

	var errs []error
	pruneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.journal.Prune(pruneCtx, a.cfg.JournalKeep); err != nil {
		errs = append(errs, fmt.Errorf("prune journal: %w", err))
	}
	if err := a.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	if err := lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release session lock: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) Config() config.Config { return a.cfg }
func (a *App) Logger() *slog.Logger { return a.logger }
func (a *App) Client() *client.Client { return a.client }
func (a *App) Dispatcher() *events.Dispatcher { return a.dispatcher }
func (a *App) Transport() *transport.Manager { return a.transport }
func (a *App) Journal() *storage.Repository { return a.journal }
func (a *App) Notifications() *notify.Ring { return a.ring }
func (a *App) Notifier() notify.Notifier { return a.notifier }
