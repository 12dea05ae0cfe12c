// Package transmission keeps one device's transmission state in step with
// the server and exposes the user-facing actions for it.
package transmission

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/clock"
	"github.com/micro-ha/transmission-sync/internal/events"
	"github.com/micro-ha/transmission-sync/internal/metrics"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/notify"
)

const DefaultPollInterval = 5 * time.Second

// API is the slice of the request client a controller needs.
type API interface {
	TransmissionState(ctx context.Context, id model.DeviceID) (model.TransmissionSnapshot, error)
	Transmit(ctx context.Context, id, connectionID model.DeviceID) (client.ActionResult, error)
	StartTransmission(ctx context.Context, id, connectionID model.DeviceID) (client.ActionResult, error)
	Pause(ctx context.Context, id model.DeviceID) (client.ActionResult, error)
	Resume(ctx context.Context, id model.DeviceID) (client.ActionResult, error)
	Stop(ctx context.Context, id model.DeviceID) (client.ActionResult, error)
}

// Options configures a Controller. API is required.
type Options struct {
	DeviceID     model.DeviceID
	ConnectionID model.DeviceID
	API          API
	Dispatcher   *events.Dispatcher
	Notifier     notify.Notifier
	Confirmer    Confirmer
	Clock        clock.Clock
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Button is the render state of one action control.
type Button struct {
	Action  model.Action `json:"action"`
	Enabled bool         `json:"enabled"`
	Visible bool         `json:"visible"`
	Loading bool         `json:"loading"`
}

// View is everything a device view renders.
type View struct {
	DeviceID         model.DeviceID          `json:"device_id"`
	ConnectionID     model.DeviceID          `json:"connection_id,omitempty"`
	Loaded           bool                    `json:"loaded"`
	State            model.TransmissionState `json:"current_state,omitempty"`
	Buttons          []Button                `json:"buttons"`
	Progress         *model.Progress         `json:"progress,omitempty"`
	LastTransmission *string                 `json:"last_transmission,omitempty"`
	NextScheduled    *string                 `json:"next_scheduled,omitempty"`
	RefreshedAt      time.Time               `json:"refreshed_at,omitempty"`
	RefreshError     string                  `json:"refresh_error,omitempty"`
}

// Button returns the control for action.
func (v View) Button(action model.Action) Button {
	for _, b := range v.Buttons {
		if b.Action == action {
			return b
		}
	}
	return Button{Action: action}
}

// Controller synchronizes one device. It is bound when the device view opens
// and must be closed when the view goes away.
type Controller struct {
	id         model.DeviceID
	api        API
	dispatcher *events.Dispatcher
	notifier   notify.Notifier
	confirmer  Confirmer
	clock      clock.Clock
	interval   time.Duration
	logger     *slog.Logger

	issued  atomic.Uint64
	trigger chan struct{}

	mu           sync.Mutex
	connectionID model.DeviceID
	snapshot     model.TransmissionSnapshot
	loaded       bool
	applied      uint64
	refreshedAt  time.Time
	refreshErr   string
	loading      map[model.Action]bool
	listeners    map[int]func(View)
	nextListener int
	subs         []*events.Subscription
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
	closed       bool
}

// New binds a controller to opts.DeviceID and subscribes it to device events.
func New(opts Options) *Controller {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Multi{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Controller{
		id:           opts.DeviceID,
		api:          opts.API,
		dispatcher:   opts.Dispatcher,
		notifier:     notifier,
		confirmer:    opts.Confirmer,
		clock:        clk,
		interval:     interval,
		logger:       logger.With("component", "transmission", "device_id", opts.DeviceID.String()),
		trigger:      make(chan struct{}, 1),
		connectionID: opts.ConnectionID,
		loading:      make(map[model.Action]bool),
		listeners:    make(map[int]func(View)),
	}
	c.subscribe()
	return c
}

func (c *Controller) subscribe() {
	if c.dispatcher == nil {
		return
	}
	key := "transmission/" + c.id.String()
	for _, topic := range events.TransmissionTopics() {
		c.subs = append(c.subs, c.dispatcher.SubscribeKeyed(topic, key, c.onDeviceEvent))
	}
	c.subs = append(c.subs, c.dispatcher.SubscribeKeyed(events.TopicConnection, key, c.onConnectionEvent))
}

// Only device_id matters here; other fields vary by topic and are not
// validated, so an unfamiliar state string still triggers a refresh.
func (c *Controller) onDeviceEvent(payload json.RawMessage) {
	var event struct {
		DeviceID model.DeviceID `json:"device_id"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Debug("ignoring undecodable device event", "err", err)
		return
	}
	if event.DeviceID != c.id {
		return
	}
	c.TriggerRefresh()
}

// A restored channel may have missed events, so reconcile right away.
func (c *Controller) onConnectionEvent(payload json.RawMessage) {
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &status); err == nil && status.Status == "connected" {
		c.TriggerRefresh()
	}
}

// DeviceID returns the bound device.
func (c *Controller) DeviceID() model.DeviceID { return c.id }

// SetConnection selects the connection used by transmit and start.
func (c *Controller) SetConnection(id model.DeviceID) {
	c.mu.Lock()
	c.connectionID = id
	c.mu.Unlock()
	c.emit()
}

// OnChange registers fn to receive every new view. The returned func
// unregisters it.
func (c *Controller) OnChange(fn func(View)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// View returns the current render state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	view := View{
		DeviceID:     c.id,
		ConnectionID: c.connectionID,
		Loaded:       c.loaded,
		RefreshedAt:  c.refreshedAt,
		RefreshError: c.refreshErr,
	}
	if c.loaded {
		view.State = c.snapshot.CurrentState
		view.Progress = c.snapshot.Progress
		view.LastTransmission = c.snapshot.LastTransmission
		view.NextScheduled = c.snapshot.NextScheduled
	}
	for _, action := range model.AllActions() {
		flags := c.snapshot.AvailableActions.Get(action)
		button := Button{Action: action, Enabled: flags.Enabled, Visible: flags.Visible}
		if c.loading[action] {
			button.Enabled = false
			button.Loading = true
		}
		view.Buttons = append(view.Buttons, button)
	}
	return view
}

func (c *Controller) emit() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	view := c.viewLocked()
	listeners := make([]func(View), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(view)
	}
}

// Refresh fetches the authoritative state. A response is applied only if no
// later-issued refresh has been applied already; results arriving after Close
// are discarded.
func (c *Controller) Refresh(ctx context.Context) error {
	seq := c.issued.Add(1)
	snapshot, err := c.api.TransmissionState(ctx, c.id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		metrics.StateRefreshTotal.WithLabelValues("discarded").Inc()
		return nil
	}
	if err != nil {
		c.refreshErr = client.Message(err)
		c.mu.Unlock()
		metrics.StateRefreshTotal.WithLabelValues("error").Inc()
		c.logger.Warn("state refresh failed", "err", err)
		c.emit()
		return err
	}
	if seq <= c.applied {
		c.mu.Unlock()
		metrics.StateRefreshTotal.WithLabelValues("stale").Inc()
		c.logger.Debug("dropping stale state response", "seq", seq)
		return nil
	}
	c.applied = seq
	c.snapshot = snapshot
	c.loaded = true
	c.refreshedAt = c.clock.Now()
	c.refreshErr = ""
	c.mu.Unlock()

	metrics.StateRefreshTotal.WithLabelValues("applied").Inc()
	c.emit()
	return nil
}

// TriggerRefresh asks the polling loop for an immediate refresh. Requests
// made while one is pending collapse into it.
func (c *Controller) TriggerRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// StartStatePolling refreshes now, then every poll interval and whenever a
// matching device event arrives. Calling it while polling is a no-op.
func (c *Controller) StartStatePolling(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pollCancel != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})
	go c.poll(pollCtx, c.pollDone)
}

// StopStatePolling cancels the polling loop and waits for it to exit.
func (c *Controller) StopStatePolling() {
	c.mu.Lock()
	cancel, done := c.pollCancel, c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Polling reports whether the polling loop runs.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollCancel != nil
}

func (c *Controller) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		_ = c.Refresh(ctx)

		timer := c.clock.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.trigger:
			timer.Stop()
		case <-timer.C():
		}
	}
}

// Close stops polling, drops event subscriptions and listeners, and makes
// every later result a no-op.
func (c *Controller) Close() {
	c.StopStatePolling()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.listeners = map[int]func(View){}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Dispose()
	}
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
