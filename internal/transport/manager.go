// Package transport owns the single channel to the transmission server: a
// live websocket while it holds, bounded reconnects when it drops, and
// polling once reconnects are exhausted.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micro-ha/transmission-sync/internal/clock"
	"github.com/micro-ha/transmission-sync/internal/events"
	"github.com/micro-ha/transmission-sync/internal/metrics"
)

// ConnectionStatus is the payload of connection events.
type ConnectionStatus struct {
	Status string `json:"status"`
	Type   string `json:"type,omitempty"`
}

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	TypeLive           = "live"
	TypePolling        = "polling"
)

// Transition records one mode change.
type Transition struct {
	From     Mode
	To       Mode
	Attempts int
	Reason   string
	At       time.Time
}

// TransitionRecorder persists transitions for diagnostics.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, t Transition) error
}

// Options configures a Manager. Dispatcher is required; Dialer may be nil
// when ForcePolling is set.
type Options struct {
	URL          string
	Dialer       Dialer
	Updates      UpdatesSource
	Dispatcher   *events.Dispatcher
	Clock        clock.Clock
	Policy       Policy
	PollInterval time.Duration
	ForcePolling bool
	Recorder     TransitionRecorder
	Logger       *slog.Logger
}

// Manager runs one goroutine that owns the channel lifecycle.
type Manager struct {
	url          string
	dialer       Dialer
	updates      UpdatesSource
	dispatcher   *events.Dispatcher
	clock        clock.Clock
	policy       Policy
	pollInterval time.Duration
	forcePolling bool
	recorder     TransitionRecorder
	logger       *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	state     ChannelState
	conn      Conn
	owned     []*events.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	destroyed bool
}

// New creates a manager in DISCONNECTED mode. Call Start to connect.
func New(opts Options) *Manager {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	metrics.SetChannelMode(string(ModeDisconnected))
	return &Manager{
		url:          opts.URL,
		dialer:       dialer,
		updates:      opts.Updates,
		dispatcher:   opts.Dispatcher,
		clock:        clk,
		policy:       opts.Policy.normalized(),
		pollInterval: interval,
		forcePolling: opts.ForcePolling,
		recorder:     opts.Recorder,
		logger:       logger.With("component", "transport"),
		state:        ChannelState{Mode: ModeDisconnected},
	}
}

// Start launches the channel loop. It is a no-op after the first call or
// after Destroy.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.destroyed {
		return
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx)
}

// State returns a copy of the current channel state.
func (m *Manager) State() ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a handler owned by the manager; Destroy disposes it.
func (m *Manager) Subscribe(topic events.Topic, h events.Handler) *events.Subscription {
	sub := m.dispatcher.Subscribe(topic, h)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		sub.Dispose()
		return sub
	}
	m.owned = append(m.owned, sub)
	return sub
}

// Send writes msg as JSON on the live channel. Outside LIVE mode the message
// is dropped and Send returns false.
func (m *Manager) Send(msg any) bool {
	m.mu.Lock()
	conn := m.conn
	live := m.state.Mode == ModeLive
	m.mu.Unlock()
	if !live || conn == nil {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Warn("dropping unencodable message", "err", err)
		return false
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Warn("live send failed", "err", err)
		return false
	}
	return true
}

// Destroy stops timers and the loop, closes the live channel and disposes
// owned subscriptions. Repeated calls are no-ops.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	cancel, done, conn := m.cancel, m.done, m.conn
	owned := m.owned
	m.owned = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	for _, sub := range owned {
		sub.Dispose()
	}

	m.transition(m.State().Shutdown(), "shutdown")
	m.publishStatus(ConnectionStatus{Status: StatusDisconnected})
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	if m.forcePolling {
		m.logger.Info("live channel disabled, polling")
		m.transition(m.State().Polling(), "forced")
		m.publishStatus(ConnectionStatus{Status: StatusConnected, Type: TypePolling})
		m.poll(ctx)
		return
	}

	for {
		err := m.runSession(ctx)
		if ctx.Err() != nil {
			return
		}

		next, delay, reconnect := m.State().LiveFailed(m.policy)
		if !reconnect {
			m.logger.Warn("live channel unavailable, falling back to polling",
				"attempts", next.ReconnectAttempts, "err", err)
			metrics.PollingFallbackTotal.Inc()
			m.transition(next, "reconnects exhausted")
			m.publishStatus(ConnectionStatus{Status: StatusConnected, Type: TypePolling})
			m.poll(ctx)
			return
		}

		m.logger.Warn("live channel lost, reconnecting",
			"attempt", next.ReconnectAttempts, "retry_in", delay, "err", err)
		metrics.ReconnectAttemptsTotal.Inc()
		m.transition(next, errReason(err))

		timer := m.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

func (m *Manager) runSession(ctx context.Context) error {
	conn, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	m.logger.Info("live channel connected", "url", m.url)
	m.transition(m.State().Connected(), "connected")
	m.publishStatus(ConnectionStatus{Status: StatusConnected, Type: TypeLive})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = m.dispatcher.Route(msg)
	}
}

func (m *Manager) poll(ctx context.Context) {
	if m.updates == nil {
		m.logger.Error("polling requested without an updates source")
		<-ctx.Done()
		return
	}
	ticker := m.clock.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.pollOnce(ctx)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) {
	envelopes, err := m.updates.Updates(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		metrics.PollsTotal.WithLabelValues("error").Inc()
		m.logger.Warn("poll failed", "err", err)
		return
	}
	metrics.PollsTotal.WithLabelValues("success").Inc()
	for _, raw := range envelopes {
		_ = m.dispatcher.Route(raw)
	}
}

func (m *Manager) transition(next ChannelState, reason string) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	metrics.SetChannelMode(string(next.Mode))
	if m.recorder == nil || prev == next {
		return
	}
	t := Transition{From: prev.Mode, To: next.Mode, Attempts: next.ReconnectAttempts, Reason: reason, At: m.clock.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.recorder.RecordTransition(ctx, t); err != nil {
		m.logger.Warn("record transition failed", "err", err)
	}
}

func (m *Manager) publishStatus(status ConnectionStatus) {
	if err := m.dispatcher.PublishValue(events.TopicConnection, status); err != nil {
		m.logger.Warn("publish connection status failed", "err", err)
	}
}

func errReason(err error) string {
	if err == nil {
		return "closed"
	}
	return err.Error()
}
