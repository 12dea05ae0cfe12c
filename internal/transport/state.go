package transport

import "time"

// Mode is the transport the manager currently uses.
type Mode string

const (
	ModeDisconnected Mode = "DISCONNECTED"
	ModeLive         Mode = "LIVE"
	ModeReconnecting Mode = "RECONNECTING"
	ModePolling      Mode = "POLLING"
)

const (
	DefaultBaseDelay    = time.Second
	DefaultMaxAttempts  = 5
	DefaultPollInterval = 5 * time.Second
)

// Policy bounds live reconnects.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// ReconnectDelay is BaseDelay * 2^(attempt-1) for attempt >= 1.
func (p Policy) ReconnectDelay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}

// ChannelState is the manager's view of its channel. Values only change
// through the transition methods below.
type ChannelState struct {
	Mode              Mode `json:"mode"`
	ReconnectAttempts int  `json:"reconnect_attempts"`
}

// Connected is the transition for a successful live connect. Polling reached
// through exhausted reconnects is final for the session.
func (s ChannelState) Connected() ChannelState {
	if s.Mode == ModePolling {
		return s
	}
	return ChannelState{Mode: ModeLive}
}

// LiveFailed is the transition for a failed dial or a closed live channel. It
// reports the reconnect delay, or false once attempts are exhausted and the
// state has moved to polling.
func (s ChannelState) LiveFailed(p Policy) (ChannelState, time.Duration, bool) {
	p = p.normalized()
	if s.Mode == ModePolling {
		return s, 0, false
	}
	attempts := s.ReconnectAttempts + 1
	if attempts > p.MaxAttempts {
		return ChannelState{Mode: ModePolling, ReconnectAttempts: s.ReconnectAttempts}, 0, false
	}
	return ChannelState{Mode: ModeReconnecting, ReconnectAttempts: attempts}, p.ReconnectDelay(attempts), true
}

// Polling is the transition used when live delivery is skipped entirely.
func (s ChannelState) Polling() ChannelState {
	return ChannelState{Mode: ModePolling, ReconnectAttempts: s.ReconnectAttempts}
}

// Shutdown is the transition for explicit teardown.
func (s ChannelState) Shutdown() ChannelState {
	return ChannelState{Mode: ModeDisconnected}
}
