package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLiveFailedBacksOffThenPollsForever(t *testing.T) {
	policy := Policy{}
	state := ChannelState{Mode: ModeDisconnected}

	var delays []time.Duration
	for {
		next, delay, reconnect := state.LiveFailed(policy)
		state = next
		if !reconnect {
			break
		}
		require.Equal(t, ModeReconnecting, state.Mode)
		delays = append(delays, delay)
	}

	require.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, delays)
	require.Equal(t, ModePolling, state.Mode)

	require.Equal(t, ModePolling, state.Connected().Mode, "polling is final for the session")
	again, _, reconnect := state.LiveFailed(policy)
	require.False(t, reconnect)
	require.Equal(t, state, again)
}

func TestConnectedResetsAttempts(t *testing.T) {
	state, _, _ := ChannelState{}.LiveFailed(Policy{})
	state, _, _ = state.LiveFailed(Policy{})
	require.Equal(t, 2, state.ReconnectAttempts)

	live := state.Connected()
	require.Equal(t, ChannelState{Mode: ModeLive}, live)

	_, delay, _ := live.LiveFailed(Policy{})
	require.Equal(t, time.Second, delay)
}

func TestShutdownAlwaysDisconnects(t *testing.T) {
	for _, state := range []ChannelState{
		{Mode: ModeLive},
		{Mode: ModeReconnecting, ReconnectAttempts: 3},
		{Mode: ModePolling, ReconnectAttempts: 5},
	} {
		require.Equal(t, ChannelState{Mode: ModeDisconnected}, state.Shutdown())
	}
}

func TestReconnectDelayHonoursPolicy(t *testing.T) {
	policy := Policy{BaseDelay: 250 * time.Millisecond, MaxAttempts: 2}
	require.Equal(t, 250*time.Millisecond, policy.ReconnectDelay(1))
	require.Equal(t, 500*time.Millisecond, policy.ReconnectDelay(2))

	state, _, _ := ChannelState{}.LiveFailed(policy)
	state, _, _ = state.LiveFailed(policy)
	state, _, reconnect := state.LiveFailed(policy)
	require.False(t, reconnect)
	require.Equal(t, ModePolling, state.Mode)
}
