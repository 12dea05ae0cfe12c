package ui

import (
	"context"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/transmission"
	"github.com/micro-ha/transmission-sync/internal/transport"
)

type fakeDevice struct {
	mu        sync.Mutex
	view      transmission.View
	err       error
	calls     []model.Action
	consented []bool
}

func viewFor(state model.TransmissionState) transmission.View {
	view := transmission.View{DeviceID: "42", ConnectionID: "7", Loaded: true, State: state}
	for _, action := range model.AllActions() {
		flags := model.DeriveActions(state).Get(action)
		view.Buttons = append(view.Buttons, transmission.Button{Action: action, Enabled: flags.Enabled, Visible: flags.Visible})
	}
	return view
}

func (d *fakeDevice) DeviceID() model.DeviceID { return "42" }

func (d *fakeDevice) View() transmission.View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

func (d *fakeDevice) OnChange(func(transmission.View)) func() { return func() {} }

func (d *fakeDevice) Refresh(context.Context) error { return nil }

func (d *fakeDevice) Do(ctx context.Context, action model.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, action)
	ok, _ := transmission.ConsentConfirmer.Confirm(ctx, "")
	d.consented = append(d.consented, ok)
	return d.err
}

type fixedChannel transport.Mode

func (c fixedChannel) State() transport.ChannelState {
	return transport.ChannelState{Mode: transport.Mode(c)}
}

func press(t *testing.T, m Model, keys string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(keys)})
	return next.(Model), cmd
}

func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(Model)
}

func TestEnabledActionRunsAndReports(t *testing.T) {
	device := &fakeDevice{view: viewFor(model.StateInactive)}
	m := New(Options{Device: device, Channel: fixedChannel(transport.ModeLive)})

	m, cmd := press(t, m, "t")
	m = run(t, m, cmd)

	require.Equal(t, []model.Action{model.ActionTransmitNow}, device.calls)
	require.Contains(t, m.View(), "Transmit now done")
	require.Contains(t, m.View(), "live")
}

func TestDisabledActionIsIgnored(t *testing.T) {
	device := &fakeDevice{view: viewFor(model.StateInactive)}
	m := New(Options{Device: device})

	_, cmd := press(t, m, "p")
	require.Nil(t, cmd)
	_, cmd = press(t, m, "x")
	require.Nil(t, cmd)
	require.Empty(t, device.calls)
}

func TestStopNeedsConfirmation(t *testing.T) {
	device := &fakeDevice{view: viewFor(model.StateActive)}
	m := New(Options{Device: device})

	m, cmd := press(t, m, "x")
	require.Nil(t, cmd)
	require.Contains(t, m.View(), "Stop transmission for device 42? (y/n)")

	m, cmd = press(t, m, "n")
	require.Nil(t, cmd)
	require.Contains(t, m.View(), "Stop cancelled")

	m, _ = press(t, m, "x")
	m, cmd = press(t, m, "y")
	run(t, m, cmd)
	require.Equal(t, []model.Action{model.ActionStop}, device.calls)
	require.Equal(t, []bool{true}, device.consented)
}

func TestFailureMessageUsesServerText(t *testing.T) {
	device := &fakeDevice{
		view: viewFor(model.StateActive),
		err:  &client.BusinessError{Status: 400, Message: "Cannot pause transmission"},
	}
	m := New(Options{Device: device})

	m, cmd := press(t, m, "p")
	m = run(t, m, cmd)
	require.Contains(t, m.View(), "Pause failed: Cannot pause transmission")

	device.err = &transmission.PreconditionError{Action: model.ActionResume, Reason: "already in progress"}
	device.view = viewFor(model.StatePaused)
	next, _ := m.Update(viewMsg(device.view))
	m, cmd = press(t, next.(Model), "r")
	m = run(t, m, cmd)
	require.Contains(t, m.View(), "Resume not allowed: already in progress")
}

func TestLoadingViewShowsSpinnerUntilLoaded(t *testing.T) {
	device := &fakeDevice{view: transmission.View{DeviceID: "42", RefreshError: "status 503"}}
	m := New(Options{Device: device})
	require.Contains(t, m.View(), "Loading transmission state")
	require.Contains(t, m.View(), "status 503")

	next, _ := m.Update(viewMsg(viewFor(model.StatePaused)))
	require.Contains(t, next.(Model).View(), "PAUSED")
}
