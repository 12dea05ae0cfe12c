// Package ui renders a live terminal view of one device's transmission and
// lets the user drive its actions.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/transmission"
	"github.com/micro-ha/transmission-sync/internal/transport"
)

// Device is the controller surface the view drives.
type Device interface {
	DeviceID() model.DeviceID
	View() transmission.View
	OnChange(fn func(transmission.View)) func()
	Refresh(ctx context.Context) error
	Do(ctx context.Context, action model.Action) error
}

// Channel exposes the transport state shown in the header.
type Channel interface {
	State() transport.ChannelState
}

// Options configures the UI.
type Options struct {
	Context  context.Context
	Device   Device
	Channel  Channel
	PollTick time.Duration
}

// Model is the Bubble Tea state of the watch view.
type Model struct {
	ctx      context.Context
	device   Device
	channel  Channel
	pollTick time.Duration
	keys     keyMap
	styles   styles

	view       transmission.View
	mode       transport.Mode
	spinner    spinner.Model
	status     string
	statusErr  bool
	confirming bool
}

type viewMsg transmission.View

type tickMsg time.Time

type actionDoneMsg struct {
	action model.Action
	err    error
}

// New creates the watch model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = 500 * time.Millisecond
	}
	st := defaultStyles()
	m := Model{
		ctx:      ctx,
		device:   opts.Device,
		channel:  opts.Channel,
		pollTick: pollTick,
		keys:     defaultKeyMap(),
		styles:   st,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(st.accent)),
		view:     opts.Device.View(),
	}
	if opts.Channel != nil {
		m.mode = opts.Channel.State().Mode
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(m.pollTick), m.spinner.Tick, refreshCmd(m.ctx, m.device))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case viewMsg:
		m.view = transmission.View(msg)
		return m, nil

	case tickMsg:
		if m.channel != nil {
			m.mode = m.channel.State().Mode
		}
		m.view = m.device.View()
		return m, tickCmd(m.pollTick)

	case actionDoneMsg:
		m.view = m.device.View()
		if msg.err != nil {
			m.status, m.statusErr = describeError(msg.action, msg.err), true
		} else {
			m.status, m.statusErr = fmt.Sprintf("%s done", label(msg.action)), false
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirming {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.confirming = false
			m.status, m.statusErr = "Stopping...", false
			return m, actionCmd(transmission.WithConsent(m.ctx), m.device, model.ActionStop)
		case key.Matches(msg, m.keys.Cancel), key.Matches(msg, m.keys.Quit):
			m.confirming = false
			m.status, m.statusErr = "Stop cancelled", false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		return m, refreshCmd(m.ctx, m.device)
	case key.Matches(msg, m.keys.Stop):
		if !m.view.Button(model.ActionStop).Enabled {
			return m, nil
		}
		m.confirming = true
		return m, nil
	}

	bindings := map[model.Action]key.Binding{
		model.ActionTransmitNow: m.keys.Transmit,
		model.ActionStart:       m.keys.Start,
		model.ActionPause:       m.keys.Pause,
		model.ActionResume:      m.keys.Resume,
	}
	for action, binding := range bindings {
		if !key.Matches(msg, binding) {
			continue
		}
		// Hidden or disabled buttons cannot be pressed.
		button := m.view.Button(action)
		if !button.Visible || !button.Enabled {
			return m, nil
		}
		m.status, m.statusErr = label(action)+"...", false
		return m, actionCmd(m.ctx, m.device, action)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	header := m.styles.title.Render(fmt.Sprintf("Device %s", m.device.DeviceID()))
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, header, "  ", m.modeBadge()))
	b.WriteString("\n\n")

	if !m.view.Loaded {
		b.WriteString(m.spinner.View() + " Loading transmission state")
		if m.view.RefreshError != "" {
			b.WriteString("\n" + m.styles.danger.Render(m.view.RefreshError))
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.styles.label.Render("State      ") + m.styles.state(m.view.State).Render(string(m.view.State)) + "\n")
	if m.view.ConnectionID != "" {
		b.WriteString(m.styles.label.Render("Connection ") + string(m.view.ConnectionID) + "\n")
	}
	if p := m.view.Progress; p != nil {
		b.WriteString(m.styles.label.Render("Progress   ") + fmt.Sprintf("%d/%d (%.0f%%)", p.Current, p.Total, p.Percentage) + "\n")
	}
	if m.view.LastTransmission != nil {
		b.WriteString(m.styles.label.Render("Last       ") + *m.view.LastTransmission + "\n")
	}
	if m.view.NextScheduled != nil {
		b.WriteString(m.styles.label.Render("Next       ") + *m.view.NextScheduled + "\n")
	}
	if m.view.RefreshError != "" {
		b.WriteString(m.styles.warning.Render("Refresh failed: "+m.view.RefreshError) + "\n")
	}
	b.WriteString("\n" + m.buttons() + "\n\n")

	switch {
	case m.confirming:
		b.WriteString(m.styles.warning.Render(fmt.Sprintf("Stop transmission for device %s? (y/n)", m.device.DeviceID())))
	case m.status != "" && m.statusErr:
		b.WriteString(m.styles.danger.Render(m.status))
	case m.status != "":
		b.WriteString(m.styles.muted.Render(m.status))
	}
	b.WriteString("\n" + m.styles.muted.Render("R refresh · q quit") + "\n")
	return b.String()
}

func (m Model) buttons() string {
	keysFor := map[model.Action]key.Binding{
		model.ActionTransmitNow: m.keys.Transmit,
		model.ActionStart:       m.keys.Start,
		model.ActionPause:       m.keys.Pause,
		model.ActionResume:      m.keys.Resume,
		model.ActionStop:        m.keys.Stop,
	}
	var parts []string
	for _, button := range m.view.Buttons {
		if !button.Visible {
			continue
		}
		text := fmt.Sprintf("[%s] %s", keysFor[button.Action].Help().Key, label(button.Action))
		switch {
		case button.Loading:
			parts = append(parts, m.styles.accent.Render(m.spinner.View()+" "+text))
		case button.Enabled:
			parts = append(parts, m.styles.button.Render(text))
		default:
			parts = append(parts, m.styles.disabled.Render(text))
		}
	}
	return strings.Join(parts, "  ")
}

func (m Model) modeBadge() string {
	switch m.mode {
	case transport.ModeLive:
		return m.styles.success.Render("● live")
	case transport.ModePolling:
		return m.styles.warning.Render("● polling")
	case transport.ModeReconnecting:
		return m.styles.warning.Render(m.spinner.View() + " reconnecting")
	default:
		return m.styles.muted.Render("○ disconnected")
	}
}

func label(action model.Action) string {
	switch action {
	case model.ActionTransmitNow:
		return "Transmit now"
	case model.ActionStart:
		return "Start"
	case model.ActionPause:
		return "Pause"
	case model.ActionResume:
		return "Resume"
	case model.ActionStop:
		return "Stop"
	}
	return string(action)
}

func describeError(action model.Action, err error) string {
	var pre *transmission.PreconditionError
	if errors.As(err, &pre) {
		return fmt.Sprintf("%s not allowed: %s", label(action), pre.Reason)
	}
	return fmt.Sprintf("%s failed: %s", label(action), client.Message(err))
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refreshCmd(ctx context.Context, device Device) tea.Cmd {
	return func() tea.Msg {
		_ = device.Refresh(ctx)
		return viewMsg(device.View())
	}
}

func actionCmd(ctx context.Context, device Device, action model.Action) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: device.Do(ctx, action)}
	}
}
