package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/micro-ha/transmission-sync/internal/model"
)

type styles struct {
	title    lipgloss.Style
	label    lipgloss.Style
	muted    lipgloss.Style
	accent   lipgloss.Style
	success  lipgloss.Style
	warning  lipgloss.Style
	danger   lipgloss.Style
	button   lipgloss.Style
	disabled lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#BD93F9")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")),
		accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
		danger:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")),
		button: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2")).
			Background(lipgloss.Color("#44475A")).
			Padding(0, 1),
		disabled: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4")).
			Padding(0, 1),
	}
}

func (s styles) state(state model.TransmissionState) lipgloss.Style {
	switch state {
	case model.StateActive:
		return s.success
	case model.StatePaused:
		return s.warning
	case model.StateManual:
		return s.accent
	default:
		return s.muted
	}
}
