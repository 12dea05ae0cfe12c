package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/micro-ha/transmission-sync/internal/transmission"
)

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	if opts.Device == nil {
		return errors.New("ui requires a device")
	}
	if opts.Context == nil {
		opts.Context = ctx
	}

	program := tea.NewProgram(New(opts), tea.WithContext(ctx), tea.WithAltScreen())
	unsubscribe := opts.Device.OnChange(func(v transmission.View) {
		program.Send(viewMsg(v))
	})
	defer unsubscribe()

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
