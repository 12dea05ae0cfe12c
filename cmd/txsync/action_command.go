package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/app"
	"github.com/micro-ha/transmission-sync/internal/model"
)

func newActionCommand(ctx *commandContext) *cobra.Command {
	var connection string
	var yes bool

	names := make([]string, 0, len(model.AllActions()))
	for _, action := range model.AllActions() {
		names = append(names, string(action))
	}

	cmd := &cobra.Command{
		Use:       "action <device> <action>",
		Short:     "Run a transmission action on a device",
		Long:      "Run a transmission action on a device. Actions: " + strings.Join(names, ", ") + ".",
		Args:      cobra.ExactArgs(2),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := model.DeviceID(strings.TrimSpace(args[0]))
			action, ok := model.ParseAction(args[1])
			if !ok {
				return fmt.Errorf("unknown action %q (want one of %s)", args[1], strings.Join(names, ", "))
			}

			opts := app.Options{
				Confirmer: confirmerFor(cmd, yes),
				Notifier:  printNotifier(cmd),
			}
			return ctx.withApp(cmd.Context(), opts, func(a *app.App) error {
				ctrl, err := a.OpenDevice(id)
				if err != nil {
					return err
				}
				if connection != "" {
					ctrl.SetConnection(model.DeviceID(connection))
				}
				if err := ctrl.Refresh(cmd.Context()); err != nil {
					return fmt.Errorf("refresh device %s: %w", id, err)
				}
				if err := ctrl.Do(cmd.Context(), action); err != nil {
					// Already reported through the notifier.
					return errSilent
				}
				view := ctrl.View()
				fmt.Fprintf(cmd.OutOrStdout(), "Device %s is now %s\n", id, view.State)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&connection, "connection", "", "Connection id for transmit_now and start (overrides config)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask before stopping")
	return cmd
}

// errSilent fails the command without printing; the reason was already shown.
var errSilent = errors.New("")
