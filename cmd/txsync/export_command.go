package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/app"
	"github.com/micro-ha/transmission-sync/internal/model"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <device>",
		Short: "Download a device's transmission history to the export directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := model.DeviceID(strings.TrimSpace(args[0]))
			opts := app.Options{Notifier: printNotifier(cmd)}
			return ctx.withApp(cmd.Context(), opts, func(a *app.App) error {
				if _, err := a.ExportHistory(cmd.Context(), id, format); err != nil {
					return errSilent
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "Export format")
	return cmd
}
