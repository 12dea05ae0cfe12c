package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/app"
	"github.com/micro-ha/transmission-sync/internal/logging"
	"github.com/micro-ha/transmission-sync/internal/transmission"
	"github.com/micro-ha/transmission-sync/internal/ui"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [device]",
		Short: "Interactive live view of one device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			devices := parseDevices(args, cfg.Devices)
			if len(devices) == 0 {
				return errors.New("no device given and none configured")
			}
			id := devices[0]

			// Anything written to the terminal would tear the alt screen.
			logPath := filepath.Join(cfg.DataDir, "watch.log")
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open %s: %w", logPath, err)
			}
			defer logFile.Close()

			// The view collects stop consent itself and passes it via ctx.
			opts := app.Options{
				Confirmer: transmission.ConsentConfirmer,
				Logger:    logging.NewWithFormat(logFile, cfg.LogLevel, "json"),
			}
			return ctx.withApp(cmd.Context(), opts, func(a *app.App) error {
				if err := a.Start(cmd.Context()); err != nil {
					return err
				}
				ctrl, err := a.OpenDevice(id)
				if err != nil {
					return err
				}
				return ui.Run(cmd.Context(), ui.Options{
					Device:  ctrl,
					Channel: a.Transport(),
				})
			})
		},
	}
}
