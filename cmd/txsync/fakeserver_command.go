package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/fakeserver"
	httpapi "github.com/micro-ha/transmission-sync/internal/http"
	"github.com/micro-ha/transmission-sync/internal/logging"
)

func newFakeServerCommand() *cobra.Command {
	var addr string
	var devices string
	var connections string
	var tick time.Duration
	var rows int64
	var logFormat string

	cmd := &cobra.Command{
		Use:         "fake-server",
		Short:       "Run an in-memory transmission server for local testing",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			deviceIDs, err := parseIDList(devices)
			if err != nil {
				return fmt.Errorf("--devices: %w", err)
			}
			connectionIDs, err := parseIDList(connections)
			if err != nil {
				return fmt.Errorf("--connections: %w", err)
			}
			if len(deviceIDs) == 0 {
				return errors.New("--devices must name at least one device")
			}

			logger := logging.NewWithFormat(cmd.ErrOrStderr(), slog.LevelInfo, logFormat)
			fake := fakeserver.New(fakeserver.Options{
				Devices:     deviceIDs,
				Connections: connectionIDs,
				Rows:        rows,
				Interval:    tick,
				Logger:      logger,
			})
			if tick > 0 {
				go fake.RunScheduler(cmd.Context(), tick)
			}

			server := httpapi.NewServer(addr, fake.Handler())
			logger.Info("fake server starting", "addr", addr, "devices", deviceIDs, "connections", connectionIDs, "tick", tick)
			return httpapi.RunServer(cmd.Context(), server, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":5000", "Listen address")
	cmd.Flags().StringVar(&devices, "devices", "1", "Comma separated device ids")
	cmd.Flags().StringVar(&connections, "connections", "1", "Comma separated connection ids")
	cmd.Flags().DurationVar(&tick, "tick", 10*time.Second, "Scheduled transmission interval for active devices, 0 disables")
	cmd.Flags().Int64Var(&rows, "rows", 100, "Rows per device before wrapping")
	cmd.Flags().StringVar(&logFormat, "log-format", "auto", "Log format: auto, text or json")
	return cmd
}

func parseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
