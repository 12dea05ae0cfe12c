package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/model"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "state [device...]",
		Short: "Show transmission state of devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			devices := parseDevices(args, cfg.Devices)
			if len(devices) == 0 {
				return errors.New("no devices given and none configured")
			}
			api, err := ctx.client()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(devices))
			var failed []string
			for _, id := range devices {
				snap, err := api.TransmissionState(cmd.Context(), id)
				if err != nil {
					failed = append(failed, fmt.Sprintf("%s: %v", id, err))
					continue
				}
				rows = append(rows, []string{
					id.String(),
					string(snap.CurrentState),
					availableActions(snap.AvailableActions),
					deref(snap.LastTransmission),
					deref(snap.NextScheduled),
				})
			}
			if len(rows) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Device", "State", "Actions", "Last", "Next"}, rows, nil))
			}
			if len(failed) > 0 {
				return errors.New(strings.Join(failed, "\n"))
			}
			return nil
		},
	}
}

func availableActions(actions model.AvailableActions) string {
	var names []string
	for _, action := range model.AllActions() {
		if actions.Get(action).Enabled {
			names = append(names, string(action))
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func deref(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
