package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/model"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <device>",
		Short: "Show recent transmissions of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.client()
			if err != nil {
				return err
			}
			entries, err := api.History(cmd.Context(), model.DeviceID(strings.TrimSpace(args[0])), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transmissions yet.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				row := "-"
				if e.RowIndex != nil {
					row = strconv.FormatInt(*e.RowIndex, 10)
				}
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					e.Timestamp,
					e.TransmissionType,
					e.ConnectionID.String(),
					row,
					e.Status,
					deref(e.ErrorMessage),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Time", "Type", "Connection", "Row", "Status", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	return cmd
}
