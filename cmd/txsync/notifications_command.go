package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/app"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/storage"
)

func newNotificationsCommand(ctx *commandContext) *cobra.Command {
	var device string
	var limit int

	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"log"},
		Short:   "List journaled notifications",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				items, err := a.Journal().ListNotifications(cmd.Context(), storage.NotificationFilter{
					DeviceID: model.DeviceID(strings.TrimSpace(device)),
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No notifications.")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, n := range items {
					rows = append(rows, []string{
						n.CreatedAt.Local().Format(time.DateTime),
						levelMark(n.Level),
						n.DeviceID.String(),
						n.Operation,
						n.Message,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Time", "", "Device", "Operation", "Message"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "Only show notifications for this device")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of notifications")
	return cmd
}
