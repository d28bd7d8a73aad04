package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List media items in the catalog",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().listMedia(cmd.Context(), strings.TrimSpace(statusFilter), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Items) == 0 {
				fmt.Fprintln(out, "No media items found.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				rows = append(rows, []string{
					item.ID,
					truncate(item.Title, 40),
					item.Kind,
					item.Status,
					formatDuration(item.DurationSeconds),
					item.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]tableColumn{
					{name: "ID"},
					{name: "Title"},
					{name: "Kind"},
					{name: "Status"},
					{name: "Duration", numeric: true},
					{name: "Added"},
				},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by media status (pending, processing, completed, error, duplicate)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of items to return")
	return cmd
}

func truncate(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	total := int(seconds + 0.5)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
