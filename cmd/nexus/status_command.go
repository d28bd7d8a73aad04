package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"nexus/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			health, err := client.health(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := client.stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			printSection(out, "Daemon", colorize)
			fmt.Fprintln(out, renderStatusLine("Pipeline", boolKind(health.Running), runningLabel(health.Running), colorize))
			for _, name := range sortedStageNames(health.Stages) {
				probe := health.Stages[name]
				kind := statusOK
				if !probe.Ready {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(name, kind, probe.Detail, colorize))
			}

			fmt.Fprintln(out)
			printSection(out, "Jobs", colorize)
			fmt.Fprintln(out, renderTable(
				[]tableColumn{
					{name: "Total", numeric: true},
					{name: "Pending", numeric: true},
					{name: "Running", numeric: true},
					{name: "Completed", numeric: true},
					{name: "Duplicate", numeric: true},
					{name: "Errored", numeric: true},
					{name: "Cancelled", numeric: true},
				},
				[][]string{{
					fmt.Sprint(stats.Total),
					fmt.Sprint(stats.Pending),
					fmt.Sprint(stats.Running),
					fmt.Sprint(stats.Completed),
					fmt.Sprint(stats.Duplicate),
					fmt.Sprint(stats.Errored),
					fmt.Sprint(stats.Cancelled),
				}},
			))
			return nil
		},
	}
}

func sortedStageNames(stages map[string]api.StageHealthView) []string {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}
