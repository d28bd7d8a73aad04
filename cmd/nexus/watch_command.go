package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nexus/internal/status"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a job's progress until it reaches a final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followJob(cmd, ctx, args[0])
		},
	}
}

func followJob(cmd *cobra.Command, ctx *commandContext, jobID string) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	var last status.Event

	err := ctx.client().watch(cmd.Context(), jobID, func(event status.Event) bool {
		last = event
		fmt.Fprintln(out, renderEventLine(event, colorize))
		return !event.Terminal()
	})
	if err != nil {
		return err
	}
	if last.Status == "" {
		return fmt.Errorf("event stream for job %s ended without a final state", jobID)
	}
	if !last.Terminal() {
		return fmt.Errorf("event stream for job %s ended while still %s", jobID, last.Status)
	}
	return nil
}

func renderEventLine(event status.Event, colorize bool) string {
	message := fmt.Sprintf("%s %.0f%%", event.Status, event.Progress)
	if event.ErrorMessage != "" {
		message += " " + event.ErrorMessage
	}
	label := event.Stage
	if label == "" {
		label = string(event.Status)
	}
	return renderStatusLine(label, jobStatusKind(string(event.Status)), message, colorize)
}
