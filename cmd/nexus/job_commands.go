package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.Cancelled {
				fmt.Fprintf(out, "Cancellation requested for job %s\n", args[0])
			} else {
				fmt.Fprintf(out, "Job %s is already in a final state\n", args[0])
			}
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "retry <media-id>",
		Short: "Queue a new job for a failed or cancelled media item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().retryMedia(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued: job %s (media %s)\n", resp.JobID, resp.MediaID)
			if follow {
				return followJob(cmd, ctx, resp.JobID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream job progress until it finishes")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <media-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a media item, its jobs, and its stored payload",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().deleteMedia(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !resp.Deleted {
				return fmt.Errorf("media %s was not deleted", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted media %s\n", args[0])
			return nil
		},
	}
}
