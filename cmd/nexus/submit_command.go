package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nexus/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var title string
	var kind string
	var subscriptionID string
	var follow bool

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a remote URL for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceURL := strings.TrimSpace(args[0])
			resp, err := ctx.client().submitURL(cmd.Context(), api.SubmitURLRequest{
				SourceURL:      sourceURL,
				Title:          title,
				Kind:           kind,
				SubscriptionID: subscriptionID,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted: job %s (media %s)\n", resp.JobID, resp.MediaID)
			if follow {
				return followJob(cmd, ctx, resp.JobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title for the media item")
	cmd.Flags().StringVar(&kind, "kind", "", "Media kind (audio, video, remote)")
	cmd.Flags().StringVar(&subscriptionID, "subscription", "", "Subscription this item belongs to")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream job progress until it finishes")
	return cmd
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var title string
	var kind string
	var follow bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local media file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().upload(cmd.Context(), args[0], title, kind)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uploaded: job %s (media %s)\n", resp.JobID, resp.MediaID)
			if follow {
				return followJob(cmd, ctx, resp.JobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title for the media item (defaults to the filename)")
	cmd.Flags().StringVar(&kind, "kind", "", "Media kind (audio, video)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream job progress until it finishes")
	return cmd
}
