package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nexus/internal/api"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var withTranscript bool

	cmd := &cobra.Command{
		Use:   "show <media-id>",
		Short: "Show a media item and its processing outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := ctx.client().media(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			printSection(out, "Media "+item.ID, colorize)
			fmt.Fprintln(out, renderStatusLine("Status", mediaStatusKind(item.Status), item.Status, colorize))
			printField(out, "Title", item.Title)
			printField(out, "Kind", item.Kind)
			printField(out, "Origin", item.Origin)
			printField(out, "Source URL", item.SourceURL)
			printField(out, "Blob key", item.BlobKey)
			printField(out, "Duration", formatDuration(item.DurationSeconds))
			printField(out, "Fingerprint", item.Fingerprint)
			printField(out, "Canonical ID", item.CanonicalID)
			printField(out, "Tags", strings.Join(item.Tags, ", "))
			printField(out, "Added", item.CreatedAt.Local().Format(time.RFC1123))

			if item.Summary != "" {
				fmt.Fprintln(out)
				printSection(out, "Summary", colorize)
				fmt.Fprintln(out, item.Summary)
			}
			if withTranscript && item.Transcript != "" {
				fmt.Fprintln(out)
				printSection(out, "Transcript", colorize)
				fmt.Fprintln(out, item.Transcript)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withTranscript, "transcript", false, "Print the full transcript")
	return cmd
}

func printField(out io.Writer, label, value string) {
	if strings.TrimSpace(value) == "" || value == "-" {
		return
	}
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, label+":", value)
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show a processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			printSection(out, "Job "+job.ID, colorize)
			fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), jobStatusMessage(job), colorize))
			printField(out, "Media", job.MediaID)
			printField(out, "Stage", job.Stage)
			printField(out, "Attempts", formatAttempts(job.Attempts))
			if job.StartedAt != nil {
				printField(out, "Started", job.StartedAt.Local().Format(time.RFC1123))
			}
			if job.CompletedAt != nil {
				printField(out, "Finished", job.CompletedAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func jobStatusMessage(job api.JobView) string {
	message := fmt.Sprintf("%s %.0f%%", job.Status, job.Progress)
	if job.ErrorMessage != "" {
		message += " " + job.ErrorMessage
	}
	return message
}

func formatAttempts(attempts map[string]int) string {
	if len(attempts) == 0 {
		return ""
	}
	order := []string{"extract", "dedup", "transcribe", "enrich", "embed"}
	known := make(map[string]struct{}, len(order))
	parts := make([]string, 0, len(attempts))
	for _, name := range order {
		known[name] = struct{}{}
		if count, ok := attempts[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", name, count))
		}
	}
	extras := make([]string, 0)
	for name, count := range attempts {
		if _, ok := known[name]; !ok {
			extras = append(extras, fmt.Sprintf("%s=%d", name, count))
		}
	}
	sort.Strings(extras)
	return strings.Join(append(parts, extras...), " ")
}
