package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"nexus/internal/catalog"
)

// statusKind selects the color and label for one rendered state line.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func (k statusKind) label() string {
	switch k {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (k statusKind) color() string {
	switch k {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

// jobStatusKind maps a job status off the wire onto the render palette:
// green for completed or duplicate, yellow for cancelled, red for error,
// blue while the job is still moving through the pipeline.
func jobStatusKind(jobStatus string) statusKind {
	switch catalog.JobStatus(jobStatus) {
	case catalog.JobCompleted, catalog.JobDuplicate:
		return statusOK
	case catalog.JobError:
		return statusError
	case catalog.JobCancelled:
		return statusWarn
	default:
		return statusInfo
	}
}

// mediaStatusKind is the matching palette for media item statuses.
func mediaStatusKind(mediaStatus string) statusKind {
	switch catalog.MediaStatus(mediaStatus) {
	case catalog.MediaCompleted:
		return statusOK
	case catalog.MediaError:
		return statusError
	case catalog.MediaDuplicate:
		return statusWarn
	default:
		return statusInfo
	}
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	state := "[" + kind.label() + "]"
	if message != "" {
		state += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", state)
	if !colorize {
		return line
	}
	return kind.color() + line + ansiReset
}

// printSection writes a section header with an underline rule.
func printSection(out io.Writer, title string, colorize bool) {
	line := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	fmt.Fprintln(out, line)
	fmt.Fprintln(out, rule)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
