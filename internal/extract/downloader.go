// Package extract acquires media content: remote URLs are downloaded with
// yt-dlp, uploaded files are pulled from the blob store, and either way the
// payload ends up as a durable blob with a title and a duration.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result describes a fetched media payload.
type Result struct {
	LocalPath       string
	Title           string
	DurationSeconds float64
}

// Downloader fetches a remote source into a local file.
type Downloader interface {
	Fetch(ctx context.Context, url, destDir string) (Result, error)
}

// YtDlp downloads via the yt-dlp binary.
type YtDlp struct {
	binary string
}

// NewYtDlp creates a yt-dlp backed downloader.
func NewYtDlp(binary string) *YtDlp {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{binary: binary}
}

// Available reports whether the yt-dlp binary can be resolved.
func (y *YtDlp) Available() bool {
	_, err := exec.LookPath(y.binary)
	return err == nil
}

type ytDlpInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Filename string  `json:"_filename"`
}

// Fetch downloads the best available audio/video stream into destDir and
// returns the local path plus the metadata yt-dlp reports.
func (y *YtDlp) Fetch(ctx context.Context, url, destDir string) (Result, error) {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--print-json",
		"-f", "bestaudio/best",
		"-o", destDir + "/%(id)s.%(ext)s",
		url,
	}
	cmd := exec.CommandContext(ctx, y.binary, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("yt-dlp: %w", err)
	}

	var info ytDlpInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return Result{}, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	if strings.TrimSpace(info.Filename) == "" {
		return Result{}, errors.New("yt-dlp did not report an output file")
	}
	return Result{
		LocalPath:       info.Filename,
		Title:           info.Title,
		DurationSeconds: info.Duration,
	}, nil
}
