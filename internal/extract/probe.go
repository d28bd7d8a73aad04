package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober reports the duration of a media file.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FFProbe reads container metadata via the ffprobe binary.
type FFProbe struct {
	binary string
}

// NewFFProbe creates an ffprobe-backed prober.
func NewFFProbe(binary string) *FFProbe {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &FFProbe{binary: binary}
}

// Available reports whether the ffprobe binary can be resolved.
func (p *FFProbe) Available() bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the container duration in seconds.
func (p *FFProbe) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, p.binary, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbeDuration(output)
}

func parseProbeDuration(output []byte) (float64, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	raw := strings.TrimSpace(parsed.Format.Duration)
	if raw == "" {
		return 0, errors.New("ffprobe reported no duration")
	}
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration %f", duration)
	}
	return duration, nil
}
