// Package fingerprint computes deterministic content fingerprints used by
// the duplicate gate.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// maxLength bounds the stored fingerprint so index keys stay small while
// remaining collision-resistant for dedup purposes.
const maxLength = 64

// Fingerprinter computes a stable fingerprint for a media file. The same
// file must always yield the same value.
type Fingerprinter interface {
	Compute(ctx context.Context, path string) (string, error)
}

// Chromaprint shells out to fpcalc for an acoustic fingerprint.
type Chromaprint struct {
	binary string
}

// NewChromaprint creates an fpcalc-backed fingerprinter.
func NewChromaprint(binary string) *Chromaprint {
	if strings.TrimSpace(binary) == "" {
		binary = "fpcalc"
	}
	return &Chromaprint{binary: binary}
}

// Available reports whether the fpcalc binary can be resolved.
func (c *Chromaprint) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

type fpcalcOutput struct {
	Duration    float64 `json:"duration"`
	Fingerprint string  `json:"fingerprint"`
}

// Compute runs fpcalc and returns the truncated acoustic fingerprint.
func (c *Chromaprint) Compute(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "-json", path) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("fpcalc: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("fpcalc: %w", err)
	}

	var parsed fpcalcOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return "", fmt.Errorf("parse fpcalc output: %w", err)
	}
	if strings.TrimSpace(parsed.Fingerprint) == "" {
		return "", errors.New("fpcalc returned an empty fingerprint")
	}
	return truncate(parsed.Fingerprint), nil
}

// Digest hashes file content with SHA-256. Used for non-audio payloads and
// as a fallback when fpcalc is unavailable.
type Digest struct{}

// Compute returns the truncated hex digest of the file content.
func (Digest) Compute(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return truncate(hex.EncodeToString(hasher.Sum(nil))), nil
}

// Auto prefers chromaprint when fpcalc is installed and falls back to a
// content digest otherwise, so fingerprints stay deterministic either way.
type Auto struct {
	chromaprint *Chromaprint
	digest      Digest
}

// NewAuto builds the default fingerprinter for a configured fpcalc binary.
func NewAuto(fpcalcBinary string) *Auto {
	return &Auto{chromaprint: NewChromaprint(fpcalcBinary)}
}

func (a *Auto) Compute(ctx context.Context, path string) (string, error) {
	if a.chromaprint.Available() {
		fp, err := a.chromaprint.Compute(ctx, path)
		if err == nil {
			return fp, nil
		}
		// fpcalc rejects non-audio containers; the digest still works.
	}
	return a.digest.Compute(ctx, path)
}

func truncate(fp string) string {
	if len(fp) > maxLength {
		return fp[:maxLength]
	}
	return fp
}
