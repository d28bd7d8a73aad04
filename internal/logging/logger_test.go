package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"nexus/internal/services"
)

func TestPrettyHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newPrettyHandler(&buf, slog.LevelInfo))
	logger = NewComponentLogger(logger, "pipeline")

	logger.Info("stage started", String(FieldStage, "extracting"), Int(FieldAttempt, 1))

	out := buf.String()
	if !strings.Contains(out, "INFO pipeline: stage started") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "stage=extracting") || !strings.Contains(out, "attempt=1") {
		t.Fatalf("missing attributes: %q", out)
	}
}

func TestPrettyHandlerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newPrettyHandler(&buf, slog.LevelInfo))

	logger.Info("failed", String("detail", "no such host"))

	if !strings.Contains(buf.String(), `detail="no such host"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newPrettyHandler(&buf, slog.LevelWarn))

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(newPrettyHandler(&buf, slog.LevelInfo))

	ctx := services.WithJobID(context.Background(), "job-9")
	ctx = services.WithStage(ctx, "embedding")

	WithContext(ctx, base).Info("tick")

	out := buf.String()
	if !strings.Contains(out, "job_id=job-9") || !strings.Contains(out, "stage=embedding") {
		t.Fatalf("context fields missing: %q", out)
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing happens", Error(nil))
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != slog.LevelDebug {
		t.Fatal("debug level")
	}
	if parseLevel("") != slog.LevelInfo {
		t.Fatal("default level")
	}
	if parseLevel("nonsense") != slog.LevelInfo {
		t.Fatal("unknown level falls back to info")
	}
}
