package daemon

import (
	"context"
	"testing"

	"nexus/internal/logging"
	"nexus/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("close daemon: %v", err)
		}
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	status := d.Status(context.Background())
	if !status.Running {
		t.Error("daemon reports not running after start")
	}
	if status.DatabasePath == "" || status.LockFilePath == "" {
		t.Errorf("status missing paths: %+v", status)
	}
	if !status.Pipeline.Running {
		t.Error("pipeline not running inside started daemon")
	}

	d.Stop()
	if d.Status(context.Background()).Running {
		t.Error("daemon reports running after stop")
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"

	first, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}

	second, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("second daemon started while the first holds the lock")
	}
}

func TestDaemonStartIsIdempotentGuarded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second start on a running daemon did not fail")
	}
}
