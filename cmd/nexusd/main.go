// Command nexusd runs the media processing daemon: the pipeline workers and
// the HTTP API, guarded by a single-instance lock.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"nexus/internal/config"
	"nexus/internal/daemon"
	"nexus/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nexusd:", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolved, loaded, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, closeLogs, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		LogFile: cfg.LogFilePath(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLogs(); err != nil {
			log.Printf("close log file: %v", err)
		}
	}()

	if loaded {
		logger.Info("configuration loaded", logging.String("path", resolved))
	} else {
		logger.Info("no configuration file found, using defaults",
			logging.String("path", resolved))
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("close daemon", logging.Error(err))
		}
	}()

	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("nexusd shutting down")
	return nil
}
