// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ttyspool/ttyspool/gateway"
	"github.com/ttyspool/ttyspool/lib/artifact"
	"github.com/ttyspool/ttyspool/lib/clock"
	"github.com/ttyspool/ttyspool/lib/config"
	"github.com/ttyspool/ttyspool/lib/ttylog"
	"github.com/ttyspool/ttyspool/lib/upload"
	"github.com/ttyspool/ttyspool/lib/version"
	"github.com/ttyspool/ttyspool/recorder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		listenAddr  string
		debug       bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "config file (default $TTYSPOOL_CONFIG, then "+config.DefaultPath+")")
	flag.StringVar(&listenAddr, "listen", "", "listen address, overriding the configured one")
	flag.BoolVar(&debug, "debug", false, "log at debug level")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("ttyspool-gateway %s\n", version.Info())
		return nil
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Gateway.Listen = listenAddr
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := artifact.NewStore(cfg.Paths.DownloadDir, logger)
	if err != nil {
		return err
	}

	var transcripts recorder.TranscriptWriter
	if cfg.Recording.TTYLog {
		transcripts = ttylog.NewWriter()
	}

	var uploader recorder.Uploader
	if cfg.Archive.Enabled {
		archiver, err := upload.New(upload.Options{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseTLS:    cfg.Archive.UseTLS,
		})
		if err != nil {
			return fmt.Errorf("configuring transcript archiver: %w", err)
		}
		uploader = archiver
		logger.Info("transcript archiving enabled",
			"endpoint", cfg.Archive.Endpoint,
			"bucket", cfg.Archive.Bucket)
	}

	hostKey, err := gateway.LoadOrGenerateHostKey(cfg.HostKeyPath())
	if err != nil {
		return err
	}

	server, err := gateway.New(gateway.Options{
		HostKey:     hostKey,
		Users:       cfg.Gateway.Users,
		Shell:       cfg.Gateway.Shell,
		Store:       store,
		Transcripts: transcripts,
		LogDir:      cfg.Paths.LogDir,
		CaptureDir:  cfg.Paths.DownloadDir,
		ByteLimit:   cfg.Recording.ByteLimit,
		Uploader:    uploader,
		Bucket:      cfg.Archive.Bucket,
		Clock:       clock.Real(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Gateway.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Gateway.Listen, err)
	}

	logger.Info("ttyspool gateway starting",
		"version", version.Short(),
		"listen", listener.Addr().String(),
		"log_dir", cfg.Paths.LogDir,
		"download_dir", cfg.Paths.DownloadDir,
		"ttylog", cfg.Recording.TTYLog,
		"byte_limit", cfg.Recording.ByteLimit)

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, listener)
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return <-served
	}
}
