package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framehub/framehub/internal/config"
	"github.com/framehub/framehub/internal/hub"
	"github.com/framehub/framehub/internal/pipeline"
	"github.com/framehub/framehub/internal/relay"
	"github.com/framehub/framehub/internal/server"
	"github.com/framehub/framehub/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/framehub.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting framehub",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Server.ListenAddr,
		"relay_enabled", cfg.Relay.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create and start the hub
	h := hub.New(hub.Config{
		InstanceID: cfg.Instance.ID,
		Pipeline: pipeline.Config{
			InboundQueueSize:  cfg.Pipeline.InboundQueueSize,
			InboundWorkers:    cfg.Pipeline.InboundWorkers,
			ProcessQueueSize:  cfg.Pipeline.ProcessQueueSize,
			ProcessWorkers:    cfg.Pipeline.ProcessWorkers,
			OutboundQueueSize: cfg.Pipeline.OutboundQueueSize,
			OutboundShards:    cfg.Pipeline.OutboundShards,
		},
		Relay: relay.Config{
			Enabled:            cfg.Relay.Enabled,
			Addr:               cfg.Relay.Addr,
			Login:              cfg.Relay.Login,
			Passcode:           cfg.Relay.Passcode,
			VirtualHost:        cfg.Relay.VirtualHost,
			HeartbeatSend:      cfg.Relay.HeartbeatSend,
			HeartbeatRecv:      cfg.Relay.HeartbeatRecv,
			GracePeriod:        cfg.Relay.GracePeriod,
			ReconnectBaseDelay: cfg.Relay.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Relay.ReconnectMaxDelay,
			DialTimeout:        cfg.Relay.DialTimeout,
			WriteTimeout:       cfg.Relay.WriteTimeout,
			QueueSize:          cfg.Relay.QueueSize,
			Origin:             cfg.Instance.ID,
		},
	}, nil, logger)

	h.Start(ctx)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		h.Stop(shutdownCtx)
	}()

	// Create and start the WebSocket front end
	srv := server.New(server.Config{
		ListenAddr:       cfg.Server.ListenAddr,
		WSPath:           cfg.Server.WSPath,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		SendTimeLimit:    cfg.Server.SendTimeLimit,
		ReadLimit:        cfg.Server.ReadLimit,
	}, h, nil, logger)

	srv.Start(ctx)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Stop(shutdownCtx)
	}()

	logger.Info("framehub running",
		"instance_id", cfg.Instance.ID,
		"ws", cfg.Server.ListenAddr+cfg.Server.WSPath,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
}
