package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tunnelcast/internal/agent"
)

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to agent configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	a, err := agent.New(cfg)
	if err != nil {
		slog.Error("failed to create agent", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		for e := range a.Events() {
			switch e.Kind {
			case agent.EventRequest:
				slog.Info("proxied request", "method", e.Method, "path", e.Path, "status", e.Status)
			case agent.EventError:
				slog.Warn("tunnel error", "err", e.Err)
			case agent.EventClose:
				slog.Info("tunnel closed")
			}
		}
	}()

	slog.Info("agent starting", "relay", cfg.Relay.URL)
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("agent stopped")
}
