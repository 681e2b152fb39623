// neurald hosts browser-automation sessions: executors dial in over
// WebSocket, controllers drive them over the REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NeuralLift/browser-ai-integrations/pkg/bus"
	"github.com/NeuralLift/browser-ai-integrations/pkg/config"
	"github.com/NeuralLift/browser-ai-integrations/pkg/gateway"
	"github.com/NeuralLift/browser-ai-integrations/pkg/logging"
	"github.com/NeuralLift/browser-ai-integrations/pkg/memory"
	"github.com/NeuralLift/browser-ai-integrations/pkg/observability"
	"github.com/NeuralLift/browser-ai-integrations/pkg/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "neurald: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (defaults plus NEURALD_* overrides when empty)")
	bind := flag.String("bind", "", "override server bind address")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}

	log, err := logging.New(cfg.Logging.Dir, logging.Level(cfg.Logging.Level))
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()

	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracerProvider("neurald")
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	} else {
		observability.Disable()
	}

	notes, err := memory.Open(cfg.Memory.Path)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer notes.Close()

	var events bus.Bus
	if cfg.Bus.NATSURL != "" {
		events, err = bus.NewNATSBus(cfg.Bus.NATSURL, cfg.Bus.NATSName)
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
	} else {
		events = bus.NewMemoryBus()
	}
	defer events.Close()

	registry := session.NewRegistry()
	defer registry.CloseAll()

	server := gateway.NewServer(gateway.Config{
		BindAddress:     cfg.Server.Bind,
		MaxSessions:     cfg.Server.MaxSessions,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		InboundRate:     cfg.Server.InboundRate,
		InboundBurst:    cfg.Server.InboundBurst,
		Session: session.Config{
			SnapshotTimeout:   cfg.Session.SnapshotTimeout.Std(),
			ActionTimeout:     cfg.Session.ActionTimeout.Std(),
			IdempotentRetries: cfg.Session.IdempotentRetries,
		},
	}, registry, notes, events, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info(logging.CategoryNetwork, "server_start", "", cfg.Server.Bind, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})
	return g.Wait()
}
