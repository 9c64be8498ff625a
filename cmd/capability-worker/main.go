// Package main is the entrypoint for a capability worker pool: it resolves
// its configured capabilities to subjects via the client facade's bootstrap
// and resolution machinery, then runs a worker.Pool that dispatches
// incoming invocations to registered handlers (spec §4.10).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/morezero/capability-sdk/internal/workerconfig"
	"github.com/morezero/capability-sdk/pkg/client"
	"github.com/morezero/capability-sdk/pkg/connpool"
	"github.com/morezero/capability-sdk/pkg/resolution"
	"github.com/morezero/capability-sdk/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("capability-worker: fatal error: %v", err)
	}
}

func run() error {
	cfg, err := workerconfig.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForRun(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capabilities, err := resolveCapabilities(ctx, cfg)
	if err != nil {
		return fmt.Errorf("resolve capabilities: %w", err)
	}

	pool := connpool.New(connpool.Config{DefaultURL: cfg.BusURL})
	defer pool.CloseAll()

	workerPool, err := worker.New(pool, slog.Default())
	if err != nil {
		return fmt.Errorf("construct worker pool: %w", err)
	}

	poolCfg := worker.PoolConfig{
		ID:                cfg.WorkerID,
		SandboxID:         cfg.SandboxID,
		Capabilities:      capabilities,
		ConcurrentWorkers: cfg.ConcurrentWorkers,
		ConsumerGroup:     cfg.ConsumerGroup,
	}
	if err := workerPool.Start(ctx, poolCfg); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	slog.Info(fmt.Sprintf("capability-worker: pool %s running with %d capabilities", cfg.WorkerID, len(capabilities)))
	<-ctx.Done()

	slog.Info("capability-worker: shutting down")
	return workerPool.Stop()
}

// resolveCapabilities uses a short-lived client facade purely for its
// bootstrap fetch and resolution cache, then discards it: the worker pool
// only needs the resolved {subject, natsUrl} pairs, not the invocation
// pipeline.
func resolveCapabilities(ctx context.Context, cfg *workerconfig.Config) ([]worker.CapabilityConfig, error) {
	c := client.New(client.Config{
		DefaultBusURL:    cfg.BusURL,
		BootstrapSubject: cfg.BootstrapSubject,
		RequestTimeout:   cfg.RequestTimeout,
	})
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	defer c.Close()

	names := cfg.Capabilities()
	capabilities := make([]worker.CapabilityConfig, 0, len(names))
	for _, name := range names {
		out, err := c.Resolve(ctx, resolution.Input{Cap: name})
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		capabilities = append(capabilities, worker.CapabilityConfig{
			Name:    name,
			Subject: out.Subject,
			NatsUrl: out.NatsUrl,
		})
	}
	return capabilities, nil
}
