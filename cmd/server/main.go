package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/assign"
	"github.com/t77yq/agentflow/internal/config"
	"github.com/t77yq/agentflow/internal/decompose"
	"github.com/t77yq/agentflow/internal/engine"
	"github.com/t77yq/agentflow/internal/memory"
	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/monitor"
	"github.com/t77yq/agentflow/internal/notify"
	"github.com/t77yq/agentflow/internal/oracle"
	"github.com/t77yq/agentflow/internal/store"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to NATS when the transport is enabled
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		opts := []nats.Option{
			nats.Name(cfg.AppName),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
			nats.Timeout(cfg.NATS.ConnectTimeout),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				logger.Error("NATS connection error", zap.Error(err))
			}),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				logger.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		}

		// Connect with retry
		maxRetries := 5
		for i := 0; i < maxRetries; i++ {
			nc, err = nats.Connect(cfg.NATS.URL, opts...)
			if err == nil {
				break
			}
			logger.Warn("Failed to connect to NATS, retrying...",
				zap.Int("attempt", i+1),
				zap.Error(err))
			time.Sleep(time.Second * time.Duration(i+1))
		}
		if err != nil {
			logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
		}
		defer nc.Close()

		logger.Info("Connected to NATS successfully",
			zap.String("url", nc.ConnectedUrl()))
	}

	// Memory ledger: SQLite when a path is configured, in-memory otherwise
	var entryStore memory.EntryStore
	if cfg.Ledger.Path != "" {
		sqliteStore, err := memory.NewSQLiteEntryStore(logger, cfg.Ledger.Path)
		if err != nil {
			logger.Fatal("Failed to open ledger storage", zap.Error(err))
		}
		defer sqliteStore.Close()
		entryStore = sqliteStore
	} else {
		entryStore = memory.NewMemoryEntryStore()
	}
	ledger := memory.NewLedger(entryStore, logger)

	// Notification sink and cognition oracle ride on NATS when available
	var notifier notify.Notifier = notify.NewRecorder()
	var orc oracle.Oracle = oracle.Unavailable{}
	if nc != nil {
		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
		natsNotifier, err := notify.NewNATSNotifier(js, logger)
		if err != nil {
			logger.Fatal("Failed to create notifier", zap.Error(err))
		}
		notifier = natsNotifier
		orc = oracle.NewNATSOracle(nc, cfg.Oracle.Timeout, logger)
	}

	// Provision the fixed agent pool
	pool := make([]*model.Agent, 0, len(cfg.Agents))
	for _, seed := range cfg.Agents {
		pool = append(pool, &model.Agent{
			ID:          seed.ID,
			Name:        seed.Name,
			Role:        model.AgentRole(seed.Role),
			Status:      model.AgentStatusActive,
			MaxLoad:     seed.MaxLoad,
			HealthScore: 100,
			Expertise:   seed.Expertise,
		})
	}
	agents := store.NewMemoryAgentRegistry(logger, pool)
	tasks := store.NewMemoryTaskStore(logger)

	scorer := assign.NewScorer(cfg.Scoring)
	decomposer, err := decompose.NewDecomposer(tasks, agents, scorer, logger)
	if err != nil {
		logger.Fatal("Failed to create decomposer", zap.Error(err))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	eng := engine.New(cfg.Engine, tasks, agents, ledger, orc, notifier, scorer, decomposer, rng, logger)
	selfMonitor := monitor.NewSelfMonitor(cfg.Monitor, ledger, tasks, agents, notifier, logger)
	janitor := memory.NewJanitor(ledger, agents, memory.JanitorConfig{
		ReflectSpec: cfg.Ledger.ReflectSpec,
		CleanupSpec: cfg.Ledger.CleanupSpec,
		Retention:   cfg.Ledger.Retention,
	}, logger)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("Failed to start workflow engine", zap.Error(err))
	}
	if err := selfMonitor.Start(ctx); err != nil {
		logger.Fatal("Failed to start self-monitor", zap.Error(err))
	}
	if err := janitor.Start(ctx); err != nil {
		logger.Fatal("Failed to start memory janitor", zap.Error(err))
	}

	logger.Info("Orchestrator running",
		zap.String("app", cfg.AppName),
		zap.Int("agents", len(pool)))

	// Wait for shutdown signal
	<-ctx.Done()

	// Let current iterations finish before halting
	done := make(chan struct{})
	go func() {
		eng.Stop()
		selfMonitor.Stop()
		janitor.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Server shutting down gracefully")
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
