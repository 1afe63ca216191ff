package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/store"
)

// JanitorConfig holds the janitor's schedules and retention window
type JanitorConfig struct {
	// ReflectSpec triggers a reflection pass for every agent
	ReflectSpec string
	// CleanupSpec triggers ledger cleanup
	CleanupSpec string
	// Retention is how long entries survive before cleanup removes them
	Retention time.Duration
}

// Janitor runs the scheduled maintenance of the memory ledger:
// periodic reflection for every agent and the explicit, logged
// cleanup of old entries.
type Janitor struct {
	logger   *zap.Logger
	ledger   *Ledger
	registry store.AgentRegistry
	config   JanitorConfig
	cron     *cron.Cron
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewJanitor creates a janitor over the given ledger and agent pool
func NewJanitor(ledger *Ledger, registry store.AgentRegistry, config JanitorConfig, logger *zap.Logger) *Janitor {
	named := logger.Named("memory-janitor")
	cronOptions := []cron.Option{
		cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
	}

	return &Janitor{
		logger:   named,
		ledger:   ledger,
		registry: registry,
		config:   config,
		cron:     cron.New(cronOptions...),
	}
}

// Start registers the maintenance jobs and starts the cron runner
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.config.ReflectSpec, func() {
		j.reflectAll(ctx)
	}); err != nil {
		return fmt.Errorf("invalid reflection schedule: %w", err)
	}

	if _, err := j.cron.AddFunc(j.config.CleanupSpec, func() {
		cutoff := time.Now().Add(-j.config.Retention)
		if _, err := j.ledger.Cleanup(ctx, cutoff); err != nil {
			j.logger.Error("Ledger cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule: %w", err)
	}

	j.cron.Start()
	j.logger.Info("Memory janitor started",
		zap.String("reflect_spec", j.config.ReflectSpec),
		zap.String("cleanup_spec", j.config.CleanupSpec),
		zap.Duration("retention", j.config.Retention))

	return nil
}

// Stop stops the cron runner, waiting for running jobs to finish
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("Memory janitor stopped")
}

// reflectAll runs a reflection pass for every registered agent. A
// failure for one agent never stops the pass.
func (j *Janitor) reflectAll(ctx context.Context) {
	agents, err := j.registry.List(ctx)
	if err != nil {
		j.logger.Error("Failed to list agents for reflection", zap.Error(err))
		return
	}

	for _, agent := range agents {
		summary, err := j.ledger.Reflect(ctx, agent.ID)
		if err != nil {
			j.logger.Error("Reflection failed",
				zap.String("agent_id", agent.ID),
				zap.Error(err))
			continue
		}
		if summary.Adapted {
			j.logger.Info("Agent adapted strategy",
				zap.String("agent_id", agent.ID),
				zap.Strings("topics", summary.TopTopics))
		}
	}
}
