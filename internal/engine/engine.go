package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/assign"
	"github.com/t77yq/agentflow/internal/decompose"
	"github.com/t77yq/agentflow/internal/memory"
	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/notify"
	"github.com/t77yq/agentflow/internal/oracle"
	"github.com/t77yq/agentflow/internal/store"
)

// Config carries the engine's tunables. All values are injected at
// construction; there is no global settings object.
type Config struct {
	MainInterval   time.Duration `mapstructure:"main_interval"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	// MaxRecoveryAttempts bounds failed-then-retried cycles per task
	// before escalation
	MaxRecoveryAttempts int `mapstructure:"max_recovery_attempts"`
	// RecoveryWindow bounds how far back recovery attempts are counted,
	// keeping the failure path from scanning whole ledgers
	RecoveryWindow time.Duration `mapstructure:"recovery_window"`
	// OverloadFactor is the CurrentLoad/MaxLoad fraction above which
	// the health loop sheds a task
	OverloadFactor float64 `mapstructure:"overload_factor"`
	// LowHealthThreshold is the health score under which the health
	// loop raises an event
	LowHealthThreshold float64 `mapstructure:"low_health_threshold"`
	// HistoryWindow bounds the recent ledger history sent to the oracle
	HistoryWindow time.Duration `mapstructure:"history_window"`
}

// DefaultConfig returns the standard engine tunables
func DefaultConfig() Config {
	return Config{
		MainInterval:        2 * time.Second,
		HealthInterval:      30 * time.Second,
		SweepInterval:       10 * time.Second,
		StaleThreshold:      30 * time.Second,
		MaxRecoveryAttempts: 3,
		RecoveryWindow:      24 * time.Hour,
		OverloadFactor:      0.9,
		LowHealthThreshold:  70,
		HistoryWindow:       time.Hour,
	}
}

// Engine is the workflow scheduler. It runs three independent loops
// over the shared task store and agent registry: the main processing
// loop, the agent health loop, and the unassigned-task sweep.
type Engine struct {
	logger    *zap.Logger
	config    Config
	tasks     store.TaskStore
	agents    store.AgentRegistry
	ledger    *memory.Ledger
	oracle    oracle.Oracle
	notifier  notify.Notifier
	scorer    *assign.Scorer
	decompose *decompose.Decomposer
	rng       *rand.Rand
	rngMu     sync.Mutex

	// inflight guards against concurrent processing passes for the
	// same task id
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	stop   chan struct{}
	wg     sync.WaitGroup
	passes sync.WaitGroup
}

// New creates a workflow engine. The rng seeds reminder-message
// selection; inject a fixed seed in tests for reproducible runs.
func New(
	config Config,
	tasks store.TaskStore,
	agents store.AgentRegistry,
	ledger *memory.Ledger,
	orc oracle.Oracle,
	notifier notify.Notifier,
	scorer *assign.Scorer,
	decomposer *decompose.Decomposer,
	rng *rand.Rand,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		logger:    logger.Named("workflow-engine"),
		config:    config,
		tasks:     tasks,
		agents:    agents,
		ledger:    ledger,
		oracle:    orc,
		notifier:  notifier,
		scorer:    scorer,
		decompose: decomposer,
		rng:       rng,
		inflight:  make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
}

// Start launches the engine's loops
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting workflow engine",
		zap.Duration("main_interval", e.config.MainInterval),
		zap.Duration("health_interval", e.config.HealthInterval),
		zap.Duration("sweep_interval", e.config.SweepInterval))

	e.wg.Add(3)
	go e.runLoop(ctx, e.config.MainInterval, e.processCycle)
	go e.runLoop(ctx, e.config.HealthInterval, e.healthCycle)
	go e.runLoop(ctx, e.config.SweepInterval, e.sweepCycle)

	return nil
}

// Stop signals the loops to halt and waits for the current iterations
// and any in-flight processing passes to finish
func (e *Engine) Stop() {
	e.logger.Info("Stopping workflow engine")
	close(e.stop)
	e.wg.Wait()
	e.passes.Wait()
}

// runLoop drives one periodic loop in the shared ticker pattern
func (e *Engine) runLoop(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

// processCycle is one pass of the main processing loop
func (e *Engine) processCycle(ctx context.Context) {
	tasks, err := e.tasks.GetByStatus(ctx, model.TaskStatusPending, model.TaskStatusInProgress)
	if err != nil {
		e.logger.Error("Failed to fetch candidate tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		if !e.shouldProcess(task) {
			continue
		}
		if !e.markInflight(task.ID) {
			continue
		}

		e.passes.Add(1)
		go func(t *model.Task) {
			defer e.passes.Done()
			defer e.clearInflight(t.ID)
			e.processTask(ctx, t)
		}(task)
	}
}

// shouldProcess decides whether a task needs attention this cycle: it
// is stale, or it has communications newer than its last update.
func (e *Engine) shouldProcess(task *model.Task) bool {
	if time.Since(task.UpdatedAt) > e.config.StaleThreshold {
		return true
	}
	return task.LastCommunicationAt().After(task.UpdatedAt)
}

// markInflight claims a task for processing. Returns false when
// another pass already holds it.
func (e *Engine) markInflight(taskID string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	if _, busy := e.inflight[taskID]; busy {
		return false
	}
	e.inflight[taskID] = struct{}{}
	return true
}

// clearInflight releases the claim regardless of outcome
func (e *Engine) clearInflight(taskID string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	delete(e.inflight, taskID)
}

// InflightCount reports how many tasks are being processed right now
func (e *Engine) InflightCount() int {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	return len(e.inflight)
}

// processTask runs one processing pass for a task. Every error is
// contained here; a bad task never stops the loop.
func (e *Engine) processTask(ctx context.Context, task *model.Task) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while processing task",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			e.handleProcessingFailure(ctx, task, fmt.Errorf("panic: %v", r))
		}
	}()

	if task.AssignedAgentID == "" {
		// The next cycle picks up the now-assigned task
		if err := e.autoAssign(ctx, task, ""); err != nil && err != ErrNoEligibleAgent {
			e.logger.Error("Auto-assignment failed",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
		return
	}

	agent, err := e.agents.Get(ctx, task.AssignedAgentID)
	if err != nil {
		e.handleProcessingFailure(ctx, task, fmt.Errorf("failed to resolve agent: %w", err))
		return
	}
	if agent.Status != model.AgentStatusActive {
		e.logger.Debug("Skipping task, agent not active",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agent.ID),
			zap.String("agent_status", string(agent.Status)))
		return
	}

	decision := e.decide(ctx, task, agent)

	if err := e.executeDecision(ctx, task, agent, decision); err != nil {
		e.handleProcessingFailure(ctx, task, err)
		return
	}
}

// decide consults the oracle and falls back to the per-role
// deterministic decision when it is unavailable. Oracle failure is
// transient; it never fails the task.
func (e *Engine) decide(ctx context.Context, task *model.Task, agent *model.Agent) *model.Decision {
	history, err := e.ledger.Query(ctx, agent.ID, memory.Filter{
		Since: time.Now().Add(-e.config.HistoryWindow),
	})
	if err != nil {
		e.logger.Warn("Failed to load recent history",
			zap.String("agent_id", agent.ID),
			zap.Error(err))
	}
	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}

	decision, err := e.oracle.Decide(ctx, oracle.DecisionRequest{
		Task:          task,
		Agent:         agent,
		RecentHistory: history,
	})
	if err != nil {
		e.logger.Warn("Oracle unavailable, using fallback decision",
			zap.String("task_id", task.ID),
			zap.String("role", string(agent.Role)),
			zap.Error(err))
		return fallbackDecision(agent.Role, task)
	}
	return decision
}

// handleProcessingFailure contains a failed pass: the task is marked
// failed with a reason, a health event is raised, and recovery or
// escalation follows.
func (e *Engine) handleProcessingFailure(ctx context.Context, task *model.Task, cause error) {
	e.logger.Error("Task processing failed",
		zap.String("task_id", task.ID),
		zap.Error(cause))

	failed := model.TaskStatusFailed
	reason := fmt.Sprintf("processing failed: %v", cause)
	if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
		Status:      &failed,
		Description: nil,
		AppendHistory: []model.StageTransition{{
			From:   task.WorkflowStage,
			To:     task.WorkflowStage,
			Reason: reason,
			At:     time.Now(),
		}},
	}); err != nil {
		e.logger.Error("Failed to persist task failure",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}

	if err := e.notifier.Raise(ctx, task.AssignedAgentID, model.SeverityHigh,
		"task processing failed", map[string]interface{}{
			"task_id": task.ID,
			"reason":  cause.Error(),
		}); err != nil {
		e.logger.Error("Failed to raise health event", zap.Error(err))
	}

	if err := e.recoverOrEscalate(ctx, task); err != nil {
		e.logger.Error("Recovery handling failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

const maxHistoryEntries = 20
