package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
)

// autoAssign scores all active agents for the task and assigns the
// winner. exclude names an agent to skip (the delegating owner).
// Returns ErrNoEligibleAgent when nobody can take the task; the task
// stays pending, which is not an error condition for the pipeline.
func (e *Engine) autoAssign(ctx context.Context, task *model.Task, exclude string) error {
	agents, err := e.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	candidates := agents[:0]
	for _, agent := range agents {
		if agent.ID != exclude {
			candidates = append(candidates, agent)
		}
	}

	selected := e.scorer.SelectForTask(candidates, task)
	if selected == nil {
		e.logger.Debug("No eligible agent for task",
			zap.String("task_id", task.ID))
		return ErrNoEligibleAgent
	}

	if err := e.tasks.Assign(ctx, task.ID, selected.ID); err != nil {
		return fmt.Errorf("failed to assign task: %w", err)
	}
	if err := e.agents.AdjustLoad(ctx, selected.ID, 1); err != nil {
		return fmt.Errorf("failed to adjust agent load: %w", err)
	}

	if err := e.ledger.Log(ctx, selected.ID, &model.MemoryEntry{
		Type:    model.MemoryEvent,
		Content: fmt.Sprintf("assigned task %s", task.Title),
		Details: map[string]interface{}{"task_id": task.ID, "kind": "assignment"},
	}); err != nil {
		e.logger.Warn("Failed to record assignment", zap.Error(err))
	}

	e.logger.Info("Task auto-assigned",
		zap.String("task_id", task.ID),
		zap.String("agent_id", selected.ID),
		zap.Float64("score", e.scorer.TaskScore(selected, task)))

	return nil
}

// sweepCycle assigns any pending task that has no owner
func (e *Engine) sweepCycle(ctx context.Context) {
	tasks, err := e.tasks.GetByStatus(ctx, model.TaskStatusPending)
	if err != nil {
		e.logger.Error("Failed to fetch pending tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		if task.AssignedAgentID != "" {
			continue
		}
		if err := e.autoAssign(ctx, task, ""); err != nil && err != ErrNoEligibleAgent {
			e.logger.Error("Sweep assignment failed",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}
}

// healthCycle sheds load from overloaded agents and raises events for
// unhealthy ones
func (e *Engine) healthCycle(ctx context.Context) {
	agents, err := e.agents.List(ctx)
	if err != nil {
		e.logger.Error("Failed to list agents", zap.Error(err))
		return
	}

	for _, agent := range agents {
		if agent.MaxLoad > 0 &&
			float64(agent.CurrentLoad) > e.config.OverloadFactor*float64(agent.MaxLoad) {
			if err := e.shedOneTask(ctx, agent); err != nil {
				e.logger.Warn("Failed to shed task from overloaded agent",
					zap.String("agent_id", agent.ID),
					zap.Error(err))
			}
		}

		if agent.HealthScore < e.config.LowHealthThreshold {
			if err := e.notifier.Raise(ctx, agent.ID, model.SeverityMedium,
				"agent health below threshold", map[string]interface{}{
					"health_score": agent.HealthScore,
					"threshold":    e.config.LowHealthThreshold,
				}); err != nil {
				e.logger.Error("Failed to raise low-health event", zap.Error(err))
			}
		}
	}
}

// shedOneTask moves one of an overloaded agent's active tasks to
// another agent via auto-assignment
func (e *Engine) shedOneTask(ctx context.Context, agent *model.Agent) error {
	tasks, err := e.tasks.GetByAgent(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("failed to load agent tasks: %w", err)
	}

	for _, task := range tasks {
		if task.Status != model.TaskStatusInProgress {
			continue
		}
		if err := e.agents.AdjustLoad(ctx, agent.ID, -1); err != nil {
			return err
		}
		if err := e.autoAssign(ctx, task, agent.ID); err != nil {
			if err == ErrNoEligibleAgent {
				// Put it back; nobody else can take it
				return e.agents.AdjustLoad(ctx, agent.ID, 1)
			}
			return err
		}
		e.logger.Info("Rebalanced task away from overloaded agent",
			zap.String("task_id", task.ID),
			zap.String("from_agent", agent.ID))
		return nil
	}
	return nil
}
