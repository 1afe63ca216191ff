package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/memory"
	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/store"
)

// handoff transfers the task to the role owning the next pipeline
// stage and appends the transition to the workflow history.
func (e *Engine) handoff(ctx context.Context, task *model.Task, from *model.Agent, next model.WorkflowStage) error {
	agents, err := e.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	nextRole := roleForStage(next)
	var target *model.Agent
	for _, candidate := range agents {
		if candidate.Role != nextRole || candidate.Status != model.AgentStatusActive {
			continue
		}
		if target == nil || candidate.CurrentLoad < target.CurrentLoad {
			target = candidate
		}
	}

	if err := e.agents.AdjustLoad(ctx, from.ID, -1); err != nil {
		return fmt.Errorf("failed to release handing-off agent: %w", err)
	}

	transition := model.StageTransition{
		From:        task.WorkflowStage,
		To:          next,
		FromAgentID: from.ID,
		Reason:      "stage complete",
		At:          time.Now(),
	}

	if target == nil {
		// Next role has nobody active; park the task for the sweep
		pending := model.TaskStatusPending
		cleared := ""
		if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
			Status:          &pending,
			AssignedAgentID: &cleared,
			WorkflowStage:   &next,
			AppendHistory:   []model.StageTransition{transition},
		}); err != nil {
			return fmt.Errorf("failed to park task for next stage: %w", err)
		}
		e.logger.Warn("Handoff target role has no active agent",
			zap.String("task_id", task.ID),
			zap.String("next_role", string(nextRole)))
		return nil
	}

	transition.ToAgentID = target.ID
	inProgress := model.TaskStatusInProgress
	if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
		Status:          &inProgress,
		AssignedAgentID: &target.ID,
		WorkflowStage:   &next,
		AppendHistory:   []model.StageTransition{transition},
	}); err != nil {
		return fmt.Errorf("failed to hand off task: %w", err)
	}
	if err := e.agents.AdjustLoad(ctx, target.ID, 1); err != nil {
		return fmt.Errorf("failed to load receiving agent: %w", err)
	}

	e.logger.Info("Task handed off",
		zap.String("task_id", task.ID),
		zap.String("from_agent", from.ID),
		zap.String("to_agent", target.ID),
		zap.String("stage", string(next)))

	return nil
}

// escalate forces the task onto a lead-role agent, appends the
// escalation communication, and marks the task escalated.
func (e *Engine) escalate(ctx context.Context, task *model.Task, from *model.Agent, reason string) error {
	agents, err := e.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	var lead *model.Agent
	for _, candidate := range agents {
		if candidate.Role != model.RoleLead {
			continue
		}
		if lead == nil || candidate.CurrentLoad < lead.CurrentLoad {
			lead = candidate
		}
	}

	fromID := ""
	if from != nil {
		fromID = from.ID
		if err := e.agents.AdjustLoad(ctx, from.ID, -1); err != nil {
			e.logger.Warn("Failed to release escalating agent",
				zap.String("agent_id", from.ID),
				zap.Error(err))
		}
	}

	escalated := model.TaskStatusEscalated
	update := store.TaskUpdate{
		Status: &escalated,
		AppendHistory: []model.StageTransition{{
			From:        task.WorkflowStage,
			To:          task.WorkflowStage,
			FromAgentID: fromID,
			Reason:      fmt.Sprintf("escalated: %s", reason),
			At:          time.Now(),
		}},
	}
	if lead != nil {
		update.AssignedAgentID = &lead.ID
		update.AppendComms = []model.Communication{{
			ID:      uuid.New().String(),
			From:    fromID,
			To:      lead.ID,
			Content: fmt.Sprintf("Escalation for task %s: %s", task.Title, reason),
			SentAt:  time.Now(),
		}}
	}

	if _, err := e.tasks.Update(ctx, task.ID, update); err != nil {
		return fmt.Errorf("failed to escalate task: %w", err)
	}
	if lead != nil {
		if err := e.agents.AdjustLoad(ctx, lead.ID, 1); err != nil {
			e.logger.Warn("Failed to load lead agent", zap.Error(err))
		}
	}

	if err := e.notifier.Raise(ctx, fromID, model.SeverityHigh,
		"task escalated", map[string]interface{}{
			"task_id": task.ID,
			"reason":  reason,
		}); err != nil {
		e.logger.Error("Failed to raise escalation event", zap.Error(err))
	}

	e.logger.Warn("Task escalated",
		zap.String("task_id", task.ID),
		zap.String("reason", reason))

	return nil
}

// recoverOrEscalate decides what happens after a processing failure:
// a bounded retry back to pending, or escalation once the recovery
// budget is spent. Attempts are counted from ledger events so the
// count survives engine restarts.
func (e *Engine) recoverOrEscalate(ctx context.Context, task *model.Task) error {
	attempts, err := e.recoveryAttempts(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to count recovery attempts: %w", err)
	}

	if attempts >= e.config.MaxRecoveryAttempts {
		var from *model.Agent
		if task.AssignedAgentID != "" {
			from, _ = e.agents.Get(ctx, task.AssignedAgentID)
		}
		return e.escalate(ctx, task, from,
			fmt.Sprintf("recovery exhausted after %d attempts", attempts))
	}

	agentID := task.AssignedAgentID
	if agentID != "" {
		if err := e.ledger.Log(ctx, agentID, &model.MemoryEntry{
			Type:    model.MemoryEvent,
			Content: fmt.Sprintf("recovery attempt %d for task %s", attempts+1, task.Title),
			Details: map[string]interface{}{"task_id": task.ID, "kind": "recovery"},
		}); err != nil {
			return fmt.Errorf("failed to record recovery attempt: %w", err)
		}
		if err := e.agents.AdjustLoad(ctx, agentID, -1); err != nil {
			e.logger.Warn("Failed to release failed agent", zap.Error(err))
		}
	}

	pending := model.TaskStatusPending
	cleared := ""
	if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
		Status:          &pending,
		AssignedAgentID: &cleared,
	}); err != nil {
		return fmt.Errorf("failed to reset task for retry: %w", err)
	}

	e.logger.Info("Task reset for recovery",
		zap.String("task_id", task.ID),
		zap.Int("attempt", attempts+1))

	return nil
}

// recoveryAttempts counts the recovery events recorded for this task
// across the whole pool; retries may run under different agents. The
// query is bounded to the recovery window so the failure path does not
// scan entire ledgers.
func (e *Engine) recoveryAttempts(ctx context.Context, task *model.Task) (int, error) {
	agents, err := e.agents.List(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, agent := range agents {
		entries, err := e.ledger.Query(ctx, agent.ID, memory.Filter{
			Type:  model.MemoryEvent,
			Since: time.Now().Add(-e.config.RecoveryWindow),
		})
		if err != nil {
			return 0, err
		}
		for _, entry := range entries {
			if entry.DetailString("kind") == "recovery" &&
				entry.DetailString("task_id") == task.ID {
				count++
			}
		}
	}
	return count, nil
}
