package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/store"
)

// fallbackDecision is the deterministic per-role decision applied when
// the oracle is unavailable. The pipeline must keep moving, so every
// fallback resolves the pass without external input.
func fallbackDecision(role model.AgentRole, task *model.Task) *model.Decision {
	switch role {
	case model.RoleRequirements:
		return &model.Decision{
			Action:            model.ActionCompleteTask,
			Reasoning:         "oracle unavailable; producing standard requirements summary",
			ArtifactsToCreate: []string{fmt.Sprintf("requirements-summary-%s.md", task.ID)},
		}
	case model.RoleAnalysis:
		return &model.Decision{
			Action:            model.ActionCompleteTask,
			Reasoning:         "oracle unavailable; producing standard analysis notes",
			ArtifactsToCreate: []string{fmt.Sprintf("analysis-notes-%s.md", task.ID)},
		}
	case model.RoleDevelopment:
		return &model.Decision{
			Action:            model.ActionCompleteTask,
			Reasoning:         "oracle unavailable; completing with templated change summary",
			ArtifactsToCreate: []string{fmt.Sprintf("change-summary-%s.md", task.ID)},
		}
	case model.RoleTesting:
		return &model.Decision{
			Action:            model.ActionCompleteTask,
			Reasoning:         "oracle unavailable; recording templated test report",
			ArtifactsToCreate: []string{fmt.Sprintf("test-report-%s.md", task.ID)},
		}
	case model.RoleReview:
		return &model.Decision{
			Action:            model.ActionCompleteTask,
			Reasoning:         "oracle unavailable; approving with templated review record",
			ArtifactsToCreate: []string{fmt.Sprintf("review-record-%s.md", task.ID)},
		}
	case model.RoleLead, model.RoleAdmin:
		return &model.Decision{
			Action:    model.ActionGatherInfo,
			Reasoning: "oracle unavailable; supervisory role defers and gathers state",
		}
	default:
		return &model.Decision{
			Action:    model.ActionEscalate,
			Reasoning: "oracle unavailable and role has no fallback",
		}
	}
}

// statusFor maps an executed action to the task's next status. The
// switch is exhaustive over the closed action set.
func statusFor(action model.DecisionAction, atFinalStage bool) model.TaskStatus {
	switch action {
	case model.ActionCompleteTask:
		if atFinalStage {
			return model.TaskStatusCompleted
		}
		return model.TaskStatusInProgress
	case model.ActionRequestHelp, model.ActionGatherInfo, model.ActionCollaborate:
		return model.TaskStatusInProgress
	case model.ActionDelegateTask:
		return model.TaskStatusInProgress
	case model.ActionEscalate:
		return model.TaskStatusEscalated
	default:
		return model.TaskStatusInProgress
	}
}

// executeDecision carries out the oracle's verdict and persists the
// resulting task state.
func (e *Engine) executeDecision(ctx context.Context, task *model.Task, agent *model.Agent, decision *model.Decision) error {
	e.logger.Info("Executing decision",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID),
		zap.String("action", string(decision.Action)),
		zap.String("reasoning", decision.Reasoning))

	e.logAction(ctx, agent.ID, task, decision)

	var err error
	switch decision.Action {
	case model.ActionCompleteTask:
		err = e.completeStage(ctx, task, agent, decision)
	case model.ActionRequestHelp:
		err = e.requestHelp(ctx, task, agent)
	case model.ActionDelegateTask:
		err = e.delegateTask(ctx, task, agent)
	case model.ActionGatherInfo:
		err = e.gatherInfo(ctx, task, agent)
	case model.ActionCollaborate:
		err = e.collaborate(ctx, task, agent, decision)
	case model.ActionEscalate:
		err = e.escalate(ctx, task, agent, decision.Reasoning)
	default:
		err = fmt.Errorf("unknown decision action %q", decision.Action)
	}
	if err != nil {
		return err
	}

	if decision.CollaborationNeeded != nil && decision.Action != model.ActionCollaborate {
		if err := e.messageRole(ctx, task, agent, decision.CollaborationNeeded.TargetRole,
			decision.CollaborationNeeded.Message); err != nil {
			e.logger.Warn("Failed to deliver collaboration message",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}

	if len(decision.Blockers) > 0 && decision.Action != model.ActionEscalate {
		return e.escalate(ctx, task, agent,
			fmt.Sprintf("blockers reported: %v", decision.Blockers))
	}

	return nil
}

// logAction records the pass in the agent's ledger, including any
// artifacts the decision produced.
func (e *Engine) logAction(ctx context.Context, agentID string, task *model.Task, decision *model.Decision) {
	details := map[string]interface{}{
		"task_id": task.ID,
		"action":  string(decision.Action),
	}
	if len(decision.ArtifactsToCreate) > 0 {
		details["artifacts"] = decision.ArtifactsToCreate
	}
	if err := e.ledger.Log(ctx, agentID, &model.MemoryEntry{
		Type:    model.MemoryAction,
		Content: fmt.Sprintf("%s on task %s: %s", decision.Action, task.Title, decision.Reasoning),
		Details: details,
	}); err != nil {
		e.logger.Warn("Failed to log action to ledger",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
}

// completeStage finishes the current pipeline stage: create the
// decision's artifacts, then either hand off to the next role or
// complete the task at the end of the pipeline.
func (e *Engine) completeStage(ctx context.Context, task *model.Task, agent *model.Agent, decision *model.Decision) error {
	for _, artifact := range decision.ArtifactsToCreate {
		if err := e.ledger.Log(ctx, agent.ID, &model.MemoryEntry{
			Type:    model.MemoryEvent,
			Content: fmt.Sprintf("created artifact %s", artifact),
			Details: map[string]interface{}{"task_id": task.ID, "artifact": artifact},
		}); err != nil {
			e.logger.Warn("Failed to record artifact", zap.Error(err))
		}
	}

	next, last := nextStage(task.WorkflowStage)
	if last {
		return e.finishTask(ctx, task, agent)
	}
	return e.handoff(ctx, task, agent, next)
}

// finishTask marks the task completed and releases the agent's load
func (e *Engine) finishTask(ctx context.Context, task *model.Task, agent *model.Agent) error {
	completed := model.TaskStatusCompleted
	stage := model.StageDone
	if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
		Status:        &completed,
		WorkflowStage: &stage,
		AppendHistory: []model.StageTransition{{
			From:        task.WorkflowStage,
			To:          model.StageDone,
			FromAgentID: agent.ID,
			Reason:      "pipeline complete",
			At:          time.Now(),
		}},
	}); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	if err := e.agents.AdjustLoad(ctx, agent.ID, -1); err != nil {
		return fmt.Errorf("failed to release agent load: %w", err)
	}

	if e.decompose != nil && task.ParentTaskID != "" {
		if err := e.decompose.HandleSubtaskCompletion(ctx, task.ID); err != nil {
			e.logger.Warn("Subtask completion handling failed",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}

	e.logger.Info("Task completed",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID))
	return nil
}

// requestHelp messages the lowest-loaded active peer
func (e *Engine) requestHelp(ctx context.Context, task *model.Task, agent *model.Agent) error {
	agents, err := e.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	var helper *model.Agent
	for _, candidate := range agents {
		if candidate.ID == agent.ID || candidate.Status != model.AgentStatusActive {
			continue
		}
		if helper == nil || candidate.CurrentLoad < helper.CurrentLoad {
			helper = candidate
		}
	}
	if helper == nil {
		e.logger.Debug("No peer available to help",
			zap.String("task_id", task.ID))
		return e.touch(ctx, task, model.ActionRequestHelp)
	}

	msg := e.pickReminder(helpMessages)
	status := statusFor(model.ActionRequestHelp, false)
	if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
		Status: &status,
		AppendComms: []model.Communication{{
			ID:      uuid.New().String(),
			From:    agent.ID,
			To:      helper.ID,
			Content: fmt.Sprintf("%s (task: %s)", msg, task.Title),
			SentAt:  time.Now(),
		}},
	}); err != nil {
		return fmt.Errorf("failed to attach help request: %w", err)
	}
	return nil
}

// delegateTask hands ownership to another agent chosen by the scorer
func (e *Engine) delegateTask(ctx context.Context, task *model.Task, agent *model.Agent) error {
	if err := e.agents.AdjustLoad(ctx, agent.ID, -1); err != nil {
		return fmt.Errorf("failed to release delegating agent: %w", err)
	}
	if err := e.autoAssign(ctx, task, agent.ID); err != nil {
		if err == ErrNoEligibleAgent {
			// Nobody to take it; the sweep retries later
			pending := model.TaskStatusPending
			cleared := ""
			_, uerr := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
				Status:          &pending,
				AssignedAgentID: &cleared,
			})
			return uerr
		}
		return err
	}
	return nil
}

// gatherInfo records an information-gathering event and refreshes the task
func (e *Engine) gatherInfo(ctx context.Context, task *model.Task, agent *model.Agent) error {
	if err := e.ledger.Log(ctx, agent.ID, &model.MemoryEntry{
		Type:    model.MemoryEvent,
		Content: fmt.Sprintf("gathering information for task %s", task.Title),
		Details: map[string]interface{}{"task_id": task.ID, "kind": "gather_info"},
	}); err != nil {
		return fmt.Errorf("failed to record info gathering: %w", err)
	}
	return e.touch(ctx, task, model.ActionGatherInfo)
}

// collaborate messages the decision's target role, or the next
// pipeline role when none was named
func (e *Engine) collaborate(ctx context.Context, task *model.Task, agent *model.Agent, decision *model.Decision) error {
	target := roleForStage(task.WorkflowStage)
	message := e.pickReminder(collaborationMessages)
	if decision.CollaborationNeeded != nil {
		target = decision.CollaborationNeeded.TargetRole
		if decision.CollaborationNeeded.Message != "" {
			message = decision.CollaborationNeeded.Message
		}
	}
	if err := e.messageRole(ctx, task, agent, target, message); err != nil {
		return err
	}
	return e.touch(ctx, task, model.ActionCollaborate)
}

// messageRole attaches a communication addressed to the first active
// agent holding the target role
func (e *Engine) messageRole(ctx context.Context, task *model.Task, from *model.Agent, role model.AgentRole, message string) error {
	agents, err := e.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	var target *model.Agent
	for _, candidate := range agents {
		if candidate.Role != role || candidate.Status != model.AgentStatusActive {
			continue
		}
		if target == nil || candidate.CurrentLoad < target.CurrentLoad {
			target = candidate
		}
	}
	if target == nil {
		return fmt.Errorf("no active agent with role %s", role)
	}

	if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{
		AppendComms: []model.Communication{{
			ID:      uuid.New().String(),
			From:    from.ID,
			To:      target.ID,
			Content: message,
			SentAt:  time.Now(),
		}},
	}); err != nil {
		return fmt.Errorf("failed to attach communication: %w", err)
	}
	return nil
}

// touch persists the status derived from the action so the task's
// state always reflects the last decision taken
func (e *Engine) touch(ctx context.Context, task *model.Task, action model.DecisionAction) error {
	status := statusFor(action, false)
	if _, err := e.tasks.Update(ctx, task.ID, store.TaskUpdate{Status: &status}); err != nil {
		return fmt.Errorf("failed to persist task state: %w", err)
	}
	return nil
}

// pickReminder selects a message through the injected random source
// so runs are reproducible under a fixed seed
func (e *Engine) pickReminder(messages []string) string {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return messages[e.rng.Intn(len(messages))]
}

var helpMessages = []string{
	"Could use another pair of eyes on this one",
	"Requesting assistance, this is taking longer than estimated",
	"Blocked on details outside my expertise, please advise",
}

var collaborationMessages = []string{
	"Let's sync on this task before the next handoff",
	"Sharing current state, feedback welcome",
	"Need your input to keep this moving",
}
