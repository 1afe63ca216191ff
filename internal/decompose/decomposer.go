package decompose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/assign"
	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/store"
)

var (
	// ErrAlreadyDecomposed is returned when a task was decomposed before
	ErrAlreadyDecomposed = errors.New("task already decomposed")

	// ErrDecompositionNotFound is returned when no decomposition exists
	// for the task
	ErrDecompositionNotFound = errors.New("decomposition not found")
)

// Decomposer expands tasks into dependency-ordered subtask graphs,
// materializes the subtasks as real tasks, and releases blocked
// subtasks as their dependencies complete.
type Decomposer struct {
	logger   *zap.Logger
	tasks    store.TaskStore
	agents   store.AgentRegistry
	scorer   *assign.Scorer
	mu       sync.RWMutex
	active   map[string]*model.Decomposition // keyed by original task id
	byTaskID map[string]string               // subtask's task id -> original task id
}

// NewDecomposer creates a decomposer. Template acyclicity is verified
// here, at authoring time; runtime release logic trusts it.
func NewDecomposer(tasks store.TaskStore, agents store.AgentRegistry, scorer *assign.Scorer, logger *zap.Logger) (*Decomposer, error) {
	if err := validateTemplates(); err != nil {
		return nil, fmt.Errorf("invalid decomposition template: %w", err)
	}
	return &Decomposer{
		logger:   logger.Named("decomposer"),
		tasks:    tasks,
		agents:   agents,
		scorer:   scorer,
		active:   make(map[string]*model.Decomposition),
		byTaskID: make(map[string]string),
	}, nil
}

// Decompose expands the task per its domain template, creates a task
// per subtask, and attempts assignment for every subtask with no
// dependencies.
func (d *Decomposer) Decompose(ctx context.Context, task *model.Task) (*model.Decomposition, error) {
	domain := classifyDomain(task)
	tpl, ok := templates[domain]
	if !ok {
		tpl = genericTemplate(task)
	}

	dec := &model.Decomposition{
		OriginalTaskID: task.ID,
		CreatedAt:      time.Now(),
	}

	// Reserve the key before creating anything so a concurrent call for
	// the same task fails instead of double-creating subtasks
	d.mu.Lock()
	if _, exists := d.active[task.ID]; exists {
		d.mu.Unlock()
		return nil, ErrAlreadyDecomposed
	}
	d.active[task.ID] = dec
	d.mu.Unlock()

	// Materialize template nodes with real ids
	ids := make([]string, len(tpl.Subtasks))
	for i := range tpl.Subtasks {
		ids[i] = uuid.New().String()
	}
	for i, spec := range tpl.Subtasks {
		st := &model.Subtask{
			ID:             ids[i],
			Title:          spec.Title,
			RequiredSkills: append([]string(nil), spec.RequiredSkills...),
			EstimatedTime:  spec.EstimatedTime,
			Priority:       task.Priority,
			Status:         model.SubtaskStatusPending,
		}
		for _, dep := range spec.DependsOn {
			st.Dependencies = append(st.Dependencies, ids[dep])
			dec.Dependencies = append(dec.Dependencies, model.DependencyEdge{
				From: ids[dep],
				To:   ids[i],
				Type: model.DependencyFinishToStart,
			})
		}
		dec.Subtasks = append(dec.Subtasks, st)
	}

	// Create a real task per subtask, linked to the parent
	for _, st := range dec.Subtasks {
		created, err := d.tasks.Create(ctx, &model.Task{
			ID:             uuid.New().String(),
			Title:          st.Title,
			Description:    fmt.Sprintf("Subtask of %s", task.Title),
			Status:         model.TaskStatusPending,
			Priority:       st.Priority,
			Tags:           st.RequiredSkills,
			ParentTaskID:   task.ID,
			EstimatedHours: st.EstimatedTime,
			WorkflowStage:  task.WorkflowStage,
		})
		if err != nil {
			d.mu.Lock()
			delete(d.active, task.ID)
			d.mu.Unlock()
			return nil, fmt.Errorf("failed to create subtask: %w", err)
		}
		st.TaskID = created.ID
	}

	d.mu.Lock()
	for _, st := range dec.Subtasks {
		d.byTaskID[st.TaskID] = task.ID
	}
	d.mu.Unlock()

	// Park the parent: while the decomposition is open, only
	// HandleSubtaskCompletion may complete it, so it must not sit in
	// the schedulable pool where the engine would drive it on its own.
	blocked := model.TaskStatusBlocked
	if _, err := d.tasks.Update(ctx, task.ID, store.TaskUpdate{
		Status: &blocked,
		AppendHistory: []model.StageTransition{{
			From:   task.WorkflowStage,
			To:     task.WorkflowStage,
			Reason: fmt.Sprintf("decomposed into %d subtasks", len(dec.Subtasks)),
			At:     time.Now(),
		}},
	}); err != nil {
		return nil, fmt.Errorf("failed to block decomposed parent: %w", err)
	}

	d.logger.Info("Task decomposed",
		zap.String("task_id", task.ID),
		zap.String("domain", string(domain)),
		zap.Int("subtasks", len(dec.Subtasks)))

	// Assign every subtask whose dependency list is empty
	for _, st := range dec.Subtasks {
		if len(st.Dependencies) == 0 {
			if err := d.assignSubtask(ctx, dec, st); err != nil {
				d.logger.Warn("Subtask left unassigned",
					zap.String("subtask_id", st.ID),
					zap.Error(err))
			}
		}
	}

	return dec, nil
}

// Get returns the active decomposition for an original task id
func (d *Decomposer) Get(originalTaskID string) (*model.Decomposition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dec, ok := d.active[originalTaskID]
	if !ok {
		return nil, ErrDecompositionNotFound
	}
	return dec, nil
}

// HandleSubtaskCompletion marks the subtask backing taskID completed,
// releases any subtasks whose dependencies have all cleared, and
// completes the parent when every subtask is done.
func (d *Decomposer) HandleSubtaskCompletion(ctx context.Context, taskID string) error {
	d.mu.Lock()
	originalID, ok := d.byTaskID[taskID]
	if !ok {
		d.mu.Unlock()
		return nil // not a subtask we track
	}
	dec := d.active[originalID]

	var completed *model.Subtask
	for _, st := range dec.Subtasks {
		if st.TaskID == taskID {
			st.Status = model.SubtaskStatusCompleted
			completed = st
			break
		}
	}
	if completed == nil {
		d.mu.Unlock()
		return nil
	}

	// Collect subtasks that just became eligible
	var released []*model.Subtask
	for _, st := range dec.Subtasks {
		if st.Status != model.SubtaskStatusPending {
			continue
		}
		if !dependsOn(st, completed.ID) {
			continue
		}
		if allDependenciesCompleted(dec, st) {
			released = append(released, st)
		}
	}
	parentDone := dec.Completed()
	d.mu.Unlock()

	d.logger.Info("Subtask completed",
		zap.String("subtask_id", completed.ID),
		zap.String("original_task_id", originalID),
		zap.Int("released", len(released)))

	for _, st := range released {
		if err := d.assignSubtask(ctx, dec, st); err != nil {
			d.logger.Warn("Released subtask left unassigned",
				zap.String("subtask_id", st.ID),
				zap.Error(err))
		}
	}

	if parentDone {
		status := model.TaskStatusCompleted
		if _, err := d.tasks.Update(ctx, originalID, store.TaskUpdate{Status: &status}); err != nil {
			return fmt.Errorf("failed to complete parent task: %w", err)
		}
		d.logger.Info("Parent task completed",
			zap.String("task_id", originalID))
	}

	return nil
}

// assignSubtask scores active agents for the subtask and assigns the
// winner. No eligible agent is not an error; the subtask stays pending.
func (d *Decomposer) assignSubtask(ctx context.Context, dec *model.Decomposition, st *model.Subtask) error {
	agents, err := d.agents.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	activeCounts := make(map[string]int, len(agents))
	for _, agent := range agents {
		tasks, err := d.tasks.GetByAgent(ctx, agent.ID)
		if err != nil {
			return fmt.Errorf("failed to load agent tasks: %w", err)
		}
		count := 0
		for _, t := range tasks {
			if !t.Status.IsTerminal() {
				count++
			}
		}
		activeCounts[agent.ID] = count
	}

	selected := d.scorer.SelectForSubtask(agents, st, activeCounts)
	if selected == nil {
		return nil
	}

	if err := d.tasks.Assign(ctx, st.TaskID, selected.ID); err != nil {
		return fmt.Errorf("failed to assign subtask: %w", err)
	}
	if err := d.agents.AdjustLoad(ctx, selected.ID, 1); err != nil {
		return fmt.Errorf("failed to adjust agent load: %w", err)
	}

	d.mu.Lock()
	st.Status = model.SubtaskStatusAssigned
	st.AssignedAgentID = selected.ID
	d.mu.Unlock()

	d.logger.Info("Subtask assigned",
		zap.String("subtask_id", st.ID),
		zap.String("agent_id", selected.ID))

	return nil
}

func dependsOn(st *model.Subtask, depID string) bool {
	for _, id := range st.Dependencies {
		if id == depID {
			return true
		}
	}
	return false
}

func allDependenciesCompleted(dec *model.Decomposition, st *model.Subtask) bool {
	for _, depID := range st.Dependencies {
		dep := dec.Subtask(depID)
		if dep == nil || dep.Status != model.SubtaskStatusCompleted {
			return false
		}
	}
	return true
}
