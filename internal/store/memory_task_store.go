package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
)

// MemoryTaskStore is an in-memory TaskStore guarded by a RWMutex.
// Tasks are copied on the way in and out so callers never share
// pointers with the store.
type MemoryTaskStore struct {
	logger *zap.Logger
	mu     sync.RWMutex
	tasks  map[string]*model.Task
	now    func() time.Time
}

// NewMemoryTaskStore creates an empty in-memory task store
func NewMemoryTaskStore(logger *zap.Logger) *MemoryTaskStore {
	return &MemoryTaskStore{
		logger: logger.Named("task-store"),
		tasks:  make(map[string]*model.Task),
		now:    time.Now,
	}
}

// SetClock overrides the store's clock. Used in tests.
func (s *MemoryTaskStore) SetClock(now func() time.Time) {
	s.now = now
}

func copyTask(t *model.Task) *model.Task {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	c.WorkflowHistory = append([]model.StageTransition(nil), t.WorkflowHistory...)
	c.Communications = append([]model.Communication(nil), t.Communications...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Create implements TaskStore.Create
func (s *MemoryTaskStore) Create(ctx context.Context, task *model.Task) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return nil, ErrDuplicateTask
	}

	stored := copyTask(task)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	if stored.Status == "" {
		stored.Status = model.TaskStatusPending
	}
	s.tasks[stored.ID] = stored

	s.logger.Debug("Task created",
		zap.String("task_id", stored.ID),
		zap.String("status", string(stored.Status)))

	return copyTask(stored), nil
}

// Get implements TaskStore.Get
func (s *MemoryTaskStore) Get(ctx context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return copyTask(task), nil
}

// GetByStatus implements TaskStore.GetByStatus
func (s *MemoryTaskStore) GetByStatus(ctx context.Context, statuses ...model.TaskStatus) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Task
	for _, task := range s.tasks {
		for _, status := range statuses {
			if task.Status == status {
				out = append(out, copyTask(task))
				break
			}
		}
	}
	return out, nil
}

// GetByAgent implements TaskStore.GetByAgent
func (s *MemoryTaskStore) GetByAgent(ctx context.Context, agentID string) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Task
	for _, task := range s.tasks {
		if task.AssignedAgentID == agentID {
			out = append(out, copyTask(task))
		}
	}
	return out, nil
}

// Update implements TaskStore.Update
func (s *MemoryTaskStore) Update(ctx context.Context, id string, update TaskUpdate) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}

	if update.Status != nil {
		task.Status = *update.Status
		if task.Status == model.TaskStatusCompleted {
			at := s.now()
			task.CompletedAt = &at
		}
	}
	if update.Priority != nil {
		task.Priority = *update.Priority
	}
	if update.AssignedAgentID != nil {
		task.AssignedAgentID = *update.AssignedAgentID
	}
	if update.WorkflowStage != nil {
		task.WorkflowStage = *update.WorkflowStage
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	task.WorkflowHistory = append(task.WorkflowHistory, update.AppendHistory...)
	task.Communications = append(task.Communications, update.AppendComms...)
	task.UpdatedAt = s.now()

	return copyTask(task), nil
}

// Assign implements TaskStore.Assign
func (s *MemoryTaskStore) Assign(ctx context.Context, id, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	task.AssignedAgentID = agentID
	task.Status = model.TaskStatusInProgress
	task.UpdatedAt = s.now()

	s.logger.Debug("Task assigned",
		zap.String("task_id", id),
		zap.String("agent_id", agentID))

	return nil
}
