package store

import (
	"context"
	"errors"

	"github.com/t77yq/agentflow/internal/model"
)

var (
	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrAgentNotFound is returned when an agent is not found
	ErrAgentNotFound = errors.New("agent not found")

	// ErrDuplicateTask is returned when a task id is already taken
	ErrDuplicateTask = errors.New("duplicate task")
)

// TaskUpdate carries the mutable fields of a partial task update.
// Nil fields are left untouched.
type TaskUpdate struct {
	Status          *model.TaskStatus
	Priority        *model.TaskPriority
	AssignedAgentID *string
	WorkflowStage   *model.WorkflowStage
	Description     *string
	AppendHistory   []model.StageTransition
	AppendComms     []model.Communication
}

// TaskStore is the persistence boundary for tasks
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) (*model.Task, error)
	Get(ctx context.Context, id string) (*model.Task, error)
	GetByStatus(ctx context.Context, statuses ...model.TaskStatus) ([]*model.Task, error)
	GetByAgent(ctx context.Context, agentID string) ([]*model.Task, error)
	Update(ctx context.Context, id string, update TaskUpdate) (*model.Task, error)
	Assign(ctx context.Context, id, agentID string) error
}

// AgentRegistry is the persistence boundary for the agent pool
type AgentRegistry interface {
	List(ctx context.Context) ([]*model.Agent, error)
	Get(ctx context.Context, id string) (*model.Agent, error)
	UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error
	UpdateHealth(ctx context.Context, id string, score float64) error
	// AdjustLoad shifts CurrentLoad by delta. Load changes only through
	// assignment, completion, and failure transitions.
	AdjustLoad(ctx context.Context, id string, delta int) error
	UpdateExpertise(ctx context.Context, id string, expertise []string) error
}
