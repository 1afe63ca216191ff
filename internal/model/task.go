package model

import (
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusEscalated  TaskStatus = "escalated"
)

// IsTerminal reports whether the status is a final state
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusEscalated
}

// TaskPriority represents the priority level of a task
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// WorkflowStage identifies a position in the fixed delivery pipeline
type WorkflowStage string

const (
	StageRequirements WorkflowStage = "requirements"
	StageAnalysis     WorkflowStage = "analysis"
	StageDevelopment  WorkflowStage = "development"
	StageTesting      WorkflowStage = "testing"
	StageReview       WorkflowStage = "review"
	StageDone         WorkflowStage = "done"
)

// StageTransition records a single handoff in a task's workflow history
type StageTransition struct {
	From        WorkflowStage `json:"from"`
	To          WorkflowStage `json:"to"`
	FromAgentID string        `json:"from_agent_id,omitempty"`
	ToAgentID   string        `json:"to_agent_id,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	At          time.Time     `json:"at"`
}

// Communication is a message attached to a task between two agents
type Communication struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// Task represents a unit of work moving through the pipeline
type Task struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Status          TaskStatus        `json:"status"`
	Priority        TaskPriority      `json:"priority"`
	Tags            []string          `json:"tags,omitempty"`
	AssignedAgentID string            `json:"assigned_agent_id,omitempty"`
	WorkflowStage   WorkflowStage     `json:"workflow_stage"`
	WorkflowHistory []StageTransition `json:"workflow_history,omitempty"`
	Communications  []Communication   `json:"communications,omitempty"`
	ParentTaskID    string            `json:"parent_task_id,omitempty"`
	EstimatedHours  float64           `json:"estimated_hours"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LastCommunicationAt returns the timestamp of the newest attached
// communication, or the zero time when there are none.
func (t *Task) LastCommunicationAt() time.Time {
	var last time.Time
	for _, c := range t.Communications {
		if c.SentAt.After(last) {
			last = c.SentAt
		}
	}
	return last
}
