package model

import "time"

// SubtaskStatus represents the status of a subtask within a decomposition
type SubtaskStatus string

const (
	SubtaskStatusPending    SubtaskStatus = "pending"
	SubtaskStatusAssigned   SubtaskStatus = "assigned"
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	SubtaskStatusCompleted  SubtaskStatus = "completed"
	SubtaskStatusFailed     SubtaskStatus = "failed"
)

// DependencyType describes how one subtask constrains another
type DependencyType string

const (
	DependencyFinishToStart  DependencyType = "finish_to_start"
	DependencyStartToStart   DependencyType = "start_to_start"
	DependencyFinishToFinish DependencyType = "finish_to_finish"
)

// DependencyEdge is a directed constraint between two subtasks
type DependencyEdge struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Type DependencyType `json:"type"`
}

// Subtask is one node of a decomposition's dependency graph
type Subtask struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	RequiredSkills  []string      `json:"required_skills,omitempty"`
	EstimatedTime   float64       `json:"estimated_time"`
	Priority        TaskPriority  `json:"priority"`
	Status          SubtaskStatus `json:"status"`
	Dependencies    []string      `json:"dependencies,omitempty"`
	AssignedAgentID string        `json:"assigned_agent_id,omitempty"`
	TaskID          string        `json:"task_id,omitempty"`
}

// Decomposition is the expansion of a task into dependency-ordered subtasks
type Decomposition struct {
	OriginalTaskID string           `json:"original_task_id"`
	Subtasks       []*Subtask       `json:"subtasks"`
	Dependencies   []DependencyEdge `json:"dependencies,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Subtask returns the subtask with the given id, or nil
func (d *Decomposition) Subtask(id string) *Subtask {
	for _, st := range d.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Completed reports whether every subtask has finished
func (d *Decomposition) Completed() bool {
	for _, st := range d.Subtasks {
		if st.Status != SubtaskStatusCompleted {
			return false
		}
	}
	return len(d.Subtasks) > 0
}
