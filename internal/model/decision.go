package model

import "fmt"

// DecisionAction is the action the cognition oracle chose for a task.
// The set is closed; the engine dispatches on it exhaustively.
type DecisionAction string

const (
	ActionCompleteTask DecisionAction = "complete_task"
	ActionRequestHelp  DecisionAction = "request_help"
	ActionDelegateTask DecisionAction = "delegate_task"
	ActionGatherInfo   DecisionAction = "gather_info"
	ActionCollaborate  DecisionAction = "collaborate"
	ActionEscalate     DecisionAction = "escalate"
)

// Valid reports whether the action is one of the known values
func (a DecisionAction) Valid() bool {
	switch a {
	case ActionCompleteTask, ActionRequestHelp, ActionDelegateTask,
		ActionGatherInfo, ActionCollaborate, ActionEscalate:
		return true
	}
	return false
}

// Collaboration names a role the deciding agent wants to involve
type Collaboration struct {
	TargetRole AgentRole `json:"target_role"`
	Message    string    `json:"message"`
}

// Decision is the cognition oracle's verdict for one processing pass
type Decision struct {
	Action              DecisionAction `json:"action"`
	Reasoning           string         `json:"reasoning"`
	ArtifactsToCreate   []string       `json:"artifacts_to_create,omitempty"`
	CollaborationNeeded *Collaboration `json:"collaboration_needed,omitempty"`
	Blockers            []string       `json:"blockers,omitempty"`
}

// Validate checks that the decision can be executed
func (d *Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("unknown decision action %q", d.Action)
	}
	return nil
}
