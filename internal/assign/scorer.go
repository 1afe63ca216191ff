// Package assign scores (agent, work-item) pairs. The scorer is pure:
// it reads the candidates it is given and never touches storage, so the
// workflow engine and the decomposer can share it.
package assign

import (
	"github.com/t77yq/agentflow/internal/model"
)

// Weights holds the scoring coefficients. The defaults mirror the
// tuned production values; they are configuration, not invariants.
type Weights struct {
	Load       float64 `mapstructure:"load"`
	Health     float64 `mapstructure:"health"`
	RoleMatch  float64 `mapstructure:"role_match"`
	SkillMatch float64 `mapstructure:"skill_match"`
	Available  float64 `mapstructure:"availability"`
}

// DefaultWeights returns the standard scoring coefficients
func DefaultWeights() Weights {
	return Weights{
		Load:       40,
		Health:     30,
		RoleMatch:  30,
		SkillMatch: 0.6,
		Available:  0.4,
	}
}

// Scorer scores agents against tasks and subtasks
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// TaskScore scores an agent for initial task assignment:
// load·loadFactor + health·healthScore/100 + role·roleMatch.
func (s *Scorer) TaskScore(agent *model.Agent, task *model.Task) float64 {
	return s.weights.Load*loadFactor(agent) +
		s.weights.Health*(agent.HealthScore/100) +
		s.weights.RoleMatch*roleMatch(agent, task)
}

// SubtaskScore scores an agent for subtask placement:
// skill·skillMatch + availability·availability.
func (s *Scorer) SubtaskScore(agent *model.Agent, subtask *model.Subtask, activeTasks int) float64 {
	return s.weights.SkillMatch*skillMatch(agent, subtask.RequiredSkills) +
		s.weights.Available*availability(activeTasks, subtask.EstimatedTime)
}

// SelectForTask picks the active agent with the highest task score.
// Ties break toward the lowest current load. Returns nil when no agent
// is eligible; the caller leaves the task pending.
func (s *Scorer) SelectForTask(agents []*model.Agent, task *model.Task) *model.Agent {
	var best *model.Agent
	var bestScore float64

	for _, agent := range agents {
		if agent.Status != model.AgentStatusActive {
			continue
		}
		score := s.TaskScore(agent, task)
		if best == nil || score > bestScore ||
			(score == bestScore && agent.CurrentLoad < best.CurrentLoad) {
			best = agent
			bestScore = score
		}
	}
	return best
}

// SelectForSubtask picks the active agent with the highest subtask
// score. activeCounts maps agent id to its current non-terminal task
// count. Returns nil when no agent is eligible.
func (s *Scorer) SelectForSubtask(agents []*model.Agent, subtask *model.Subtask, activeCounts map[string]int) *model.Agent {
	var best *model.Agent
	var bestScore float64

	for _, agent := range agents {
		if agent.Status != model.AgentStatusActive {
			continue
		}
		score := s.SubtaskScore(agent, subtask, activeCounts[agent.ID])
		if best == nil || score > bestScore ||
			(score == bestScore && agent.CurrentLoad < best.CurrentLoad) {
			best = agent
			bestScore = score
		}
	}
	return best
}

// loadFactor is the agent's free capacity fraction, clamped at zero
func loadFactor(agent *model.Agent) float64 {
	if agent.MaxLoad <= 0 {
		return 0
	}
	f := float64(agent.MaxLoad-agent.CurrentLoad) / float64(agent.MaxLoad)
	if f < 0 {
		return 0
	}
	return f
}

// roleMatch rewards supervisory roles for high-priority work
func roleMatch(agent *model.Agent, task *model.Task) float64 {
	switch task.Priority {
	case model.TaskPriorityHigh, model.TaskPriorityUrgent:
		if agent.Role.IsSupervisory() {
			return 1.0
		}
		return 0.8
	case model.TaskPriorityMedium:
		return 0.8
	default:
		return 0.6
	}
}

// skillMatch is the fraction of required skills the agent carries
func skillMatch(agent *model.Agent, required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	matched := 0
	for _, skill := range required {
		if agent.HasExpertise(skill) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// availability decays with active task count and estimated effort
func availability(activeTasks int, estimatedHours float64) float64 {
	a := 1 - float64(activeTasks)/5 - estimatedHours/40
	if a < 0 {
		return 0
	}
	return a
}
