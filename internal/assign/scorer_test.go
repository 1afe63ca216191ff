package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/agentflow/internal/model"
)

func TestSelectForTask(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	t.Run("Prefers Higher Load Factor", func(t *testing.T) {
		a1 := &model.Agent{
			ID: "a1", Role: model.RoleDevelopment, Status: model.AgentStatusActive,
			CurrentLoad: 4, MaxLoad: 5, HealthScore: 90,
		}
		a2 := &model.Agent{
			ID: "a2", Role: model.RoleDevelopment, Status: model.AgentStatusActive,
			CurrentLoad: 1, MaxLoad: 5, HealthScore: 95,
		}
		task := &model.Task{ID: "t1", Priority: model.TaskPriorityHigh}

		selected := scorer.SelectForTask([]*model.Agent{a1, a2}, task)
		require.NotNil(t, selected)
		assert.Equal(t, "a2", selected.ID)
	})

	t.Run("Ties Break Toward Lowest Load", func(t *testing.T) {
		a1 := &model.Agent{
			ID: "a1", Role: model.RoleDevelopment, Status: model.AgentStatusActive,
			CurrentLoad: 2, MaxLoad: 4, HealthScore: 80,
		}
		a2 := &model.Agent{
			ID: "a2", Role: model.RoleDevelopment, Status: model.AgentStatusActive,
			CurrentLoad: 1, MaxLoad: 2, HealthScore: 80,
		}
		task := &model.Task{ID: "t1", Priority: model.TaskPriorityMedium}

		require.Equal(t, scorer.TaskScore(a1, task), scorer.TaskScore(a2, task))
		selected := scorer.SelectForTask([]*model.Agent{a1, a2}, task)
		require.NotNil(t, selected)
		assert.Equal(t, "a2", selected.ID)
	})

	t.Run("Skips Inactive Agents", func(t *testing.T) {
		offline := &model.Agent{
			ID: "a1", Status: model.AgentStatusOffline,
			CurrentLoad: 0, MaxLoad: 5, HealthScore: 100,
		}
		task := &model.Task{ID: "t1", Priority: model.TaskPriorityLow}

		assert.Nil(t, scorer.SelectForTask([]*model.Agent{offline}, task))
	})

	t.Run("No Agents Is Not An Error", func(t *testing.T) {
		task := &model.Task{ID: "t1", Priority: model.TaskPriorityLow}
		assert.Nil(t, scorer.SelectForTask(nil, task))
	})

	t.Run("Supervisory Role Wins High Priority", func(t *testing.T) {
		dev := &model.Agent{
			ID: "dev", Role: model.RoleDevelopment, Status: model.AgentStatusActive,
			CurrentLoad: 1, MaxLoad: 5, HealthScore: 90,
		}
		lead := &model.Agent{
			ID: "lead", Role: model.RoleLead, Status: model.AgentStatusActive,
			CurrentLoad: 1, MaxLoad: 5, HealthScore: 90,
		}
		urgent := &model.Task{ID: "t1", Priority: model.TaskPriorityUrgent}

		assert.Greater(t, scorer.TaskScore(lead, urgent), scorer.TaskScore(dev, urgent))
	})
}

func TestSubtaskScore(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	t.Run("Full Skill Match Beats Partial", func(t *testing.T) {
		full := &model.Agent{
			ID: "full", Status: model.AgentStatusActive,
			Expertise: []string{"coding", "testing"},
		}
		partial := &model.Agent{
			ID: "partial", Status: model.AgentStatusActive,
			Expertise: []string{"coding"},
		}
		subtask := &model.Subtask{
			ID: "s1", RequiredSkills: []string{"coding", "testing"}, EstimatedTime: 2,
		}

		counts := map[string]int{"full": 1, "partial": 1}
		assert.Greater(t,
			scorer.SubtaskScore(full, subtask, counts["full"]),
			scorer.SubtaskScore(partial, subtask, counts["partial"]))
	})

	t.Run("Availability Never Goes Negative", func(t *testing.T) {
		swamped := &model.Agent{ID: "busy", Status: model.AgentStatusActive}
		subtask := &model.Subtask{ID: "s1", EstimatedTime: 100}

		score := scorer.SubtaskScore(swamped, subtask, 50)
		// skillMatch is 1.0 with no required skills; availability is clamped
		assert.InDelta(t, 0.6, score, 1e-9)
	})

	t.Run("No Required Skills Counts As Full Match", func(t *testing.T) {
		agent := &model.Agent{ID: "a", Status: model.AgentStatusActive}
		subtask := &model.Subtask{ID: "s1", EstimatedTime: 0}

		score := scorer.SubtaskScore(agent, subtask, 0)
		assert.InDelta(t, 1.0, score, 1e-9)
	})
}
