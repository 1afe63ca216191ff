package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/agentflow/internal/model"
)

func TestMemoryTaskStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Create And Get", func(t *testing.T) {
		s := NewMemoryTaskStore(zaptest.NewLogger(t))

		created, err := s.Create(ctx, &model.Task{ID: "t1", Title: "First"})
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusPending, created.Status)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "First", got.Title)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("Duplicate Create Fails", func(t *testing.T) {
		s := NewMemoryTaskStore(zaptest.NewLogger(t))

		_, err := s.Create(ctx, &model.Task{ID: "t1", Title: "First"})
		require.NoError(t, err)
		_, err = s.Create(ctx, &model.Task{ID: "t1", Title: "Again"})
		assert.ErrorIs(t, err, ErrDuplicateTask)
	})

	t.Run("Returned Tasks Are Copies", func(t *testing.T) {
		s := NewMemoryTaskStore(zaptest.NewLogger(t))

		_, err := s.Create(ctx, &model.Task{ID: "t1", Title: "First", Tags: []string{"a"}})
		require.NoError(t, err)

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		got.Title = "mutated"
		got.Tags[0] = "mutated"

		again, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "First", again.Title)
		assert.Equal(t, []string{"a"}, again.Tags)
	})

	t.Run("GetByStatus Filters", func(t *testing.T) {
		s := NewMemoryTaskStore(zaptest.NewLogger(t))

		_, err := s.Create(ctx, &model.Task{ID: "t1", Status: model.TaskStatusPending})
		require.NoError(t, err)
		_, err = s.Create(ctx, &model.Task{ID: "t2", Status: model.TaskStatusCompleted})
		require.NoError(t, err)
		_, err = s.Create(ctx, &model.Task{ID: "t3", Status: model.TaskStatusInProgress})
		require.NoError(t, err)

		got, err := s.GetByStatus(ctx, model.TaskStatusPending, model.TaskStatusInProgress)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("Update Applies Only Set Fields", func(t *testing.T) {
		s := NewMemoryTaskStore(zaptest.NewLogger(t))

		_, err := s.Create(ctx, &model.Task{
			ID: "t1", Title: "First", Status: model.TaskStatusPending,
			Priority: model.TaskPriorityLow,
		})
		require.NoError(t, err)

		status := model.TaskStatusInProgress
		updated, err := s.Update(ctx, "t1", TaskUpdate{
			Status: &status,
			AppendHistory: []model.StageTransition{
				{From: model.StageRequirements, To: model.StageAnalysis},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusInProgress, updated.Status)
		assert.Equal(t, model.TaskPriorityLow, updated.Priority)
		assert.Len(t, updated.WorkflowHistory, 1)
	})

	t.Run("Completion Stamps The Task", func(t *testing.T) {
		s := NewMemoryTaskStore(zaptest.NewLogger(t))

		created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		s.SetClock(func() time.Time { return created })
		_, err := s.Create(ctx, &model.Task{ID: "t1", Title: "First"})
		require.NoError(t, err)

		done := created.Add(3 * time.Hour)
		s.SetClock(func() time.Time { return done })
		status := model.TaskStatusCompleted
		updated, err := s.Update(ctx, "t1", TaskUpdate{Status: &status})
		require.NoError(t, err)
		require.NotNil(t, updated.CompletedAt)
		assert.Equal(t, done, *updated.CompletedAt)
	})

	t.Run("Assign Sets Owner And Status", func(t *testing.T) {
		s := NewMemoryTaskStore(zaptest.NewLogger(t))

		_, err := s.Create(ctx, &model.Task{ID: "t1", Title: "First"})
		require.NoError(t, err)
		require.NoError(t, s.Assign(ctx, "t1", "agent-1"))

		got, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "agent-1", got.AssignedAgentID)
		assert.Equal(t, model.TaskStatusInProgress, got.Status)

		byAgent, err := s.GetByAgent(ctx, "agent-1")
		require.NoError(t, err)
		assert.Len(t, byAgent, 1)
	})
}

func TestMemoryAgentRegistry(t *testing.T) {
	ctx := context.Background()

	pool := []*model.Agent{
		{ID: "a1", Name: "One", Role: model.RoleDevelopment, MaxLoad: 5, HealthScore: 100},
		{ID: "a2", Name: "Two", Role: model.RoleTesting, Status: model.AgentStatusOffline, MaxLoad: 5, HealthScore: 100},
	}

	t.Run("Seeding Defaults Status To Active", func(t *testing.T) {
		r := NewMemoryAgentRegistry(zaptest.NewLogger(t), pool)

		a1, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, model.AgentStatusActive, a1.Status)

		a2, err := r.Get(ctx, "a2")
		require.NoError(t, err)
		assert.Equal(t, model.AgentStatusOffline, a2.Status)

		_, err = r.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("AdjustLoad Never Goes Negative", func(t *testing.T) {
		r := NewMemoryAgentRegistry(zaptest.NewLogger(t), pool)

		require.NoError(t, r.AdjustLoad(ctx, "a1", 2))
		require.NoError(t, r.AdjustLoad(ctx, "a1", -2))
		assert.Error(t, r.AdjustLoad(ctx, "a1", -1))

		a1, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Zero(t, a1.CurrentLoad)
	})

	t.Run("UpdateHealth Clamps The Score", func(t *testing.T) {
		r := NewMemoryAgentRegistry(zaptest.NewLogger(t), pool)

		require.NoError(t, r.UpdateHealth(ctx, "a1", 150))
		a1, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, float64(100), a1.HealthScore)

		require.NoError(t, r.UpdateHealth(ctx, "a1", -10))
		a1, err = r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.Zero(t, a1.HealthScore)
	})

	t.Run("UpdateExpertise Replaces The List", func(t *testing.T) {
		r := NewMemoryAgentRegistry(zaptest.NewLogger(t), pool)

		require.NoError(t, r.UpdateExpertise(ctx, "a1", []string{"go", "sql"}))
		a1, err := r.Get(ctx, "a1")
		require.NoError(t, err)
		assert.True(t, a1.HasExpertise("sql"))
		assert.False(t, a1.HasExpertise("rust"))
	})
}
