package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/agentflow/internal/memory"
	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/notify"
	"github.com/t77yq/agentflow/internal/store"
)

type monitorFixture struct {
	monitor  *SelfMonitor
	ledger   *memory.Ledger
	tasks    *store.MemoryTaskStore
	agents   *store.MemoryAgentRegistry
	recorder *notify.Recorder
	now      time.Time
}

func newMonitorFixture(t *testing.T, pool []*model.Agent) *monitorFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	ledger := memory.NewLedger(memory.NewMemoryEntryStore(), logger)
	tasks := store.NewMemoryTaskStore(logger)
	agents := store.NewMemoryAgentRegistry(logger, pool)
	recorder := notify.NewRecorder()

	m := NewSelfMonitor(DefaultConfig(), ledger, tasks, agents, recorder, logger)
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	return &monitorFixture{
		monitor:  m,
		ledger:   ledger,
		tasks:    tasks,
		agents:   agents,
		recorder: recorder,
		now:      now,
	}
}

func testAgent(id string, role model.AgentRole) *model.Agent {
	return &model.Agent{
		ID: id, Name: id, Role: role, Status: model.AgentStatusActive,
		MaxLoad: 5, HealthScore: 100,
	}
}

func (f *monitorFixture) logAt(t *testing.T, agentID string, typ model.MemoryType, content string, ago time.Duration) {
	t.Helper()
	require.NoError(t, f.ledger.Log(context.Background(), agentID, &model.MemoryEntry{
		Type:      typ,
		Content:   content,
		Timestamp: f.now.Add(-ago),
	}))
}

func TestEvaluateAgent(t *testing.T) {
	ctx := context.Background()
	agent := testAgent("a1", model.RoleDevelopment)

	t.Run("Healthy Agent Has No Issues", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		f.logAt(t, "a1", model.MemoryAction, "completed the daily sync", 5*time.Minute)

		check, err := f.monitor.EvaluateAgent(ctx, agent)
		require.NoError(t, err)
		assert.Equal(t, model.HealthStatusHealthy, check.Status)
		assert.Empty(t, check.Issues)
	})

	t.Run("No Recent Actions Means Stuck", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		// Last action is inside the memory window but well outside the
		// stuck window.
		f.logAt(t, "a1", model.MemoryAction, "completed the daily sync", time.Hour)

		check, err := f.monitor.EvaluateAgent(ctx, agent)
		require.NoError(t, err)
		assert.Equal(t, model.HealthStatusStuck, check.Status)

		require.NotEmpty(t, check.Issues)
		assert.Equal(t, model.IssueLogic, check.Issues[0].Type)
		assert.Equal(t, model.SeverityHigh, check.Issues[0].Severity)
	})

	t.Run("High Failure Rate Is A Performance Issue", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		for i := 0; i < 3; i++ {
			f.logAt(t, "a1", model.MemoryAction, fmt.Sprintf("failed attempt %d", i), 10*time.Minute)
		}
		f.logAt(t, "a1", model.MemoryAction, "completed one step", 8*time.Minute)
		f.logAt(t, "a1", model.MemoryAction, "completed another step", 6*time.Minute)

		check, err := f.monitor.EvaluateAgent(ctx, agent)
		require.NoError(t, err)
		// 3 of 5 actions failed: above the high band
		assert.Equal(t, model.HealthStatusDegraded, check.Status)

		var perf []model.Issue
		for _, issue := range check.Issues {
			if issue.Type == model.IssuePerformance {
				perf = append(perf, issue)
			}
		}
		require.Len(t, perf, 1)
		assert.Equal(t, model.SeverityHigh, perf[0].Severity)
	})

	t.Run("Repeated Action Suggests A Loop", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		for i := 0; i < 6; i++ {
			f.logAt(t, "a1", model.MemoryAction, "retrying upstream call", time.Duration(i)*time.Minute)
		}

		check, err := f.monitor.EvaluateAgent(ctx, agent)
		require.NoError(t, err)

		found := false
		for _, issue := range check.Issues {
			if issue.Type == model.IssueLogic && issue.Severity == model.SeverityMedium {
				found = true
			}
		}
		assert.True(t, found, "expected a possible-loop issue")
	})

	t.Run("Too Many Active Tasks Is A Resource Issue", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		f.logAt(t, "a1", model.MemoryAction, "completed triage", time.Minute)

		for i := 0; i < 13; i++ {
			task, err := f.tasks.Create(ctx, &model.Task{
				ID:     fmt.Sprintf("t%d", i),
				Title:  fmt.Sprintf("Task %d", i),
				Status: model.TaskStatusPending,
			})
			require.NoError(t, err)
			require.NoError(t, f.tasks.Assign(ctx, task.ID, "a1"))
		}

		check, err := f.monitor.EvaluateAgent(ctx, agent)
		require.NoError(t, err)

		var resource []model.Issue
		for _, issue := range check.Issues {
			if issue.Type == model.IssueResource {
				resource = append(resource, issue)
			}
		}
		require.Len(t, resource, 1)
		assert.Equal(t, model.SeverityHigh, resource[0].Severity)
	})

	t.Run("Unread Messages Are A Communication Issue", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		f.logAt(t, "a1", model.MemoryAction, "completed review", time.Hour)

		comms := make([]model.Communication, 0, 11)
		for i := 0; i < 11; i++ {
			comms = append(comms, model.Communication{
				ID:     fmt.Sprintf("c%d", i),
				From:   "a2",
				To:     "a1",
				SentAt: f.now.Add(-10 * time.Minute),
			})
		}
		task, err := f.tasks.Create(ctx, &model.Task{
			ID: "t1", Title: "Busy task", Status: model.TaskStatusInProgress,
		})
		require.NoError(t, err)
		_, err = f.tasks.Update(ctx, task.ID, store.TaskUpdate{AppendComms: comms})
		require.NoError(t, err)
		require.NoError(t, f.tasks.Assign(ctx, task.ID, "a1"))

		check, err := f.monitor.EvaluateAgent(ctx, agent)
		require.NoError(t, err)

		found := false
		for _, issue := range check.Issues {
			if issue.Type == model.IssueCommunication && issue.Severity == model.SeverityMedium {
				found = true
			}
		}
		assert.True(t, found, "expected an unread-messages issue")
	})
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name   string
		issues []model.Issue
		expect model.HealthStatus
	}{
		{"No Issues", nil, model.HealthStatusHealthy},
		{"Critical Wins", []model.Issue{
			{Type: model.IssueLogic, Severity: model.SeverityHigh},
			{Type: model.IssueResource, Severity: model.SeverityCritical},
		}, model.HealthStatusCritical},
		{"High Logic Means Stuck", []model.Issue{
			{Type: model.IssueLogic, Severity: model.SeverityHigh},
		}, model.HealthStatusStuck},
		{"Anything Else Degrades", []model.Issue{
			{Type: model.IssuePerformance, Severity: model.SeverityMedium},
		}, model.HealthStatusDegraded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, deriveStatus(tc.issues))
		})
	}
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()
	worker := testAgent("worker", model.RoleDevelopment)
	lead := testAgent("lead", model.RoleLead)

	f := newMonitorFixture(t, []*model.Agent{worker, lead})
	f.logAt(t, "worker", model.MemoryAction, "completed the daily sync", time.Minute)
	f.logAt(t, "lead", model.MemoryAction, "completed the planning pass", time.Minute)

	f.monitor.RunCycle(ctx)

	check, ok := f.monitor.Check("worker")
	require.True(t, ok)
	assert.Equal(t, model.HealthStatusHealthy, check.Status)

	metrics, ok := f.monitor.Metrics("worker")
	require.True(t, ok)
	assert.Equal(t, "worker", metrics.AgentID)
	assert.InDelta(t, 1.0, metrics.SuccessRate, 1e-9)
}

func TestComputeMetrics(t *testing.T) {
	ctx := context.Background()
	agent := testAgent("a1", model.RoleDevelopment)
	f := newMonitorFixture(t, []*model.Agent{agent})

	for i := 0; i < 3; i++ {
		f.logAt(t, "a1", model.MemoryAction, fmt.Sprintf("completed step %d", i), 10*time.Minute)
	}
	f.logAt(t, "a1", model.MemoryAction, "failed final step", 5*time.Minute)
	for i := 0; i < 5; i++ {
		f.logAt(t, "a1", model.MemoryLearning, "completed pattern noted", time.Hour)
	}
	f.logAt(t, "a1", model.MemoryStrategy, "switching to smaller batches", time.Hour)

	// A completed task two hours after creation
	created := f.now.Add(-2 * time.Hour)
	f.tasks.SetClock(func() time.Time { return created })
	task, err := f.tasks.Create(ctx, &model.Task{
		ID: "t1", Title: "Slow burner", Status: model.TaskStatusPending,
	})
	require.NoError(t, err)
	require.NoError(t, f.tasks.Assign(ctx, task.ID, "a1"))

	f.tasks.SetClock(func() time.Time { return f.now })
	completed := model.TaskStatusCompleted
	_, err = f.tasks.Update(ctx, task.ID, store.TaskUpdate{Status: &completed})
	require.NoError(t, err)

	metrics, err := f.monitor.computeMetrics(ctx, agent, 0, 0)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, metrics.SuccessRate, 1e-9)
	assert.InDelta(t, (2 * time.Hour).Seconds(), metrics.AvgCompletionTime, 1.0)
	assert.InDelta(t, 0.5, metrics.LearningRate, 1e-9)
	assert.InDelta(t, 0.2, metrics.AdaptabilityScore, 1e-9)
}
