package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/agentflow/internal/model"
)

func TestExplainAction(t *testing.T) {
	ctx := context.Background()
	agent := testAgent("a1", model.RoleDevelopment)

	t.Run("Finds Overlapping Antecedents", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		f.logAt(t, "a1", model.MemoryThought, "should deploy service to staging first", 10*time.Minute)
		f.logAt(t, "a1", model.MemoryEvent, "staging deploy service check passed", 8*time.Minute)
		f.logAt(t, "a1", model.MemoryThought, "lunch options look limited today", 6*time.Minute)

		explanation, err := f.monitor.ExplainAction(ctx, "a1", "deploy service", f.now)
		require.NoError(t, err)

		require.Len(t, explanation.Antecedents, 2)
		// Newest first
		assert.Equal(t, model.MemoryEvent, explanation.Antecedents[0].Type)
		assert.Equal(t, model.MemoryThought, explanation.Antecedents[1].Type)
	})

	t.Run("Confidence Tracks Similar Outcomes", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		f.logAt(t, "a1", model.MemoryAction, "deploy service completed", 30*time.Minute)
		f.logAt(t, "a1", model.MemoryAction, "deploy service completed", 20*time.Minute)
		f.logAt(t, "a1", model.MemoryAction, "deploy service failed", 10*time.Minute)

		explanation, err := f.monitor.ExplainAction(ctx, "a1", "deploy service", f.now)
		require.NoError(t, err)
		assert.InDelta(t, 2.0/3.0, explanation.Confidence, 1e-9)
	})

	t.Run("No History Yields Neutral Confidence", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})

		explanation, err := f.monitor.ExplainAction(ctx, "a1", "deploy service", f.now)
		require.NoError(t, err)
		assert.Empty(t, explanation.Antecedents)
		assert.InDelta(t, 0.5, explanation.Confidence, 1e-9)
	})

	t.Run("Entries After The Action Are Ignored", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		at := f.now.Add(-time.Hour)
		f.logAt(t, "a1", model.MemoryThought, "deploy service soon", 30*time.Minute)

		explanation, err := f.monitor.ExplainAction(ctx, "a1", "deploy service", at)
		require.NoError(t, err)
		assert.Empty(t, explanation.Antecedents)
	})
}

func TestGenerateCausalChain(t *testing.T) {
	ctx := context.Background()
	agent := testAgent("a1", model.RoleDevelopment)

	t.Run("Links Close Related Events", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		f.logAt(t, "a1", model.MemoryEvent, "fetch data from api", 10*time.Minute)
		f.logAt(t, "a1", model.MemoryEvent, "parse data from api", 9*time.Minute)
		f.logAt(t, "a1", model.MemoryEvent, "restart scheduler now", 8*time.Minute)

		chain, err := f.monitor.GenerateCausalChain(ctx, "a1", "pipeline refreshed")
		require.NoError(t, err)
		require.Len(t, chain.Events, 3)

		assert.Equal(t, -1, chain.Events[0].CausedBy)
		assert.Equal(t, 0, chain.Events[1].CausedBy)
		assert.Equal(t, -1, chain.Events[2].CausedBy)
		assert.InDelta(t, 1.0/3.0, chain.Confidence, 1e-9)
	})

	t.Run("Distant Events Are Not Linked", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})
		f.logAt(t, "a1", model.MemoryEvent, "fetch data from api", 30*time.Minute)
		f.logAt(t, "a1", model.MemoryEvent, "parse data from api", 10*time.Minute)

		chain, err := f.monitor.GenerateCausalChain(ctx, "a1", "pipeline refreshed")
		require.NoError(t, err)
		require.Len(t, chain.Events, 2)
		assert.Equal(t, -1, chain.Events[1].CausedBy, "twenty minutes apart is outside the causal window")
	})

	t.Run("Empty Window Yields Empty Chain", func(t *testing.T) {
		f := newMonitorFixture(t, []*model.Agent{agent})

		chain, err := f.monitor.GenerateCausalChain(ctx, "a1", "nothing happened")
		require.NoError(t, err)
		assert.Empty(t, chain.Events)
		assert.Zero(t, chain.Confidence)
	})
}
