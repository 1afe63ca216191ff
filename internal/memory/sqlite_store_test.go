package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/agentflow/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteEntryStore {
	t.Helper()

	store, err := NewSQLiteEntryStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func appendEntry(t *testing.T, store *SQLiteEntryStore, agentID string, typ model.MemoryType, content string, ts time.Time) *model.MemoryEntry {
	t.Helper()

	entry := &model.MemoryEntry{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Type:      typ,
		Content:   content,
		Timestamp: ts,
	}
	require.NoError(t, store.Append(context.Background(), entry))
	return entry
}

func TestSQLiteEntryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Append And Query In Order", func(t *testing.T) {
		store := newTestSQLiteStore(t)

		// Identical timestamps; order must come from insertion, not time
		ts := time.Now().UTC().Truncate(time.Second)
		appendEntry(t, store, "agent-1", model.MemoryAction, "first", ts)
		appendEntry(t, store, "agent-1", model.MemoryAction, "second", ts)
		appendEntry(t, store, "agent-1", model.MemoryAction, "third", ts)

		entries, err := store.Query(ctx, "agent-1", Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "first", entries[0].Content)
		assert.Equal(t, "second", entries[1].Content)
		assert.Equal(t, "third", entries[2].Content)
	})

	t.Run("Details Survive Round Trip", func(t *testing.T) {
		store := newTestSQLiteStore(t)

		entry := &model.MemoryEntry{
			ID:        uuid.New().String(),
			AgentID:   "agent-1",
			Type:      model.MemoryEvent,
			Content:   "assignment recorded",
			Details:   map[string]interface{}{"task_id": "t-9", "kind": "assignment"},
			Timestamp: time.Now().UTC(),
		}
		require.NoError(t, store.Append(ctx, entry))

		entries, err := store.Query(ctx, "agent-1", Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "t-9", entries[0].Details["task_id"])
		assert.Equal(t, "assignment", entries[0].Details["kind"])
	})

	t.Run("Filter By Type", func(t *testing.T) {
		store := newTestSQLiteStore(t)

		now := time.Now().UTC()
		appendEntry(t, store, "agent-1", model.MemoryAction, "did work", now)
		appendEntry(t, store, "agent-1", model.MemoryThought, "considered options", now)

		entries, err := store.Query(ctx, "agent-1", Filter{Type: model.MemoryThought})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "considered options", entries[0].Content)
	})

	t.Run("Agents Do Not Share Sequences", func(t *testing.T) {
		store := newTestSQLiteStore(t)

		now := time.Now().UTC()
		appendEntry(t, store, "agent-1", model.MemoryAction, "a1", now)
		appendEntry(t, store, "agent-2", model.MemoryAction, "b1", now)
		appendEntry(t, store, "agent-1", model.MemoryAction, "a2", now)

		count, err := store.CountByAgent(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		entries, err := store.Query(ctx, "agent-2", Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "b1", entries[0].Content)
	})

	t.Run("DeleteBefore Reports Count", func(t *testing.T) {
		store := newTestSQLiteStore(t)

		now := time.Now().UTC()
		appendEntry(t, store, "agent-1", model.MemoryAction, "old", now.Add(-48*time.Hour))
		appendEntry(t, store, "agent-1", model.MemoryAction, "older", now.Add(-72*time.Hour))
		appendEntry(t, store, "agent-1", model.MemoryAction, "fresh", now)

		deleted, err := store.DeleteBefore(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		count, err := store.CountByAgent(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
