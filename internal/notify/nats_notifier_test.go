package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/testutil"
)

func TestNATSNotifier(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	notifier, err := NewNATSNotifier(js, logger)
	require.NoError(t, err)

	t.Run("Publishes To The Severity Subject", func(t *testing.T) {
		err := notifier.Raise(context.Background(), "a1", model.SeverityHigh,
			"task processing failed", map[string]interface{}{"task_id": "t1"})
		require.NoError(t, err)

		messages, err := testutil.ConsumeMessages(js, "notify.high", 2*time.Second)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		var got Notification
		require.NoError(t, json.Unmarshal(messages[0], &got))
		assert.Equal(t, "a1", got.AgentID)
		assert.Equal(t, model.SeverityHigh, got.Severity)
		assert.Equal(t, "task processing failed", got.Message)
		assert.NotEmpty(t, got.ID)
	})

	t.Run("Severities Use Separate Subjects", func(t *testing.T) {
		err := notifier.Raise(context.Background(), "a2", model.SeverityMedium,
			"agent health below threshold", nil)
		require.NoError(t, err)

		messages, err := testutil.ConsumeMessages(js, "notify.medium", 2*time.Second)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		var got Notification
		require.NoError(t, json.Unmarshal(messages[0], &got))
		assert.Equal(t, "a2", got.AgentID)
	})

	t.Run("Creating Twice Reuses The Stream", func(t *testing.T) {
		_, err := NewNATSNotifier(js, logger)
		assert.NoError(t, err)
	})
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()

	require.NoError(t, r.Raise(ctx, "a1", model.SeverityHigh, "first", nil))
	require.NoError(t, r.Raise(ctx, "a2", model.SeverityLow, "second", nil))

	assert.Len(t, r.Raised(), 2)

	forA1 := r.RaisedFor("a1")
	require.Len(t, forA1, 1)
	assert.Equal(t, "first", forA1[0].Message)
	assert.Empty(t, r.RaisedFor("missing"))
}
