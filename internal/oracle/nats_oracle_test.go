package oracle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/testutil"
)

func TestNATSOracle(t *testing.T) {
	nc, _, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	req := DecisionRequest{
		Task:  &model.Task{ID: "t1", Title: "Build exporter"},
		Agent: &model.Agent{ID: "a1", Role: model.RoleDevelopment},
	}

	t.Run("Returns The Responder Decision", func(t *testing.T) {
		sub, err := nc.Subscribe("oracle.decide", func(msg *nats.Msg) {
			var got DecisionRequest
			require.NoError(t, json.Unmarshal(msg.Data, &got))
			require.Equal(t, "t1", got.Task.ID)

			reply, _ := json.Marshal(&model.Decision{
				Action:    model.ActionCompleteTask,
				Reasoning: "looks done",
			})
			_ = msg.Respond(reply)
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		oracle := NewNATSOracle(nc, 2*time.Second, logger)
		decision, err := oracle.Decide(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, model.ActionCompleteTask, decision.Action)
	})

	t.Run("Invalid Decision Is An Error", func(t *testing.T) {
		sub, err := nc.Subscribe("oracle.decide", func(msg *nats.Msg) {
			_ = msg.Respond([]byte(`{"action":"daydream"}`))
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		oracle := NewNATSOracle(nc, 2*time.Second, logger)
		_, err = oracle.Decide(context.Background(), req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	})

	t.Run("No Responder Means Unavailable", func(t *testing.T) {
		oracle := NewNATSOracle(nc, 200*time.Millisecond, logger)
		_, err := oracle.Decide(context.Background(), req)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Decide(context.Background(), DecisionRequest{
		Task: &model.Task{ID: "t1"},
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}
