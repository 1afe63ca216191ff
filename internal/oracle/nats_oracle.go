package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
)

const decideSubject = "oracle.decide"

// NATSOracle asks the cognition service for a decision over NATS
// request/reply. Every request carries a bounded timeout.
type NATSOracle struct {
	nc      *nats.Conn
	logger  *zap.Logger
	timeout time.Duration
}

// NewNATSOracle creates a NATS-backed oracle client
func NewNATSOracle(nc *nats.Conn, timeout time.Duration, logger *zap.Logger) *NATSOracle {
	return &NATSOracle{
		nc:      nc,
		logger:  logger.Named("oracle-client"),
		timeout: timeout,
	}
}

// Decide implements Oracle.Decide
func (o *NATSOracle) Decide(ctx context.Context, req DecisionRequest) (*model.Decision, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msg, err := o.nc.RequestWithContext(ctx, decideSubject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrNoResponders) ||
			errors.Is(err, nats.ErrTimeout) {
			o.logger.Warn("Oracle request timed out",
				zap.String("task_id", req.Task.ID),
				zap.Duration("timeout", o.timeout))
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}

	var decision model.Decision
	if err := json.Unmarshal(msg.Data, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	if err := decision.Validate(); err != nil {
		return nil, fmt.Errorf("oracle returned invalid decision: %w", err)
	}

	return &decision, nil
}
