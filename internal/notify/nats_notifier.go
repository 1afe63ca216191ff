package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
)

const (
	notifyStreamName = "NOTIFICATIONS"
	notifySubjects   = "notify.*"
	streamMaxAge     = 7 * 24 * time.Hour
)

// NATSNotifier publishes notifications to a JetStream stream, one
// subject per severity.
type NATSNotifier struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSNotifier creates the notifier and ensures its stream exists
func NewNATSNotifier(js nats.JetStreamContext, logger *zap.Logger) (*NATSNotifier, error) {
	n := &NATSNotifier{
		logger: logger.Named("notifier"),
		js:     js,
	}

	_, err := js.StreamInfo(notifyStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     notifyStreamName,
			Subjects: []string{notifySubjects},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create notification stream: %w", err)
		}
		n.logger.Info("Created notification stream", zap.String("name", notifyStreamName))
	}

	return n, nil
}

// Raise implements Notifier.Raise
func (n *NATSNotifier) Raise(ctx context.Context, agentID string, severity model.IssueSeverity, message string, details map[string]interface{}) error {
	notification := Notification{
		ID:       uuid.New().String(),
		AgentID:  agentID,
		Severity: severity,
		Message:  message,
		Details:  details,
		RaisedAt: time.Now(),
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := fmt.Sprintf("notify.%s", severity)
	if _, err := n.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Info("Notification raised",
		zap.String("id", notification.ID),
		zap.String("agent_id", agentID),
		zap.String("severity", string(severity)),
		zap.String("message", message))

	return nil
}
