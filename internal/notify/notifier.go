// Package notify is the outbound notification boundary. Escalations
// and critical health events go through here.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/t77yq/agentflow/internal/model"
)

// Notification is one raised event
type Notification struct {
	ID       string                 `json:"id"`
	AgentID  string                 `json:"agent_id"`
	Severity model.IssueSeverity    `json:"severity"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
	RaisedAt time.Time              `json:"raised_at"`
}

// Notifier is the notification sink consumed by the engine and the
// self-monitoring service
type Notifier interface {
	Raise(ctx context.Context, agentID string, severity model.IssueSeverity, message string, details map[string]interface{}) error
}

// Recorder is an in-memory Notifier that keeps everything raised.
// It is the default sink when no NATS connection is configured, and
// the assertion point in tests.
type Recorder struct {
	mu     sync.RWMutex
	raised []Notification
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Raise implements Notifier.Raise
func (r *Recorder) Raise(ctx context.Context, agentID string, severity model.IssueSeverity, message string, details map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.raised = append(r.raised, Notification{
		AgentID:  agentID,
		Severity: severity,
		Message:  message,
		Details:  details,
		RaisedAt: time.Now(),
	})
	return nil
}

// Raised returns a copy of everything raised so far
func (r *Recorder) Raised() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Notification(nil), r.raised...)
}

// RaisedFor returns the notifications raised for one agent
func (r *Recorder) RaisedFor(agentID string) []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Notification
	for _, n := range r.raised {
		if n.AgentID == agentID {
			out = append(out, n)
		}
	}
	return out
}
