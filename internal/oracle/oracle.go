// Package oracle defines the contract with the external cognition
// service that decides what to do with a task, and a NATS-backed
// client for it. The engine owns the fallback behavior when the
// oracle is unavailable.
package oracle

import (
	"context"
	"errors"

	"github.com/t77yq/agentflow/internal/model"
)

var (
	// ErrUnavailable is returned when the oracle cannot be reached
	// within the request timeout
	ErrUnavailable = errors.New("cognition oracle unavailable")
)

// DecisionRequest is the context handed to the oracle for one
// processing pass.
type DecisionRequest struct {
	Task          *model.Task          `json:"task"`
	Agent         *model.Agent         `json:"agent"`
	RecentHistory []*model.MemoryEntry `json:"recent_history,omitempty"`
}

// Oracle decides what an agent should do with a task. Implementations
// must honor the context deadline; callers always bound the call.
type Oracle interface {
	Decide(ctx context.Context, req DecisionRequest) (*model.Decision, error)
}

// Unavailable is an Oracle that is never reachable. Wiring it in
// forces the engine onto its deterministic per-role fallbacks, which
// keeps the pipeline moving without a cognition service.
type Unavailable struct{}

// Decide implements Oracle.Decide
func (Unavailable) Decide(ctx context.Context, req DecisionRequest) (*model.Decision, error) {
	return nil, ErrUnavailable
}
