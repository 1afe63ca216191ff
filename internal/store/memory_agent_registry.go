package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
)

// MemoryAgentRegistry is an in-memory AgentRegistry. The pool is
// provisioned once at startup and persists for the process lifetime.
type MemoryAgentRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	agents map[string]*model.Agent
}

// NewMemoryAgentRegistry creates a registry seeded with the given pool
func NewMemoryAgentRegistry(logger *zap.Logger, pool []*model.Agent) *MemoryAgentRegistry {
	agents := make(map[string]*model.Agent, len(pool))
	for _, a := range pool {
		c := *a
		c.Expertise = append([]string(nil), a.Expertise...)
		if c.Status == "" {
			c.Status = model.AgentStatusActive
		}
		c.LastSeen = time.Now()
		agents[c.ID] = &c
	}
	return &MemoryAgentRegistry{
		logger: logger.Named("agent-registry"),
		agents: agents,
	}
}

func copyAgent(a *model.Agent) *model.Agent {
	c := *a
	c.Expertise = append([]string(nil), a.Expertise...)
	return &c
}

// List implements AgentRegistry.List
func (r *MemoryAgentRegistry) List(ctx context.Context) ([]*model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, copyAgent(a))
	}
	return out, nil
}

// Get implements AgentRegistry.Get
func (r *MemoryAgentRegistry) Get(ctx context.Context, id string) (*model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return copyAgent(a), nil
}

// UpdateStatus implements AgentRegistry.UpdateStatus
func (r *MemoryAgentRegistry) UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Status = status
	a.LastSeen = time.Now()

	r.logger.Debug("Agent status updated",
		zap.String("agent_id", id),
		zap.String("status", string(status)))

	return nil
}

// UpdateHealth implements AgentRegistry.UpdateHealth
func (r *MemoryAgentRegistry) UpdateHealth(ctx context.Context, id string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	a.HealthScore = score
	return nil
}

// AdjustLoad implements AgentRegistry.AdjustLoad
func (r *MemoryAgentRegistry) AdjustLoad(ctx context.Context, id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	next := a.CurrentLoad + delta
	if next < 0 {
		return fmt.Errorf("agent %s load would drop below zero", id)
	}
	a.CurrentLoad = next
	return nil
}

// UpdateExpertise implements AgentRegistry.UpdateExpertise
func (r *MemoryAgentRegistry) UpdateExpertise(ctx context.Context, id string, expertise []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.Expertise = append([]string(nil), expertise...)
	return nil
}
