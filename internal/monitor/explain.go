package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/t77yq/agentflow/internal/memory"
	"github.com/t77yq/agentflow/internal/model"
)

const (
	// explanationSimilarity is the minimum word overlap for a memory
	// entry to count as an antecedent of an action
	explanationSimilarity = 0.3
	// causalWindow is how close two events must be for a causal edge
	causalWindow = 5 * time.Minute
	// causalSimilarity is the minimum word share for a causal edge
	causalSimilarity = 0.3
)

// Explanation is a structured reasoning record for a past action
type Explanation struct {
	AgentID     string               `json:"agent_id"`
	Action      string               `json:"action"`
	Antecedents []*model.MemoryEntry `json:"antecedents,omitempty"`
	// Confidence is the historical success ratio of similar actions
	Confidence float64 `json:"confidence"`
}

// CausalEvent is one node of a causal chain; CausedBy indexes the
// chain's preceding event, or -1 when no cause was found.
type CausalEvent struct {
	Entry    *model.MemoryEntry `json:"entry"`
	CausedBy int                `json:"caused_by"`
}

// CausalChain is the event DAG reconstructed from a memory window
type CausalChain struct {
	AgentID string        `json:"agent_id"`
	Outcome string        `json:"outcome"`
	Events  []CausalEvent `json:"events"`
	// Confidence is the fraction of events with an assigned cause
	Confidence float64 `json:"confidence"`
}

// ExplainAction reconstructs why an agent took an action: the most
// recent thought and event entries preceding it whose wording overlaps
// the action, plus a confidence score from how similar past actions
// turned out.
func (m *SelfMonitor) ExplainAction(ctx context.Context, agentID, action string, at time.Time) (*Explanation, error) {
	entries, err := m.ledger.Query(ctx, agentID, memory.Filter{Until: at})
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}

	actionWords := wordSet(action)

	var antecedents []*model.MemoryEntry
	for i := len(entries) - 1; i >= 0 && len(antecedents) < 5; i-- {
		e := entries[i]
		if e.Type != model.MemoryThought && e.Type != model.MemoryEvent {
			continue
		}
		if overlap(actionWords, wordSet(e.Content)) > explanationSimilarity {
			antecedents = append(antecedents, e)
		}
	}

	// Confidence comes from how similar past actions fared
	similar, succeeded := 0, 0
	for _, e := range entries {
		if e.Type != model.MemoryAction {
			continue
		}
		if overlap(actionWords, wordSet(e.Content)) <= explanationSimilarity {
			continue
		}
		similar++
		if !isFailureEntry(e) {
			succeeded++
		}
	}
	confidence := 0.5 // no history, no opinion
	if similar > 0 {
		confidence = float64(succeeded) / float64(similar)
	}

	return &Explanation{
		AgentID:     agentID,
		Action:      action,
		Antecedents: antecedents,
		Confidence:  confidence,
	}, nil
}

// GenerateCausalChain converts an agent's memory window into a chain
// of events where event i is caused by event i-1 when they are close
// in time and share enough wording.
func (m *SelfMonitor) GenerateCausalChain(ctx context.Context, agentID, outcome string) (*CausalChain, error) {
	now := m.now()
	window, err := m.memoryWindow(ctx, agentID, now)
	if err != nil {
		return nil, err
	}

	chain := &CausalChain{AgentID: agentID, Outcome: outcome}
	caused := 0
	for i, e := range window {
		event := CausalEvent{Entry: e, CausedBy: -1}
		if i > 0 {
			prev := window[i-1]
			if e.Timestamp.Sub(prev.Timestamp) <= causalWindow &&
				overlap(wordSet(e.Content), wordSet(prev.Content)) > causalSimilarity {
				event.CausedBy = i - 1
				caused++
			}
		}
		chain.Events = append(chain.Events, event)
	}
	if len(chain.Events) > 0 {
		chain.Confidence = float64(caused) / float64(len(chain.Events))
	}

	return chain, nil
}

// wordSet tokenizes content into a lowercase word set
func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,:;!?()[]\"'")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// overlap is the shared fraction of the smaller set's words
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for w := range small {
		if _, ok := large[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}
