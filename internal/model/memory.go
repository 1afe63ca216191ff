package model

import "time"

// MemoryType classifies an entry in an agent's memory ledger
type MemoryType string

const (
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryProcedural MemoryType = "procedural"
	MemoryLearning   MemoryType = "learning"
	MemoryStrategy   MemoryType = "strategy"
	MemoryEvent      MemoryType = "event"
	MemoryAction     MemoryType = "action"
	MemoryThought    MemoryType = "thought"
	MemoryReflection MemoryType = "reflection"
)

// MemoryEntry is a single append-only record in an agent's ledger.
// Entries are never mutated after creation; removal happens only
// through the janitor's logged cleanup.
type MemoryEntry struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agent_id"`
	Type      MemoryType             `json:"type"`
	Content   string                 `json:"content"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// DetailString returns a string-typed detail field, or "" when absent
func (e *MemoryEntry) DetailString(key string) string {
	if e.Details == nil {
		return ""
	}
	if v, ok := e.Details[key].(string); ok {
		return v
	}
	return ""
}

// DetailFloat returns a numeric detail field, or 0 when absent
func (e *MemoryEntry) DetailFloat(key string) float64 {
	if e.Details == nil {
		return 0
	}
	switch v := e.Details[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
