package memory

import (
	"context"
	"sync"
	"time"

	"github.com/t77yq/agentflow/internal/model"
)

// MemoryEntryStore keeps entries in per-agent slices. Insertion order
// is the only ordering guarantee, matching the ledger contract.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string][]*model.MemoryEntry
}

// NewMemoryEntryStore creates an empty in-memory entry store
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{
		entries: make(map[string][]*model.MemoryEntry),
	}
}

// Append implements EntryStore.Append
func (s *MemoryEntryStore) Append(ctx context.Context, entry *model.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *entry
	s.entries[entry.AgentID] = append(s.entries[entry.AgentID], &c)
	return nil
}

// Query implements EntryStore.Query
func (s *MemoryEntryStore) Query(ctx context.Context, agentID string, filter Filter) ([]*model.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.MemoryEntry
	for _, e := range s.entries[agentID] {
		if filter.Matches(e) {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// CountByAgent implements EntryStore.CountByAgent
func (s *MemoryEntryStore) CountByAgent(ctx context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[agentID]), nil
}

// DeleteBefore implements EntryStore.DeleteBefore
func (s *MemoryEntryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for agentID, entries := range s.entries {
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		s.entries[agentID] = kept
	}
	return deleted, nil
}
