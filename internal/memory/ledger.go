package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
)

var (
	// ErrEmptyAgentID is returned when an operation names no agent
	ErrEmptyAgentID = errors.New("empty agent id")
)

// Filter narrows a ledger query
type Filter struct {
	Type  model.MemoryType
	Since time.Time
	Until time.Time
}

// Matches reports whether the entry passes the filter
func (f Filter) Matches(e *model.MemoryEntry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// EntryStore is the storage boundary behind the ledger
type EntryStore interface {
	Append(ctx context.Context, entry *model.MemoryEntry) error
	Query(ctx context.Context, agentID string, filter Filter) ([]*model.MemoryEntry, error)
	CountByAgent(ctx context.Context, agentID string) (int, error)
	// DeleteBefore removes entries older than the cutoff and returns
	// how many were removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ReflectionSummary is the outcome of one reflection pass
type ReflectionSummary struct {
	AgentID      string   `json:"agent_id"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	TopTopics    []string `json:"top_topics,omitempty"`
	Adapted      bool     `json:"adapted"`
}

// Ledger is the append-only per-agent memory log. Reflect and Log for
// the same agent are serialized through a per-agent mutex so a
// reflection pass never races a concurrent append.
type Ledger struct {
	logger *zap.Logger
	store  EntryStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger over the given entry store
func NewLedger(store EntryStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		logger: logger.Named("memory-ledger"),
		store:  store,
		locks:  make(map[string]*sync.Mutex),
	}
}

// agentLock returns the mutex serializing writes for one agent
func (l *Ledger) agentLock(agentID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[agentID] = lock
	}
	return lock
}

// Log appends an entry to an agent's ledger
func (l *Ledger) Log(ctx context.Context, agentID string, entry *model.MemoryEntry) error {
	if agentID == "" {
		return ErrEmptyAgentID
	}

	lock := l.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	entry.AgentID = agentID
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append memory entry: %w", err)
	}
	return nil
}

// Query returns an agent's entries matching the filter, in insertion order
func (l *Ledger) Query(ctx context.Context, agentID string, filter Filter) ([]*model.MemoryEntry, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}
	return l.store.Query(ctx, agentID, filter)
}

// Size returns the number of entries an agent's ledger holds
func (l *Ledger) Size(ctx context.Context, agentID string) (int, error) {
	return l.store.CountByAgent(ctx, agentID)
}

// Cleanup removes entries older than the cutoff across all agents.
// Every removal is logged with the deleted count; this is the only
// path by which entries leave the ledger.
func (l *Ledger) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := l.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up ledger: %w", err)
	}
	l.logger.Info("Ledger cleanup completed",
		zap.Time("before", before),
		zap.Int64("deleted", deleted))
	return deleted, nil
}

// Reflect partitions an agent's learning entries into successes and
// failures, tallies topic frequency, and appends at most one strategy
// entry when failures outnumber successes.
func (l *Ledger) Reflect(ctx context.Context, agentID string) (*ReflectionSummary, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}

	lock := l.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := l.store.Query(ctx, agentID, Filter{Type: model.MemoryLearning})
	if err != nil {
		return nil, fmt.Errorf("failed to query learning entries: %w", err)
	}

	summary := &ReflectionSummary{AgentID: agentID}
	topics := make(map[string]int)
	for _, e := range entries {
		if isSuccess(e.Content) {
			summary.SuccessCount++
		} else if isFailure(e.Content) {
			summary.FailureCount++
		}
		if area := e.DetailString("area"); area != "" {
			topics[area]++
		}
	}
	summary.TopTopics = topTopics(topics, 3)

	if summary.FailureCount > summary.SuccessCount {
		strategy := &model.MemoryEntry{
			ID:      uuid.New().String(),
			AgentID: agentID,
			Type:    model.MemoryStrategy,
			Content: "Adapting approach after repeated failures",
			Details: map[string]interface{}{
				"failures":  summary.FailureCount,
				"successes": summary.SuccessCount,
				"topics":    summary.TopTopics,
			},
			Timestamp: time.Now(),
		}
		if err := l.store.Append(ctx, strategy); err != nil {
			return nil, fmt.Errorf("failed to record strategy: %w", err)
		}
		summary.Adapted = true

		l.logger.Info("Reflection triggered strategy adaptation",
			zap.String("agent_id", agentID),
			zap.Int("failures", summary.FailureCount),
			zap.Int("successes", summary.SuccessCount))
	}

	return summary, nil
}

func isSuccess(content string) bool {
	c := strings.ToLower(content)
	return strings.Contains(c, "success") || strings.Contains(c, "completed") ||
		strings.Contains(c, "resolved")
}

func isFailure(content string) bool {
	c := strings.ToLower(content)
	return strings.Contains(c, "fail") || strings.Contains(c, "error") ||
		strings.Contains(c, "blocked")
}

func topTopics(counts map[string]int, n int) []string {
	type kv struct {
		topic string
		count int
	}
	sorted := make([]kv, 0, len(counts))
	for t, c := range counts {
		sorted = append(sorted, kv{t, c})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].topic < sorted[j].topic
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, len(sorted))
	for i, s := range sorted {
		out[i] = s.topic
	}
	return out
}
