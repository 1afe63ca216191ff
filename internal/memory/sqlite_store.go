package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/model"
)

// SQLiteEntryStore implements EntryStore using SQLite. The ledger is
// append-only; the store exposes no row update path.
type SQLiteEntryStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteEntryStore opens (or creates) the ledger database at dbPath
func NewSQLiteEntryStore(logger *zap.Logger, dbPath string) (*SQLiteEntryStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	store := &SQLiteEntryStore{
		logger: logger.Named("ledger-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteEntryStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			details TEXT,
			timestamp DATETIME NOT NULL,
			seq INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_agent_id ON memory_entries(agent_id);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_type ON memory_entries(type);
		CREATE INDEX IF NOT EXISTS idx_memory_entries_timestamp ON memory_entries(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	return nil
}

// Append implements EntryStore.Append
func (s *SQLiteEntryStore) Append(ctx context.Context, entry *model.MemoryEntry) error {
	var detailsStr string
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal entry details: %w", err)
		}
		detailsStr = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (
			id, agent_id, type, content, details, timestamp, seq
		) VALUES (?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM memory_entries WHERE agent_id = ?))`,
		entry.ID,
		entry.AgentID,
		entry.Type,
		entry.Content,
		sql.NullString{String: detailsStr, Valid: detailsStr != ""},
		entry.Timestamp,
		entry.AgentID,
	)
	if err != nil {
		return fmt.Errorf("failed to append memory entry: %w", err)
	}
	return nil
}

// Query implements EntryStore.Query. Results come back in per-agent
// insertion order.
func (s *SQLiteEntryStore) Query(ctx context.Context, agentID string, filter Filter) ([]*model.MemoryEntry, error) {
	query := `
		SELECT id, agent_id, type, content, details, timestamp
		FROM memory_entries
		WHERE agent_id = ?`
	args := []interface{}{agentID}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.MemoryEntry
	for rows.Next() {
		entry := &model.MemoryEntry{}
		var details sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.AgentID,
			&entry.Type,
			&entry.Content,
			&details,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}

		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry details: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return entries, nil
}

// CountByAgent implements EntryStore.CountByAgent
func (s *SQLiteEntryStore) CountByAgent(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_entries WHERE agent_id = ?", agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memory entries: %w", err)
	}
	return count, nil
}

// DeleteBefore implements EntryStore.DeleteBefore
func (s *SQLiteEntryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM memory_entries WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memory entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old memory entries",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteEntryStore) Close() error {
	return s.db.Close()
}
