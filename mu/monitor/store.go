package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aonet/cu/aomsg"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists monitors and their scheduled-message batches,
// following the same WAL-mode, single-writer-conn pattern as
// evalstore.SQLiteStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a monitor store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("monitor: opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS monitors (
			process_id TEXT PRIMARY KEY,
			authorized INTEGER NOT NULL,
			last_from_sort_key TEXT,
			interval_ms INTEGER NOT NULL,
			block_height INTEGER NOT NULL,
			block_timestamp INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS scheduled_batches (
			process_id TEXT NOT NULL,
			from_tx_id TEXT NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (process_id, from_tx_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("monitor: creating tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMonitors(ctx context.Context) ([]aomsg.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT process_id, authorized, last_from_sort_key, interval_ms, block_height, block_timestamp, created_at FROM monitors`)
	if err != nil {
		return nil, fmt.Errorf("monitor: listing monitors: %w", err)
	}
	defer rows.Close()

	var out []aomsg.Monitor
	for rows.Next() {
		var m aomsg.Monitor
		var authorized int
		var createdAt string
		if err := rows.Scan(&m.ID, &authorized, &m.LastFromSortKey, &m.Interval, &m.Block.Height, &m.Block.Timestamp, &createdAt); err != nil {
			return nil, fmt.Errorf("monitor: scanning monitor row: %w", err)
		}
		m.Authorized = authorized != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMonitor(ctx context.Context, m aomsg.Monitor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitors (process_id, authorized, last_from_sort_key, interval_ms, block_height, block_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(process_id) DO UPDATE SET
			authorized=excluded.authorized,
			last_from_sort_key=excluded.last_from_sort_key,
			interval_ms=excluded.interval_ms,
			block_height=excluded.block_height,
			block_timestamp=excluded.block_timestamp
	`, m.ID, boolToInt(m.Authorized), m.LastFromSortKey, m.Interval, m.Block.Height, m.Block.Timestamp, m.CreatedAt.Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return fmt.Errorf("monitor: saving monitor %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) PersistScheduled(ctx context.Context, processID, fromTxID string, msgs []ScheduledMessage) error {
	body, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("monitor: encoding scheduled batch: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_batches (process_id, from_tx_id, body) VALUES (?, ?, ?)
		ON CONFLICT(process_id, from_tx_id) DO UPDATE SET body=excluded.body
	`, processID, fromTxID, string(body))
	if err != nil {
		return fmt.Errorf("monitor: persisting scheduled batch %s: %w", fromTxID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// MemStore is an in-process Store, for tests and single-node development.
type MemStore struct {
	mu        sync.RWMutex
	monitors  map[string]aomsg.Monitor
	persisted map[string][]ScheduledMessage
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{monitors: map[string]aomsg.Monitor{}, persisted: map[string][]ScheduledMessage{}}
}

func (s *MemStore) ListMonitors(context.Context) ([]aomsg.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]aomsg.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemStore) SaveMonitor(_ context.Context, m aomsg.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors[m.ID] = m
	return nil
}

func (s *MemStore) PersistScheduled(_ context.Context, processID, fromTxID string, msgs []ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted[processID+":"+fromTxID] = msgs
	return nil
}
