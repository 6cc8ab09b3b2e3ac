package evalstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aonet/cu/aomsg"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default Result Store backend: a single-file database
// selected via DB_PATH, storing one JSON document per evaluation under the
// key scheme in docKey. No per-process header document is written.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed Store at path.
// WAL mode is enabled so concurrent evaluator reads don't block writes.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("evalstore: opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("evalstore: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS evaluations (
			doc_key    TEXT PRIMARY KEY,
			process_id TEXT NOT NULL,
			sort_key   TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			deep_hash  TEXT NOT NULL DEFAULT '',
			body       TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("evalstore: creating evaluations table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_eval_process_sortkey ON evaluations(process_id, sort_key)",
		"CREATE INDEX IF NOT EXISTS idx_eval_message_id ON evaluations(process_id, message_id)",
		"CREATE INDEX IF NOT EXISTS idx_eval_deep_hash ON evaluations(process_id, deep_hash)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("evalstore: %s: %w", idx, err)
		}
	}
	return nil
}

// SaveEvaluation implements Store.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, e aomsg.Evaluation) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("evalstore: marshaling evaluation: %w", err)
	}
	const q = `
		INSERT INTO evaluations (doc_key, process_id, sort_key, message_id, deep_hash, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_key) DO UPDATE SET
			message_id = excluded.message_id,
			deep_hash = excluded.deep_hash,
			body = excluded.body
	`
	_, err = s.db.ExecContext(ctx, q, docKey(e.ProcessID, e.SortKey), e.ProcessID, e.SortKey, e.MessageID, e.DeepHash, string(body))
	if err != nil {
		return fmt.Errorf("evalstore: saving evaluation: %w", err)
	}
	return nil
}

// FindLatestEvaluation implements Store.
func (s *SQLiteStore) FindLatestEvaluation(ctx context.Context, processID string) (aomsg.Evaluation, error) {
	const q = `
		SELECT body FROM evaluations
		WHERE process_id = ?
		ORDER BY sort_key DESC
		LIMIT 1
	`
	return s.scanOne(ctx, q, processID)
}

// FindEvaluations implements Store.
func (s *SQLiteStore) FindEvaluations(ctx context.Context, processID, from, to string) ([]aomsg.Evaluation, error) {
	const q = `
		SELECT body FROM evaluations
		WHERE process_id = ? AND sort_key >= ? AND sort_key < ?
		ORDER BY sort_key ASC
	`
	rows, err := s.db.QueryContext(ctx, q, processID, from, to)
	if err != nil {
		return nil, fmt.Errorf("evalstore: querying range: %w", err)
	}
	defer rows.Close()

	var out []aomsg.Evaluation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("evalstore: scanning row: %w", err)
		}
		var e aomsg.Evaluation
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("evalstore: unmarshaling evaluation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindMessageID implements Store.
func (s *SQLiteStore) FindMessageID(ctx context.Context, processID, messageID string) (aomsg.Evaluation, error) {
	const q = `
		SELECT body FROM evaluations
		WHERE process_id = ? AND message_id = ?
		LIMIT 1
	`
	return s.scanOne(ctx, q, processID, messageID)
}

// FindByDeepHash implements Store.
func (s *SQLiteStore) FindByDeepHash(ctx context.Context, processID, hash string) (aomsg.Evaluation, error) {
	const q = `
		SELECT body FROM evaluations
		WHERE process_id = ? AND deep_hash = ?
		LIMIT 1
	`
	return s.scanOne(ctx, q, processID, hash)
}

func (s *SQLiteStore) scanOne(ctx context.Context, query string, args ...interface{}) (aomsg.Evaluation, error) {
	var body string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if err == sql.ErrNoRows {
		return aomsg.Evaluation{}, ErrNotFound
	}
	if err != nil {
		return aomsg.Evaluation{}, fmt.Errorf("evalstore: querying: %w", err)
	}
	var e aomsg.Evaluation
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return aomsg.Evaluation{}, fmt.Errorf("evalstore: unmarshaling evaluation: %w", err)
	}
	return e, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
