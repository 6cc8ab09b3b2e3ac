package evalstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aonet/cu/aomsg"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the alternate Result Store backend, selected when
// MYSQL_DSN is configured (spec.md §6). Same document-per-evaluation
// layout as SQLiteStore, sharing the docKey scheme.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and ensures the
// evaluations table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("evalstore: opening mysql: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("evalstore: connecting to mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS evaluations (
			doc_key    VARCHAR(512) PRIMARY KEY,
			process_id VARCHAR(255) NOT NULL,
			sort_key   VARCHAR(255) NOT NULL,
			message_id VARCHAR(255) NOT NULL DEFAULT '',
			deep_hash  VARCHAR(255) NOT NULL DEFAULT '',
			body       LONGTEXT NOT NULL,
			INDEX idx_eval_process_sortkey (process_id, sort_key),
			INDEX idx_eval_message_id (process_id, message_id),
			INDEX idx_eval_deep_hash (process_id, deep_hash)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("evalstore: creating evaluations table: %w", err)
	}
	return nil
}

// SaveEvaluation implements Store.
func (s *MySQLStore) SaveEvaluation(ctx context.Context, e aomsg.Evaluation) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("evalstore: marshaling evaluation: %w", err)
	}
	const q = `
		INSERT INTO evaluations (doc_key, process_id, sort_key, message_id, deep_hash, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			message_id = VALUES(message_id),
			deep_hash = VALUES(deep_hash),
			body = VALUES(body)
	`
	_, err = s.db.ExecContext(ctx, q, docKey(e.ProcessID, e.SortKey), e.ProcessID, e.SortKey, e.MessageID, e.DeepHash, string(body))
	if err != nil {
		return fmt.Errorf("evalstore: saving evaluation: %w", err)
	}
	return nil
}

// FindLatestEvaluation implements Store.
func (s *MySQLStore) FindLatestEvaluation(ctx context.Context, processID string) (aomsg.Evaluation, error) {
	const q = `
		SELECT body FROM evaluations
		WHERE process_id = ?
		ORDER BY sort_key DESC
		LIMIT 1
	`
	return s.scanOne(ctx, q, processID)
}

// FindEvaluations implements Store.
func (s *MySQLStore) FindEvaluations(ctx context.Context, processID, from, to string) ([]aomsg.Evaluation, error) {
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
func (s *MySQLStore) FindMessageID(ctx context.Context, processID, messageID string) (aomsg.Evaluation, error) {
	const q = `
		SELECT body FROM evaluations
		WHERE process_id = ? AND message_id = ?
		LIMIT 1
	`
	return s.scanOne(ctx, q, processID, messageID)
}

// FindByDeepHash implements Store.
func (s *MySQLStore) FindByDeepHash(ctx context.Context, processID, hash string) (aomsg.Evaluation, error) {
	const q = `
		SELECT body FROM evaluations
		WHERE process_id = ? AND deep_hash = ?
		LIMIT 1
	`
	return s.scanOne(ctx, q, processID, hash)
}

func (s *MySQLStore) scanOne(ctx context.Context, query string, args ...interface{}) (aomsg.Evaluation, error) {
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

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
