package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPollInterval is how often a blocked SQLite move re-checks its source
// list. SQLite has no blocking pop, so waiting is a poll loop.
const DefaultPollInterval = 25 * time.Millisecond

// SQLiteStore keeps every list in one table, ordered by an increasing
// sequence number. Moving an element deletes its row and inserts a new one,
// which places it at the tail of the destination.
type SQLiteStore struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, pollInterval: DefaultPollInterval}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_txlock=immediate&_busy_timeout=5000"
	}
	return path + "?_txlock=immediate&_busy_timeout=5000"
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS list_items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_list_items_key_seq ON list_items(key, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) PushTail(ctx context.Context, key string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO list_items (key, payload) VALUES (?, ?)`, key, payload); err != nil {
		return 0, err
	}

	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM list_items WHERE key = ?`, key).Scan(&n); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) Move(ctx context.Context, from, to string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck
	}()

	var seq int64
	var payload []byte
	err = tx.QueryRowContext(ctx,
		`SELECT seq, payload FROM list_items WHERE key = ? ORDER BY seq ASC LIMIT 1`, from,
	).Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE seq = ?`, seq); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO list_items (key, payload) VALUES (?, ?)`, to, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *SQLiteStore) MoveBlocking(ctx context.Context, from, to string, timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		payload, err := s.Move(ctx, from, to)
		if err != nil || payload != nil {
			return payload, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (s *SQLiteStore) RemoveOne(ctx context.Context, key string, payload []byte) (int64, error) {
	query := `
		DELETE FROM list_items
		WHERE seq = (
			SELECT seq FROM list_items
			WHERE key = ? AND payload = ?
			ORDER BY seq ASC
			LIMIT 1
		)
	`
	res, err := s.db.ExecContext(ctx, query, key, payload)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) MoveOne(ctx context.Context, from, to string, payload []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck
	}()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM list_items WHERE key = ? AND payload = ? ORDER BY seq ASC LIMIT 1`, from, payload,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_items WHERE seq = ?`, seq); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO list_items (key, payload) VALUES (?, ?)`, to, payload); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Len(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM list_items WHERE key = ?`, key).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Range(ctx context.Context, key string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM list_items WHERE key = ? ORDER BY seq ASC`, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() //nolint:errcheck
	}()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
