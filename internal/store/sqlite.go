package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	conflictRetries   = 3
	conflictBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository. The DSN may point at a
// file or at an in-memory database ("file:name?mode=memory&cache=shared").
func NewSQLite(dsn string) (*SQLiteStore, error) {
	inMemory := isMemoryDSN(dsn)
	if !inMemory {
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if inMemory {
		// A shared-cache memory database disappears with its last connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS turns (
		session_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_key, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendTurn appends a turn inside a transaction so Seq stays dense.
func (s *SQLiteStore) AppendTurn(ctx context.Context, key string, role domain.Role, content string) (domain.Turn, error) {
	turn := domain.Turn{Role: role, Content: content}

	err := shared.RetryOnConflict(ctx, conflictRetries, conflictBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin append: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var next int
		row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM turns WHERE session_key = ?`, key)
		if err := row.Scan(&next); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}

		createdAt := s.now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_key, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			key, next, string(role), content, createdAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append: %w", err)
		}

		turn.Seq = next
		turn.CreatedAt = createdAt
		return nil
	})
	if err != nil {
		return domain.Turn{}, err
	}
	return turn, nil
}

// ListTurns returns the transcript ordered by seq.
func (s *SQLiteStore) ListTurns(ctx context.Context, key string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, created_at FROM turns WHERE session_key = ? ORDER BY seq`, key)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var role string
		var createdAt int64
		if err := rows.Scan(&turn.Seq, &role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.Role = domain.Role(role)
		if !turn.Role.Valid() {
			return nil, fmt.Errorf("scan turn row: unknown role %q at seq %d", role, turn.Seq)
		}
		turn.CreatedAt = time.Unix(0, createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// CountTurns returns the transcript length.
func (s *SQLiteStore) CountTurns(ctx context.Context, key string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_key = ?`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// DeleteSession removes a transcript, retrying on lock contention.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) error {
	err := shared.RetryOnConflict(ctx, conflictRetries, conflictBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// Purge removes every transcript.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns`)
	if err != nil {
		return 0, fmt.Errorf("purge turns: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
