package runstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	request    TEXT NOT NULL,
	phase      TEXT NOT NULL,
	version    INTEGER NOT NULL,
	state      BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at);
`

// SQLiteStore checkpoints run states into a single sqlite file.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// One writer keeps version checks and :memory: databases consistent.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open run store: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init run store schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, st *RunState) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run %s: %w", st.ID, err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM runs WHERE id = ?`, st.ID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("save run %s: %w", st.ID, err)
	}
	if st.Version != current {
		return fmt.Errorf("%w: run %s at version %d, saving %d", ErrConflict, st.ID, current, st.Version)
	}

	prevVersion, prevUpdated := st.Version, st.UpdatedAt
	st.Version++
	st.UpdatedAt = time.Now().UTC()
	restore := func() { st.Version, st.UpdatedAt = prevVersion, prevUpdated }

	data, err := json.Marshal(st)
	if err != nil {
		restore()
		return fmt.Errorf("encode run %s: %w", st.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, request, phase, version, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		st.ID, st.Request, string(st.Phase), st.Version, data,
		st.CreatedAt.Format(time.RFC3339Nano), st.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		restore()
		return fmt.Errorf("save run %s: %w", st.ID, err)
	}
	if err := tx.Commit(); err != nil {
		restore()
		return fmt.Errorf("save run %s: %w", st.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*RunState, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT state FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &st, nil
}

// List returns runs newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT state FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		var st RunState
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, st.Summary())
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// OpenStore opens the store named by driver: "sqlite" or "memory".
func OpenStore(ctx context.Context, driver, path string) (Store, func() error, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), func() error { return nil }, nil
	case "sqlite", "":
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
