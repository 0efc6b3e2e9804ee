package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists totals and history in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	// A single connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize usage schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS usage_totals (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			runs INTEGER NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost REAL NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			generation_id TEXT NOT NULL,
			model TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost REAL NOT NULL,
			test_mode INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Totals, error) {
	var t Totals
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT runs, input_tokens, output_tokens, cost, updated_at FROM usage_totals WHERE id = 1`,
	).Scan(&t.Runs, &t.InputTokens, &t.OutputTokens, &t.Cost, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Totals{}, nil
	}
	if err != nil {
		return Totals{}, fmt.Errorf("query usage totals: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return Totals{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT generation_id, model, recorded_at, input_tokens, output_tokens, cost, test_mode
		 FROM usage_history ORDER BY seq`)
	if err != nil {
		return Totals{}, fmt.Errorf("query usage history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec RunRecord
		var recorded string
		var testMode int
		if err := rows.Scan(&rec.GenerationID, &rec.Model, &recorded,
			&rec.InputTokens, &rec.OutputTokens, &rec.Cost, &testMode); err != nil {
			return Totals{}, fmt.Errorf("scan usage history: %w", err)
		}
		if rec.Timestamp, err = parseTime(recorded); err != nil {
			return Totals{}, err
		}
		rec.TestMode = testMode != 0
		t.History = append(t.History, rec)
	}
	if err := rows.Err(); err != nil {
		return Totals{}, fmt.Errorf("iterate usage history: %w", err)
	}
	return t, nil
}

// Save implements Store. Totals and history are replaced in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, t Totals) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO usage_totals (id, runs, input_tokens, output_tokens, cost, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   runs = excluded.runs,
		   input_tokens = excluded.input_tokens,
		   output_tokens = excluded.output_tokens,
		   cost = excluded.cost,
		   updated_at = excluded.updated_at`,
		t.Runs, t.InputTokens, t.OutputTokens, t.Cost, formatTime(t.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert usage totals: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM usage_history`); err != nil {
		return fmt.Errorf("clear usage history: %w", err)
	}
	for _, rec := range t.History {
		testMode := 0
		if rec.TestMode {
			testMode = 1
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO usage_history (generation_id, model, recorded_at, input_tokens, output_tokens, cost, test_mode)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.GenerationID, rec.Model, formatTime(rec.Timestamp),
			rec.InputTokens, rec.OutputTokens, rec.Cost, testMode,
		); err != nil {
			return fmt.Errorf("insert usage history: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit usage transaction: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse usage timestamp %q: %w", s, err)
	}
	return t, nil
}

var _ Store = (*SQLiteStore)(nil)
