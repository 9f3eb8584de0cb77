package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	repository TEXT NOT NULL,
	status     TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time   TEXT,
	body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_repository ON runs(repository);
`

// SQLiteBackend stores runs in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at dsn. ":memory:" works for
// tests.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One connection: every ":memory:" connection is its own database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout=10000", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Append(ctx context.Context, p artifact.IngestionProgress) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var end any
	if !p.EndTime.IsZero() {
		end = p.EndTime.UTC().Format(time.RFC3339Nano)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, repository, status, start_time, end_time, body) VALUES (?, ?, ?, ?, ?, ?)`,
		p.RunID, p.Repository, string(p.Status), p.StartTime.UTC().Format(time.RFC3339Nano), end, string(body))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", p.RunID, err)
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, n int) ([]artifact.IngestionProgress, error) {
	limit := n
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT body FROM (SELECT seq, body FROM runs ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return scanRuns(rows)
}

// Repository returns every run recorded for repo, oldest first.
func (b *SQLiteBackend) Repository(ctx context.Context, repo string) ([]artifact.IngestionProgress, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT body FROM runs WHERE repository = ? ORDER BY seq ASC`, repo)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]artifact.IngestionProgress, error) {
	defer rows.Close()

	runs := []artifact.IngestionProgress{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p artifact.IngestionProgress
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		runs = append(runs, p)
	}
	return runs, rows.Err()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
