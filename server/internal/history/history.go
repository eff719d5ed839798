// Package history keeps a queryable SQLite index of written health reports
// so past runs can be listed by source or level without scanning the report
// directory.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/echoscope/echoscope/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id             TEXT PRIMARY KEY,
	filename       TEXT NOT NULL UNIQUE,
	source         TEXT NOT NULL,
	score          INTEGER NOT NULL,
	level          TEXT NOT NULL,
	data_points    INTEGER NOT NULL,
	avg_latency_ms REAL NOT NULL,
	loss_rate      REAL NOT NULL,
	avg_jitter_ms  REAL NOT NULL,
	anomaly_count  INTEGER NOT NULL,
	ts             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_source_ts ON reports(source, ts);
CREATE INDEX IF NOT EXISTS idx_reports_ts ON reports(ts);
`

// DefaultLimit bounds List when Query.Limit is zero.
const DefaultLimit = 100

// Record is one indexed report.
type Record struct {
	Filename string             `json:"filename"`
	Report   types.HealthReport `json:"report"`
}

// Query filters List. Zero values match everything.
type Query struct {
	Source string
	Level  types.Level
	Limit  int
}

// Index is a SQLite-backed report index. It is safe for concurrent use.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the index database at path.
func Open(ctx context.Context, path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: mkdir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the database handle.
func (x *Index) Close() error { return x.db.Close() }

// Insert records rep under filename. Reports are immutable, so inserting the
// same ID twice is an error.
func (x *Index) Insert(ctx context.Context, filename string, rep types.HealthReport) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO reports(id, filename, source, score, level, data_points,
			avg_latency_ms, loss_rate, avg_jitter_ms, anomaly_count, ts)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, filename, rep.SourceFilename, rep.Score, string(rep.Level), rep.DataPoints,
		rep.Stats.AvgLatencyMs, rep.Stats.LossRate, rep.Stats.AvgJitterMs, rep.Stats.AnomalyCount,
		rep.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: insert %q: %w", filename, err)
	}
	return nil
}

// List returns matching records, newest first.
func (x *Index) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, filename, source, score, level, data_points,
		avg_latency_ms, loss_rate, avg_jitter_ms, anomaly_count, ts
		FROM reports WHERE 1=1`
	var args []interface{}
	if q.Source != "" {
		query += ` AND source = ?`
		args = append(args, q.Source)
	}
	if q.Level != "" {
		query += ` AND level = ?`
		args = append(args, string(q.Level))
	}
	query += ` ORDER BY ts DESC, filename DESC LIMIT ?`
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec   Record
			level string
			ts    int64
		)
		r := &rec.Report
		if err := rows.Scan(&r.ID, &rec.Filename, &r.SourceFilename, &r.Score, &level, &r.DataPoints,
			&r.Stats.AvgLatencyMs, &r.Stats.LossRate, &r.Stats.AvgJitterMs, &r.Stats.AnomalyCount, &ts); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Level = types.Level(level)
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}

// Count returns the number of indexed reports.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Prune deletes records older than cutoff and returns how many were removed.
func (x *Index) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM reports WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
