package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id          BIGSERIAL PRIMARY KEY,
	at          TIMESTAMPTZ NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	remote_addr TEXT NOT NULL DEFAULT '',
	op          TEXT NOT NULL,
	path        TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_at_idx ON audit_log (at DESC);
`

// PostgresRecorder stores entries in the audit_log table.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder connects to databaseURL and creates the audit_log
// table if it does not exist.
func NewPostgresRecorder(ctx context.Context, databaseURL string) (*PostgresRecorder, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &PostgresRecorder{db: db}, nil
}

// Close closes the database connection.
func (p *PostgresRecorder) Close() error {
	return p.db.Close()
}

// Record inserts e.
func (p *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO audit_log (at, request_id, remote_addr, op, path, target, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Time.UTC(), e.RequestID, e.RemoteAddr, e.Op, e.Path, e.Target, e.Outcome)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (p *PostgresRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT at, request_id, remote_addr, op, path, target, outcome
		 FROM audit_log ORDER BY at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Time, &e.RequestID, &e.RemoteAddr, &e.Op, &e.Path, &e.Target, &e.Outcome); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
