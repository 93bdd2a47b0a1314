// Package sqldb stores request contexts in a SQL database through sqlx.
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx) are supported.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/knotgate/internal/core/ports"
	"github.com/tjfontaine/knotgate/internal/storage/dialect"
)

// defaultListLimit applies when ListOptions.Limit is zero.
const defaultListLimit = 100

// Store is a SQL implementation of ContextStore that supports multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.ContextStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS request_contexts (
id TEXT PRIMARY KEY,
method TEXT NOT NULL,
path TEXT NOT NULL,
failed %s NOT NULL,
status_code INTEGER NOT NULL,
context %s NOT NULL,
created_at %s NOT NULL
)`, s.dialect.BooleanType(), s.dialect.JSONType(), s.dialect.TimestampType()),
		`CREATE INDEX IF NOT EXISTS idx_request_contexts_created ON request_contexts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_request_contexts_failed ON request_contexts(failed, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// contextRow is the database shape of a ContextRecord.
type contextRow struct {
	ID         string    `db:"id"`
	Method     string    `db:"method"`
	Path       string    `db:"path"`
	Failed     bool      `db:"failed"`
	StatusCode int       `db:"status_code"`
	Context    string    `db:"context"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *contextRow) record() (*ports.ContextRecord, error) {
	rec := &ports.ContextRecord{
		ID:         r.ID,
		Method:     r.Method,
		Path:       r.Path,
		Failed:     r.Failed,
		StatusCode: r.StatusCode,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Context), &rec.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context %s: %w", r.ID, err)
	}
	return rec, nil
}

const selectColumns = `id, method, path, failed, status_code, context, created_at`

// Save inserts a record, replacing any record with the same ID.
func (s *Store) Save(ctx context.Context, rec *ports.ContextRecord) error {
	data, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO request_contexts (` + selectColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause("id", []string{"method", "path", "failed", "status_code", "context", "created_at"}))

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Method, rec.Path, rec.Failed, rec.StatusCode, string(data), createdAt)
	if err != nil {
		return fmt.Errorf("failed to save context %s: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*ports.ContextRecord, error) {
	query := s.dialect.Rebind(`SELECT ` + selectColumns + ` FROM request_contexts WHERE id = ?`)

	var row contextRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("context %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get context %s: %w", id, err)
	}
	return row.record()
}

// List returns records, newest first.
func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]*ports.ContextRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + selectColumns + ` FROM request_contexts`
	var args []any
	if opts.FailedOnly {
		query += ` WHERE failed = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []contextRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}

	records := make([]*ports.ContextRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
