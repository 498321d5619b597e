// Package sqlite persists registration records to a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

const defaultTable = "icp_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table.
type Config struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// Sink inserts one row per record through a prepared statement.
type Sink struct {
	db     *sql.DB
	insert *sql.Stmt
	table  string
	ids    icp.IDGenerator
}

// Open creates the database file and table if needed. ids may be nil, in which
// case SQLite assigns the rowid and the record ID column stays NULL.
func Open(ctx context.Context, cfg Config, ids icp.IDGenerator) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sink.sqlite.path is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT UNIQUE,
	domain         TEXT NOT NULL,
	owner_name     TEXT NOT NULL,
	owner_type     TEXT NOT NULL,
	certificate_id TEXT NOT NULL,
	site_name      TEXT NOT NULL,
	homepage       TEXT NOT NULL,
	registered_at  TEXT NOT NULL,
	inserted_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, table)
	if _, err := db.ExecContext(ctx, create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s: %w", table, err)
	}

	insert, err := db.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, domain, owner_name, owner_type, certificate_id, site_name, homepage, registered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &Sink{db: db, insert: insert, table: table, ids: ids}, nil
}

// Write inserts record.
func (s *Sink) Write(ctx context.Context, record icp.Record) error {
	var id any
	switch {
	case record.ID != "":
		id = record.ID
	case s.ids != nil:
		v, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("%w: %w", icp.ErrWrite, err)
		}
		id = v
	}
	_, err := s.insert.ExecContext(ctx,
		id,
		record.Domain,
		record.OwnerName,
		record.OwnerType,
		record.CertificateID,
		record.SiteName,
		record.Homepage,
		record.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert record: %w", icp.ErrWrite, err)
	}
	return nil
}

// Count reports the number of stored rows.
func (s *Sink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close releases the statement and database handle.
func (s *Sink) Close() error {
	stmtErr := s.insert.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	if stmtErr != nil {
		return fmt.Errorf("close insert statement: %w", stmtErr)
	}
	return nil
}
