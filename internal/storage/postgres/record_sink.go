package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

const defaultRecordTable = "icp_records"

// RecordSink inserts one row per registration record.
type RecordSink struct {
	db    DB
	table string
	ids   icp.IDGenerator

	closeOnce sync.Once
}

// NewRecordSink wraps db. ids assigns record IDs; it is required because the
// table's primary key is the record ID.
func NewRecordSink(db DB, table string, ids icp.IDGenerator) (*RecordSink, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	name, err := checkTable(table, defaultRecordTable)
	if err != nil {
		return nil, err
	}
	return &RecordSink{db: db, table: name, ids: ids}, nil
}

// EnsureSchema creates the record table when it does not exist.
func (s *RecordSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             TEXT PRIMARY KEY,
	domain         TEXT NOT NULL,
	owner_name     TEXT NOT NULL,
	owner_type     TEXT NOT NULL,
	certificate_id TEXT NOT NULL,
	site_name      TEXT NOT NULL,
	homepage       TEXT NOT NULL,
	registered_at  TEXT NOT NULL,
	inserted_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Write inserts record, assigning an ID when it has none.
func (s *RecordSink) Write(ctx context.Context, record icp.Record) error {
	if record.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("%w: %w", icp.ErrWrite, err)
		}
		record.ID = id
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	domain,
	owner_name,
	owner_type,
	certificate_id,
	site_name,
	homepage,
	registered_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		record.ID,
		record.Domain,
		record.OwnerName,
		record.OwnerType,
		record.CertificateID,
		record.SiteName,
		record.Homepage,
		record.RegisteredAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: insert record: %w", icp.ErrWrite, err)
	}
	return nil
}

// Close releases the pool.
func (s *RecordSink) Close() error {
	s.closeOnce.Do(s.db.Close)
	return nil
}
