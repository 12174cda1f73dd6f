package pgcustody

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS custody_status (
  serial_number TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  updated_by TEXT NOT NULL,
  updated_by_company_type TEXT NOT NULL DEFAULT '',
  updated_by_company_name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS custody_audit (
  id BIGSERIAL PRIMARY KEY,
  serial_number TEXT NOT NULL,
  action TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  actor_username TEXT NOT NULL,
  actor_company_type TEXT NOT NULL DEFAULT '',
  actor_company_name TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_custody_audit_serial_created_at ON custody_audit(serial_number, created_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
