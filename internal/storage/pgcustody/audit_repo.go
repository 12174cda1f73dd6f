package pgcustody

import (
	"context"

	"github.com/BearBump/MedLedger/internal/models"
	"github.com/pkg/errors"
)

// AppendAudit — insert-only; операций update/delete для аудита нет.
func (s *Storage) AppendAudit(ctx context.Context, serialNumber, action string, actor models.Actor) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO custody_audit (
  serial_number, action, created_at, actor_username, actor_company_type, actor_company_name
)
VALUES ($1, $2, now(), $3, $4, $5)
`, serialNumber, action, actor.Username, actor.CompanyType, actor.CompanyName)
	return errors.Wrap(err, "insert audit entry")
}

func (s *Storage) ListAudit(ctx context.Context, serialNumber string) ([]*models.AuditEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, serial_number, action, created_at, actor_username, actor_company_type, actor_company_name
FROM custody_audit
WHERE serial_number = $1
ORDER BY created_at ASC, id ASC
`, serialNumber)
	if err != nil {
		return nil, errors.Wrap(err, "select audit entries")
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.SerialNumber, &e.Action, &e.CreatedAt,
			&e.ActorUsername, &e.ActorCompanyType, &e.ActorCompanyName,
		); err != nil {
			return nil, errors.Wrap(err, "scan audit entry")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
