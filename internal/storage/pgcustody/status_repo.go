package pgcustody

import (
	"context"
	"fmt"

	"github.com/BearBump/MedLedger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const statusColumns = `serial_number, status, updated_at, updated_by, updated_by_company_type, updated_by_company_name`

// ConflictError возвращается, когда CAS-предикат не сработал: статус в базе
// уже не равен ожидаемому. Actual — реально наблюдавшийся статус.
type ConflictError struct {
	SerialNumber string
	Expected     string
	Actual       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("custody status conflict for %s: expected '%s', actual '%s'", e.SerialNumber, e.Expected, e.Actual)
}

// EnsureStatus лениво сеет строку статуса (manufactured/system) и возвращает
// актуальную строку. Конкурентные вызовы не создают дублей: upsert с no-op
// апдейтом возвращает существующую строку.
func (s *Storage) EnsureStatus(ctx context.Context, serialNumber string) (*models.CustodyStatus, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO custody_status (
  serial_number, status, updated_at, updated_by, updated_by_company_type, updated_by_company_name
)
VALUES ($1, $2, now(), 'system', '', '')
ON CONFLICT (serial_number)
DO UPDATE SET updated_at = custody_status.updated_at
RETURNING `+statusColumns, serialNumber, models.StatusManufactured)

	st, err := scanStatus(row)
	if err != nil {
		return nil, errors.Wrap(err, "ensure custody status")
	}
	return st, nil
}

// SeedStatus записывает строку статуса значением manufactured от имени
// актора. Используется только на границе create, где леджер гарантирует
// единственность записи. Предикат на DO UPDATE не даёт откатить уже
// продвинутый статус: если строка ушла дальше manufactured, она остаётся
// как есть и возвращается текущее состояние.
func (s *Storage) SeedStatus(ctx context.Context, serialNumber string, actor models.Actor) (*models.CustodyStatus, error) {
	row := s.db.QueryRow(ctx, `
INSERT INTO custody_status (
  serial_number, status, updated_at, updated_by, updated_by_company_type, updated_by_company_name
)
VALUES ($1, $2, now(), $3, $4, $5)
ON CONFLICT (serial_number)
DO UPDATE SET
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at,
  updated_by = EXCLUDED.updated_by,
  updated_by_company_type = EXCLUDED.updated_by_company_type,
  updated_by_company_name = EXCLUDED.updated_by_company_name
WHERE custody_status.status = $2
RETURNING `+statusColumns,
		serialNumber, models.StatusManufactured, actor.Username, actor.CompanyType, actor.CompanyName)

	st, err := scanStatus(row)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "seed custody status")
	}

	current, gerr := s.GetStatus(ctx, serialNumber)
	if gerr != nil {
		return nil, gerr
	}
	if current == nil {
		return nil, errors.Errorf("custody status for %s not found", serialNumber)
	}
	return current, nil
}

// TransitionStatus — атомарный compare-and-swap: UPDATE срабатывает только
// если текущий статус равен expected. При промахе возвращается ConflictError
// с наблюдавшимся статусом, строка не меняется.
func (s *Storage) TransitionStatus(ctx context.Context, serialNumber, expected, next string, actor models.Actor) (*models.CustodyStatus, error) {
	row := s.db.QueryRow(ctx, `
UPDATE custody_status
SET
  status = $3,
  updated_at = now(),
  updated_by = $4,
  updated_by_company_type = $5,
  updated_by_company_name = $6
WHERE serial_number = $1 AND status = $2
RETURNING `+statusColumns,
		serialNumber, expected, next, actor.Username, actor.CompanyType, actor.CompanyName)

	st, err := scanStatus(row)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, "transition custody status")
	}

	// CAS промахнулся: читаем фактический статус для сообщения об ошибке.
	current, gerr := s.GetStatus(ctx, serialNumber)
	if gerr != nil {
		return nil, gerr
	}
	if current == nil {
		return nil, errors.Errorf("custody status for %s not found", serialNumber)
	}
	return nil, &ConflictError{SerialNumber: serialNumber, Expected: expected, Actual: current.Status}
}

// GetStatus возвращает (nil, nil), если строки нет.
func (s *Storage) GetStatus(ctx context.Context, serialNumber string) (*models.CustodyStatus, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+statusColumns+`
FROM custody_status
WHERE serial_number = $1
`, serialNumber)

	st, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select custody status")
	}
	return st, nil
}

func (s *Storage) GetStatuses(ctx context.Context, serialNumbers []string) ([]*models.CustodyStatus, error) {
	if len(serialNumbers) == 0 {
		return []*models.CustodyStatus{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT `+statusColumns+`
FROM custody_status
WHERE serial_number = ANY($1)
`, serialNumbers)
	if err != nil {
		return nil, errors.Wrap(err, "select custody statuses")
	}
	defer rows.Close()

	out := make([]*models.CustodyStatus, 0, len(serialNumbers))
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan custody status")
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanStatus(row pgx.Row) (*models.CustodyStatus, error) {
	var st models.CustodyStatus
	if err := row.Scan(
		&st.SerialNumber, &st.Status, &st.UpdatedAt,
		&st.UpdatedBy, &st.UpdatedByCompanyType, &st.UpdatedByCompanyName,
	); err != nil {
		return nil, err
	}
	return &st, nil
}
