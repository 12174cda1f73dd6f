package custody

import (
	"context"
	"strings"

	"github.com/BearBump/MedLedger/internal/identifier"
	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/pkg/errors"
)

// Read-сторона: join неизменяемых записей леджера с изменяемыми статусами.
// Никакого кэширования между вызовами — оба стора читаются каждый раз.

func (s *Service) GetAll(ctx context.Context) ([]*models.MergedView, error) {
	recs, err := s.ledger.ListRecords(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list ledger records")
	}

	serials := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.SerialNumber != "" {
			serials = append(serials, rec.SerialNumber)
		}
	}

	// Один батч-запрос за статусами ровно по возвращённым серийникам.
	sts, err := s.repo.GetStatuses(ctx, serials)
	if err != nil {
		return nil, errors.Wrap(err, "get custody statuses")
	}
	bySerial := make(map[string]*models.CustodyStatus, len(sts))
	for _, st := range sts {
		bySerial[st.SerialNumber] = st
	}

	out := make([]*models.MergedView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, mergeView(rec, bySerial[rec.SerialNumber]))
	}
	return out, nil
}

func (s *Service) GetOne(ctx context.Context, serialNumber string) (*models.MergedView, error) {
	serialNumber = strings.TrimSpace(serialNumber)
	if serialNumber == "" {
		return nil, &ValidationError{Reason: "serial number is required"}
	}

	rec, err := s.ledger.GetRecord(ctx, serialNumber)
	if err != nil {
		// ledger.ErrNotFound проходит наверх как есть
		return nil, err
	}

	st, err := s.repo.GetStatus(ctx, serialNumber)
	if err != nil {
		return nil, errors.Wrap(err, "get custody status")
	}
	return mergeView(rec, st), nil
}

// GetByHash отклоняет неформатный хэш до какого-либо обращения к сторам,
// затем линейно сканирует леджер. Секундарного индекса у леджера нет,
// O(n) на вызов осознанно.
func (s *Service) GetByHash(ctx context.Context, hash string) (*models.MergedView, error) {
	if !identifier.IsValid(hash) {
		return nil, ErrBadHashFormat
	}

	recs, err := s.ledger.ListRecords(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list ledger records")
	}

	for _, rec := range recs {
		if rec.IdentifierHash != hash {
			continue
		}
		st, err := s.repo.GetStatus(ctx, rec.SerialNumber)
		if err != nil {
			return nil, errors.Wrap(err, "get custody status")
		}
		return mergeView(rec, st), nil
	}
	return nil, ledger.ErrNotFound
}

// mergeView накладывает статусные поля на мастер-запись. Если строки статуса
// ещё нет, для отображения подставляется неявный manufactured: с момента
// существования записи статус должен вести себя как присутствующий.
func mergeView(rec *models.MedicationRecord, st *models.CustodyStatus) *models.MergedView {
	v := &models.MergedView{
		MedicationRecord: *rec,
		Status:           models.StatusManufactured,
	}
	if st != nil {
		v.Status = st.Status
		t := st.UpdatedAt
		v.StatusUpdatedAt = &t
		v.StatusUpdatedBy = st.UpdatedBy
		v.StatusUpdatedByCompanyType = st.UpdatedByCompanyType
		v.StatusUpdatedByCompanyName = st.UpdatedByCompanyName
	}
	return v
}
