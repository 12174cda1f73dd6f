package custody

import (
	"context"
	"fmt"
	"strings"

	"github.com/BearBump/MedLedger/internal/metrics"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/BearBump/MedLedger/internal/storage/pgcustody"
	"github.com/pkg/errors"
)

const maxBatchSize = 500

// TransitionBatch прогоняет переход по списку серийников с независимыми
// исходами. Пустой список и списки длиннее 500 отклоняются целиком до
// каких-либо побочных эффектов; дальше ошибка одного элемента никогда не
// прерывает остальные. Элементы обрабатываются последовательно (наблюдаемый
// результат для одинаковых серийников в одном вызове обязан совпадать с
// последовательной обработкой), каждый — со своим дедлайном, чтобы один
// зависший стор не останавливал весь батч навсегда.
func (s *Service) TransitionBatch(ctx context.Context, serialNumbers []string, transition string, actor models.Actor) (*models.BatchResult, error) {
	if len(serialNumbers) == 0 {
		return nil, &ValidationError{Reason: "serialNumbers must be a non-empty array"}
	}
	if len(serialNumbers) > maxBatchSize {
		return nil, &ValidationError{Reason: fmt.Sprintf("maximum %d serial numbers per batch", maxBatchSize)}
	}
	expected, ok := ExpectedFrom(transition)
	if !ok {
		return nil, &ValidationError{Reason: "unknown transition '" + transition + "'"}
	}

	res := &models.BatchResult{
		Processed: len(serialNumbers),
		Succeeded: make([]models.BatchOutcome, 0, len(serialNumbers)),
		Failed:    make([]models.BatchOutcome, 0),
	}
	for _, raw := range serialNumbers {
		outcome := s.processBatchItem(ctx, raw, transition, expected, actor)
		if outcome.Error != "" {
			metrics.BatchItemsTotal.WithLabelValues("failed").Inc()
			res.Failed = append(res.Failed, outcome)
			continue
		}
		metrics.BatchItemsTotal.WithLabelValues("succeeded").Inc()
		res.Succeeded = append(res.Succeeded, outcome)
	}
	return res, nil
}

func (s *Service) processBatchItem(ctx context.Context, raw, transition, expected string, actor models.Actor) models.BatchOutcome {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.BatchOutcome{SerialNumber: raw, Error: "empty serial number"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()

	if _, err := s.repo.EnsureStatus(ctx, trimmed); err != nil {
		return models.BatchOutcome{SerialNumber: trimmed, Error: err.Error()}
	}
	if err := s.auth.Check(actor.CompanyType, transition); err != nil {
		return models.BatchOutcome{SerialNumber: trimmed, Error: err.Error()}
	}

	st, err := s.repo.TransitionStatus(ctx, trimmed, expected, transition, actor)
	if err != nil {
		var ce *pgcustody.ConflictError
		if errors.As(err, &ce) {
			return models.BatchOutcome{
				SerialNumber: trimmed,
				Error:        fmt.Sprintf("cannot mark %s from status '%s'", transition, ce.Actual),
			}
		}
		return models.BatchOutcome{SerialNumber: trimmed, Error: err.Error()}
	}

	if err := s.repo.AppendAudit(ctx, trimmed, transition, actor); err != nil {
		return models.BatchOutcome{SerialNumber: trimmed, Error: err.Error()}
	}

	s.publish(ctx, transition, st, actor)
	return models.BatchOutcome{SerialNumber: trimmed, Status: st.Status}
}
