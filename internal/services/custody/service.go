package custody

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/MedLedger/internal/broker/messages"
	"github.com/BearBump/MedLedger/internal/identifier"
	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	"github.com/BearBump/MedLedger/internal/metrics"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/BearBump/MedLedger/internal/storage/pgcustody"
	"github.com/pkg/errors"
)

type Repository interface {
	EnsureStatus(ctx context.Context, serialNumber string) (*models.CustodyStatus, error)
	SeedStatus(ctx context.Context, serialNumber string, actor models.Actor) (*models.CustodyStatus, error)
	TransitionStatus(ctx context.Context, serialNumber, expected, next string, actor models.Actor) (*models.CustodyStatus, error)
	GetStatus(ctx context.Context, serialNumber string) (*models.CustodyStatus, error)
	GetStatuses(ctx context.Context, serialNumbers []string) ([]*models.CustodyStatus, error)
	AppendAudit(ctx context.Context, serialNumber, action string, actor models.Actor) error
	ListAudit(ctx context.Context, serialNumber string) ([]*models.AuditEntry, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	ledger ledger.Client
	repo   Repository
	auth   *Authorizer

	producer Producer // опционально
	topic    string

	itemTimeout time.Duration
}

func New(ledgerClient ledger.Client, repo Repository, auth *Authorizer) *Service {
	return &Service{
		ledger:      ledgerClient,
		repo:        repo,
		auth:        auth,
		itemTimeout: 10 * time.Second,
	}
}

func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) WithItemTimeout(d time.Duration) *Service {
	if d > 0 {
		s.itemTimeout = d
	}
	return s
}

type CreateResult struct {
	ID             string
	IdentifierHash string
}

// Create пишет мастер-запись в леджер, сеет строку статуса и первый аудит.
// Леджер — единственный арбитр уникальности: при гонке создания побеждает
// ровно один вызов, остальные получают ledger.ErrAlreadyExists и ничего
// не сеют.
func (s *Service) Create(ctx context.Context, in models.MedicationCreateInput, actor models.Actor) (*CreateResult, error) {
	if err := validateCreateInput(&in); err != nil {
		return nil, err
	}
	if err := s.auth.Check(actor.CompanyType, ActionManufactured); err != nil {
		return nil, err
	}

	hash := identifier.Compute(in.BatchNumber, in.ExpiryDate, in.SerialNumber)
	rec := models.MedicationRecord{
		SerialNumber:        in.SerialNumber,
		MedicationName:      in.MedicationName,
		GTIN:                in.GTIN,
		BatchNumber:         in.BatchNumber,
		ExpiryDate:          in.ExpiryDate,
		ProductionCompany:   in.ProductionCompany,
		DistributionCompany: in.DistributionCompany,
		IdentifierHash:      hash,
		CreatedAt:           time.Now().UTC(),
	}

	if _, err := s.ledger.CreateRecord(ctx, rec); err != nil {
		metrics.TransitionsTotal.WithLabelValues(ActionManufactured, resultLabel(err)).Inc()
		return nil, err
	}

	st, err := s.repo.SeedStatus(ctx, in.SerialNumber, actor)
	if err != nil {
		// Запись в леджере уже есть; статус досеется лениво через ensure.
		metrics.TransitionsTotal.WithLabelValues(ActionManufactured, "error").Inc()
		return nil, errors.Wrap(err, "seed custody status")
	}
	if err := s.repo.AppendAudit(ctx, in.SerialNumber, ActionManufactured, actor); err != nil {
		metrics.TransitionsTotal.WithLabelValues(ActionManufactured, "error").Inc()
		return nil, errors.Wrap(err, "append audit entry")
	}

	metrics.TransitionsTotal.WithLabelValues(ActionManufactured, "success").Inc()
	s.publish(ctx, ActionManufactured, st, actor)

	return &CreateResult{ID: in.SerialNumber, IdentifierHash: hash}, nil
}

// TransitionOne продвигает статус одной единицы на один шаг.
// Порядок: авторизация -> ленивый ensure -> CAS -> аудит.
func (s *Service) TransitionOne(ctx context.Context, serialNumber, transition string, actor models.Actor) (*models.CustodyStatus, error) {
	serialNumber = strings.TrimSpace(serialNumber)
	if serialNumber == "" {
		return nil, &ValidationError{Reason: "serial number is required"}
	}
	expected, ok := ExpectedFrom(transition)
	if !ok {
		return nil, &ValidationError{Reason: "unknown transition '" + transition + "'"}
	}
	if err := s.auth.Check(actor.CompanyType, transition); err != nil {
		metrics.TransitionsTotal.WithLabelValues(transition, "denied").Inc()
		return nil, err
	}

	if _, err := s.repo.EnsureStatus(ctx, serialNumber); err != nil {
		return nil, errors.Wrap(err, "ensure custody status")
	}

	st, err := s.repo.TransitionStatus(ctx, serialNumber, expected, transition, actor)
	if err != nil {
		var ce *pgcustody.ConflictError
		if errors.As(err, &ce) {
			metrics.TransitionsTotal.WithLabelValues(transition, "conflict").Inc()
			return nil, &ConflictError{Transition: transition, Current: ce.Actual}
		}
		metrics.TransitionsTotal.WithLabelValues(transition, "error").Inc()
		return nil, err
	}

	if err := s.repo.AppendAudit(ctx, serialNumber, transition, actor); err != nil {
		metrics.TransitionsTotal.WithLabelValues(transition, "error").Inc()
		return nil, errors.Wrap(err, "append audit entry")
	}

	metrics.TransitionsTotal.WithLabelValues(transition, "success").Inc()
	s.publish(ctx, transition, st, actor)
	return st, nil
}

func (s *Service) GetAudit(ctx context.Context, serialNumber string) ([]*models.AuditEntry, error) {
	serialNumber = strings.TrimSpace(serialNumber)
	if serialNumber == "" {
		return nil, &ValidationError{Reason: "serial number is required"}
	}
	return s.repo.ListAudit(ctx, serialNumber)
}

func (s *Service) publish(ctx context.Context, action string, st *models.CustodyStatus, actor models.Actor) {
	if s.producer == nil {
		return
	}
	msg := messages.CustodyChanged{
		SerialNumber:     st.SerialNumber,
		Action:           action,
		Status:           st.Status,
		ActorUsername:    actor.Username,
		ActorCompanyType: actor.CompanyType,
		ActorCompanyName: actor.CompanyName,
		OccurredAt:       st.UpdatedAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal custody.changed", "error", err.Error())
		return
	}
	// Переход уже зафиксирован; публикация — best effort.
	if err := s.producer.Publish(ctx, s.topic, []byte(st.SerialNumber), b); err != nil {
		slog.Error("publish custody.changed", "serial_number", st.SerialNumber, "error", err.Error())
	}
}

func validateCreateInput(in *models.MedicationCreateInput) error {
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	in.MedicationName = strings.TrimSpace(in.MedicationName)
	in.GTIN = strings.TrimSpace(in.GTIN)
	in.BatchNumber = strings.TrimSpace(in.BatchNumber)
	in.ExpiryDate = strings.TrimSpace(in.ExpiryDate)
	in.ProductionCompany = strings.TrimSpace(in.ProductionCompany)
	in.DistributionCompany = strings.TrimSpace(in.DistributionCompany)

	if in.SerialNumber == "" {
		return &ValidationError{Reason: "serialNumber is required"}
	}
	if in.MedicationName == "" {
		return &ValidationError{Reason: "medicationName is required"}
	}
	if in.GTIN == "" {
		return &ValidationError{Reason: "gtin is required"}
	}
	if in.BatchNumber == "" {
		return &ValidationError{Reason: "batchNumber is required"}
	}
	if in.ExpiryDate == "" {
		return &ValidationError{Reason: "expiryDate is required"}
	}
	if in.ProductionCompany == "" {
		return &ValidationError{Reason: "productionCompany is required"}
	}
	if in.DistributionCompany == "" {
		return &ValidationError{Reason: "distributionCompany is required"}
	}
	return nil
}

func resultLabel(err error) string {
	if errors.Is(err, ledger.ErrAlreadyExists) {
		return "conflict"
	}
	return "error"
}
