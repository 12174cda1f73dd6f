package custody

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/MedLedger/internal/identifier"
	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	ledgerfake "github.com/BearBump/MedLedger/internal/integrations/ledger/fake"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/BearBump/MedLedger/internal/storage/pgcustody"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// fakeRepo — in-memory реализация Repository с той же CAS-семантикой,
// что и pgcustody.
type fakeRepo struct {
	mu       sync.Mutex
	statuses map[string]*models.CustodyStatus
	audits   map[string][]*models.AuditEntry

	ensureErr     error
	transitionErr error
	auditErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		statuses: map[string]*models.CustodyStatus{},
		audits:   map[string][]*models.AuditEntry{},
	}
}

func (f *fakeRepo) EnsureStatus(ctx context.Context, serialNumber string) (*models.CustodyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	if st, ok := f.statuses[serialNumber]; ok {
		cp := *st
		return &cp, nil
	}
	st := &models.CustodyStatus{
		SerialNumber: serialNumber,
		Status:       models.StatusManufactured,
		UpdatedAt:    time.Now().UTC(),
		UpdatedBy:    "system",
	}
	f.statuses[serialNumber] = st
	cp := *st
	return &cp, nil
}

func (f *fakeRepo) SeedStatus(ctx context.Context, serialNumber string, actor models.Actor) (*models.CustodyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.statuses[serialNumber]; ok && existing.Status != models.StatusManufactured {
		cp := *existing
		return &cp, nil
	}
	st := &models.CustodyStatus{
		SerialNumber:         serialNumber,
		Status:               models.StatusManufactured,
		UpdatedAt:            time.Now().UTC(),
		UpdatedBy:            actor.Username,
		UpdatedByCompanyType: actor.CompanyType,
		UpdatedByCompanyName: actor.CompanyName,
	}
	f.statuses[serialNumber] = st
	cp := *st
	return &cp, nil
}

func (f *fakeRepo) TransitionStatus(ctx context.Context, serialNumber, expected, next string, actor models.Actor) (*models.CustodyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return nil, f.transitionErr
	}
	st, ok := f.statuses[serialNumber]
	if !ok {
		return nil, errors.Errorf("custody status for %s not found", serialNumber)
	}
	if st.Status != expected {
		return nil, &pgcustody.ConflictError{SerialNumber: serialNumber, Expected: expected, Actual: st.Status}
	}
	st.Status = next
	st.UpdatedAt = time.Now().UTC()
	st.UpdatedBy = actor.Username
	st.UpdatedByCompanyType = actor.CompanyType
	st.UpdatedByCompanyName = actor.CompanyName
	cp := *st
	return &cp, nil
}

func (f *fakeRepo) GetStatus(ctx context.Context, serialNumber string) (*models.CustodyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[serialNumber]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (f *fakeRepo) GetStatuses(ctx context.Context, serialNumbers []string) ([]*models.CustodyStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.CustodyStatus, 0, len(serialNumbers))
	for _, sn := range serialNumbers {
		if st, ok := f.statuses[sn]; ok {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendAudit(ctx context.Context, serialNumber, action string, actor models.Actor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits[serialNumber] = append(f.audits[serialNumber], &models.AuditEntry{
		SerialNumber:     serialNumber,
		Action:           action,
		CreatedAt:        time.Now().UTC(),
		ActorUsername:    actor.Username,
		ActorCompanyType: actor.CompanyType,
		ActorCompanyName: actor.CompanyName,
	})
	return nil
}

func (f *fakeRepo) ListAudit(ctx context.Context, serialNumber string) ([]*models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.AuditEntry{}, f.audits[serialNumber]...), nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published [][]byte
	err       error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, value)
	return nil
}

var (
	producer    = models.Actor{Username: "prod-1", CompanyType: models.RoleProduction, CompanyName: "Acme Pharma"}
	distributor = models.Actor{Username: "dist-1", CompanyType: models.RoleDistribution, CompanyName: "Acme Dist"}
	pharmacist  = models.Actor{Username: "ph-1", CompanyType: models.RolePharmacy, CompanyName: "City Pharmacy"}
	profileless = models.Actor{Username: "new-1"}
)

func validInput(serial string) models.MedicationCreateInput {
	return models.MedicationCreateInput{
		SerialNumber:        serial,
		MedicationName:      "Aspirin",
		GTIN:                "G1",
		BatchNumber:         "BATCH-A",
		ExpiryDate:          "2030-01-01",
		ProductionCompany:   "Acme Pharma",
		DistributionCompany: "Acme Dist",
	}
}

type ServiceSuite struct {
	suite.Suite

	ledger *ledgerfake.Client
	repo   *fakeRepo
	svc    *Service
}

func (s *ServiceSuite) SetupTest() {
	s.ledger = ledgerfake.New()
	s.repo = newFakeRepo()
	s.svc = New(s.ledger, s.repo, NewAuthorizer(AuthorizerConfig{}))
}

func (s *ServiceSuite) TestCreate_Success() {
	res, err := s.svc.Create(context.Background(), validInput("SN-1"), producer)
	s.Require().NoError(err)
	s.Require().Equal("SN-1", res.ID)
	s.Require().Equal(identifier.Compute("BATCH-A", "2030-01-01", "SN-1"), res.IdentifierHash)

	rec, err := s.ledger.GetRecord(context.Background(), "SN-1")
	s.Require().NoError(err)
	s.Require().Equal(res.IdentifierHash, rec.IdentifierHash)

	st, err := s.repo.GetStatus(context.Background(), "SN-1")
	s.Require().NoError(err)
	s.Require().Equal(models.StatusManufactured, st.Status)
	s.Require().Equal("prod-1", st.UpdatedBy)

	audit, err := s.repo.ListAudit(context.Background(), "SN-1")
	s.Require().NoError(err)
	s.Require().Len(audit, 1)
	s.Require().Equal(models.StatusManufactured, audit[0].Action)
}

func (s *ServiceSuite) TestCreate_ValidationBeforeStores() {
	in := validInput("SN-1")
	in.GTIN = ""
	_, err := s.svc.Create(context.Background(), in, producer)
	var ve *ValidationError
	s.Require().ErrorAs(err, &ve)

	creates, _, _ := s.ledger.Calls()
	s.Require().Zero(creates)
}

func (s *ServiceSuite) TestCreate_RoleDenied() {
	_, err := s.svc.Create(context.Background(), validInput("SN-1"), distributor)
	var ae *AuthError
	s.Require().ErrorAs(err, &ae)

	_, err = s.svc.Create(context.Background(), validInput("SN-1"), profileless)
	s.Require().ErrorAs(err, &ae)
	s.Require().Contains(ae.Reason, "company profile")

	creates, _, _ := s.ledger.Calls()
	s.Require().Zero(creates)
}

func (s *ServiceSuite) TestCreate_DuplicateSerial() {
	_, err := s.svc.Create(context.Background(), validInput("SN-1"), producer)
	s.Require().NoError(err)

	_, err = s.svc.Create(context.Background(), validInput("SN-1"), producer)
	s.Require().ErrorIs(err, ledger.ErrAlreadyExists)

	// повторная попытка не трогает ни статус, ни аудит
	audit, _ := s.repo.ListAudit(context.Background(), "SN-1")
	s.Require().Len(audit, 1)
}

func (s *ServiceSuite) TestTransitionOne_HappyChain() {
	_, err := s.svc.Create(context.Background(), validInput("SN-1"), producer)
	s.Require().NoError(err)

	st, err := s.svc.TransitionOne(context.Background(), "SN-1", ActionReceived, distributor)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusReceived, st.Status)

	st, err = s.svc.TransitionOne(context.Background(), "SN-1", ActionArrived, pharmacist)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusArrived, st.Status)

	audit, err := s.svc.GetAudit(context.Background(), "SN-1")
	s.Require().NoError(err)
	s.Require().Len(audit, 3)
	s.Require().Equal(models.StatusManufactured, audit[0].Action)
	s.Require().Equal(models.StatusReceived, audit[1].Action)
	s.Require().Equal(models.StatusArrived, audit[2].Action)
}

func (s *ServiceSuite) TestTransitionOne_RepeatIsConflictWithActual() {
	_, err := s.svc.TransitionOne(context.Background(), "SN-1", ActionReceived, distributor)
	s.Require().NoError(err)

	_, err = s.svc.TransitionOne(context.Background(), "SN-1", ActionReceived, distributor)
	var ce *ConflictError
	s.Require().ErrorAs(err, &ce)
	s.Require().Equal(models.StatusReceived, ce.Current)

	// второй аудит не появился
	audit, _ := s.repo.ListAudit(context.Background(), "SN-1")
	s.Require().Len(audit, 1)
}

func (s *ServiceSuite) TestTransitionOne_NoSkipAhead() {
	// arrived сразу из manufactured невозможен
	_, err := s.svc.TransitionOne(context.Background(), "SN-1", ActionArrived, pharmacist)
	var ce *ConflictError
	s.Require().ErrorAs(err, &ce)
	s.Require().Equal(models.StatusManufactured, ce.Current)
}

func (s *ServiceSuite) TestTransitionOne_RoleDenied() {
	_, err := s.svc.TransitionOne(context.Background(), "SN-1", ActionReceived, pharmacist)
	var ae *AuthError
	s.Require().ErrorAs(err, &ae)

	// отказ по роли — до каких-либо мутаций
	st, _ := s.repo.GetStatus(context.Background(), "SN-1")
	s.Require().Nil(st)
}

func (s *ServiceSuite) TestTransitionOne_LazySeedOnFirstReference() {
	// записи в леджере нет, но статусная строка сеется лениво
	st, err := s.svc.TransitionOne(context.Background(), "SN-UNSEEN", ActionReceived, distributor)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusReceived, st.Status)
}

func (s *ServiceSuite) TestTransitionOne_ValidationErrors() {
	_, err := s.svc.TransitionOne(context.Background(), "  ", ActionReceived, distributor)
	var ve *ValidationError
	s.Require().ErrorAs(err, &ve)

	_, err = s.svc.TransitionOne(context.Background(), "SN-1", "destroyed", distributor)
	s.Require().ErrorAs(err, &ve)
}

func (s *ServiceSuite) TestTransitionOne_PublishesEvent() {
	p := &fakeProducer{}
	svc := New(s.ledger, s.repo, NewAuthorizer(AuthorizerConfig{})).WithProducer(p, "custody.changed")

	_, err := svc.TransitionOne(context.Background(), "SN-1", ActionReceived, distributor)
	s.Require().NoError(err)
	s.Require().Len(p.published, 1)
	s.Require().Contains(string(p.published[0]), `"serial_number":"SN-1"`)
	s.Require().Contains(string(p.published[0]), `"status":"received"`)
}

func (s *ServiceSuite) TestTransitionOne_PublishFailureDoesNotFail() {
	p := &fakeProducer{err: errors.New("kafka down")}
	svc := New(s.ledger, s.repo, NewAuthorizer(AuthorizerConfig{})).WithProducer(p, "custody.changed")

	st, err := svc.TransitionOne(context.Background(), "SN-1", ActionReceived, distributor)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusReceived, st.Status)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
