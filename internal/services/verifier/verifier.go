package verifier

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/MedLedger/internal/identifier"
	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	"github.com/BearBump/MedLedger/internal/metrics"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetStatus(ctx context.Context, serialNumber string) (*models.CustodyStatus, error)
}

// Verifier периодически перепроверяет целостность леджера: хэш каждой
// записи пересчитывается из её полей, статусная строка проверяется на
// допустимое значение. Леджер неизменяем, поэтому расхождение хэша значит
// либо порчу данных, либо запись, созданную в обход ядра.
type Verifier struct {
	ledger ledger.Client
	repo   Repository

	sweepInterval time.Duration
	concurrency   int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalChecked        atomic.Int64
	totalMismatches     atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(ledgerClient ledger.Client, repo Repository) *Verifier {
	return &Verifier{
		ledger:            ledgerClient,
		repo:              repo,
		sweepInterval:     5 * time.Minute,
		concurrency:       10,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (v *Verifier) WithSettings(sweepInterval time.Duration, concurrency int) *Verifier {
	if sweepInterval > 0 {
		v.sweepInterval = sweepInterval
	}
	if concurrency > 0 {
		v.concurrency = concurrency
	}
	return v
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (v *Verifier) Trigger() {
	v.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case v.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastSweepAt     *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalChecked    int64      `json:"totalChecked"`
	TotalMismatches int64      `json:"totalMismatches"`
	TotalErrors     int64      `json:"totalErrors"`
	InFlight        int64      `json:"inFlight"`
	LastError       string     `json:"lastError,omitempty"`
}

func (v *Verifier) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, v.startedAtUnixNano).UTC(),
		TotalChecked:    v.totalChecked.Load(),
		TotalMismatches: v.totalMismatches.Load(),
		TotalErrors:     v.totalErrors.Load(),
		InFlight:        v.inFlight.Load(),
	}
	if n := v.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := v.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	v.lastErrorMu.Lock()
	st.LastError = v.lastError
	v.lastErrorMu.Unlock()
	return st
}

func (v *Verifier) Run(ctx context.Context) error {
	t := time.NewTicker(v.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			v.Sweep(ctx)
		case <-v.triggerCh:
			v.Sweep(ctx)
		}
	}
}

// Sweep проверяет все записи леджера за один проход.
func (v *Verifier) Sweep(ctx context.Context) {
	v.lastSweepUnixNano.Store(time.Now().UTC().UnixNano())

	recs, err := v.ledger.ListRecords(ctx)
	if err != nil {
		slog.Error("list ledger records", "error", err.Error())
		v.totalErrors.Add(1)
		v.setLastError(err)
		return
	}

	sem := make(chan struct{}, v.concurrency)
	var wg sync.WaitGroup
	for _, rec := range recs {
		sem <- struct{}{}
		wg.Add(1)
		recCopy := rec
		v.inFlight.Add(1)
		go func() {
			defer func() {
				v.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := v.verifyRecord(ctx, recCopy); err != nil {
				v.totalErrors.Add(1)
				v.setLastError(err)
				slog.Error("verify record", "serial_number", recCopy.SerialNumber, "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

// VerifySerial проверяет одну единицу; вызывается консьюмером custody.changed,
// чтобы не ждать планового прохода.
func (v *Verifier) VerifySerial(ctx context.Context, serialNumber string) error {
	rec, err := v.ledger.GetRecord(ctx, serialNumber)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// статус поменялся раньше, чем запись дошла до леджера; проверит плановый проход
			return nil
		}
		v.totalErrors.Add(1)
		v.setLastError(err)
		return err
	}
	if err := v.verifyRecord(ctx, rec); err != nil {
		v.totalErrors.Add(1)
		v.setLastError(err)
		return err
	}
	return nil
}

func (v *Verifier) verifyRecord(ctx context.Context, rec *models.MedicationRecord) error {
	v.totalChecked.Add(1)

	want := identifier.Compute(rec.BatchNumber, rec.ExpiryDate, rec.SerialNumber)
	if rec.IdentifierHash != want {
		v.totalMismatches.Add(1)
		metrics.VerifierChecksTotal.WithLabelValues("hash_mismatch").Inc()
		slog.Error("identifier hash mismatch",
			"serial_number", rec.SerialNumber,
			"stored", rec.IdentifierHash,
			"computed", want)
		return nil
	}

	st, err := v.repo.GetStatus(ctx, rec.SerialNumber)
	if err != nil {
		return errors.Wrap(err, "get custody status")
	}
	// отсутствие строки легально: статус неявно manufactured
	if st != nil && !validStatus(st.Status) {
		v.totalMismatches.Add(1)
		metrics.VerifierChecksTotal.WithLabelValues("bad_status").Inc()
		slog.Error("unknown custody status value",
			"serial_number", rec.SerialNumber,
			"status", st.Status)
		return nil
	}

	metrics.VerifierChecksTotal.WithLabelValues("ok").Inc()
	return nil
}

func (v *Verifier) setLastError(err error) {
	v.lastErrorMu.Lock()
	v.lastError = err.Error()
	v.lastErrorMu.Unlock()
}

func validStatus(s string) bool {
	switch s {
	case models.StatusManufactured, models.StatusReceived, models.StatusArrived:
		return true
	}
	return false
}
