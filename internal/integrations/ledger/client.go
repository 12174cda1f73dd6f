package ledger

import (
	"context"

	"github.com/BearBump/MedLedger/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrAlreadyExists: попытка повторного создания записи с тем же серийным
	// номером. Существующая запись при этом не меняется.
	ErrAlreadyExists = errors.New("medication record already exists")

	// ErrNotFound: записи с таким серийным номером в леджере нет.
	ErrNotFound = errors.New("medication record not found")
)

// Client is the contract of the external ledger service. Per-key semantics are
// create-once and linearizable: among concurrent CreateRecord calls for the
// same serial number exactly one wins, the rest get ErrAlreadyExists.
type Client interface {
	CreateRecord(ctx context.Context, rec models.MedicationRecord) (*models.MedicationRecord, error)
	GetRecord(ctx context.Context, serialNumber string) (*models.MedicationRecord, error)
	// ListRecords returns a full scan; ordering is unspecified.
	ListRecords(ctx context.Context) ([]*models.MedicationRecord, error)
}
