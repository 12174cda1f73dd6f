package fake

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	"github.com/BearBump/MedLedger/internal/models"
)

// Client — in-memory леджер для тестов и локального запуска без внешнего
// gateway. Повторяет контракт: create-once на ключ, полный скан без порядка.
// Счётчики вызовов позволяют проверять, что чтения не трогают стор зря.
type Client struct {
	mu      sync.Mutex
	records map[string]models.MedicationRecord

	createCalls int
	getCalls    int
	listCalls   int

	// Если заданы, соответствующий вызов возвращает эту ошибку (эмуляция
	// недоступности леджера).
	CreateErr error
	GetErr    error
	ListErr   error
}

func New() *Client {
	return &Client{records: map[string]models.MedicationRecord{}}
}

func (c *Client) CreateRecord(ctx context.Context, rec models.MedicationRecord) (*models.MedicationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++

	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	if _, ok := c.records[rec.SerialNumber]; ok {
		return nil, ledger.ErrAlreadyExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	c.records[rec.SerialNumber] = rec
	out := rec
	return &out, nil
}

func (c *Client) GetRecord(ctx context.Context, serialNumber string) (*models.MedicationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++

	if c.GetErr != nil {
		return nil, c.GetErr
	}
	rec, ok := c.records[serialNumber]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (c *Client) ListRecords(ctx context.Context) ([]*models.MedicationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++

	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make([]*models.MedicationRecord, 0, len(c.records))
	for _, rec := range c.records {
		r := rec
		out = append(out, &r)
	}
	return out, nil
}

// Calls returns (create, get, list) call counts.
func (c *Client) Calls() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createCalls, c.getCalls, c.listCalls
}
