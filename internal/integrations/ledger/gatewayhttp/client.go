package gatewayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/pkg/errors"
)

// Client ходит в REST-мост перед леджером (fabric gateway bridge).
// Контракт create-once обеспечивает сам леджер; клиент только маппит
// HTTP-статусы на ошибки контракта.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9200"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Wire-формат моста. Поле идентификатора исторически называется qrHash:
// так его пишет chaincode, и так его ждут сканирующие клиенты.
type recordBody struct {
	SerialNumber        string    `json:"serialNumber"`
	MedicationName      string    `json:"medicationName"`
	GTIN                string    `json:"gtin"`
	BatchNumber         string    `json:"batchNumber"`
	ExpiryDate          string    `json:"expiryDate"`
	ProductionCompany   string    `json:"productionCompany"`
	DistributionCompany string    `json:"distributionCompany"`
	QRHash              string    `json:"qrHash"`
	CreatedAt           time.Time `json:"createdAt"`
}

func toBody(rec models.MedicationRecord) recordBody {
	return recordBody{
		SerialNumber:        rec.SerialNumber,
		MedicationName:      rec.MedicationName,
		GTIN:                rec.GTIN,
		BatchNumber:         rec.BatchNumber,
		ExpiryDate:          rec.ExpiryDate,
		ProductionCompany:   rec.ProductionCompany,
		DistributionCompany: rec.DistributionCompany,
		QRHash:              rec.IdentifierHash,
		CreatedAt:           rec.CreatedAt,
	}
}

func (b recordBody) toModel() *models.MedicationRecord {
	return &models.MedicationRecord{
		SerialNumber:        b.SerialNumber,
		MedicationName:      b.MedicationName,
		GTIN:                b.GTIN,
		BatchNumber:         b.BatchNumber,
		ExpiryDate:          b.ExpiryDate,
		ProductionCompany:   b.ProductionCompany,
		DistributionCompany: b.DistributionCompany,
		IdentifierHash:      b.QRHash,
		CreatedAt:           b.CreatedAt,
	}
}

func (c *Client) CreateRecord(ctx context.Context, rec models.MedicationRecord) (*models.MedicationRecord, error) {
	u, err := c.endpoint("/v1/records")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(toBody(rec))
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, ledger.ErrAlreadyExists
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ledger gateway http %d", resp.StatusCode)
	}

	var body recordBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	return body.toModel(), nil
}

func (c *Client) GetRecord(ctx context.Context, serialNumber string) (*models.MedicationRecord, error) {
	u, err := c.endpoint("/v1/records/" + url.PathEscape(serialNumber))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ledger.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ledger gateway http %d", resp.StatusCode)
	}

	var body recordBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	return body.toModel(), nil
}

func (c *Client) ListRecords(ctx context.Context) ([]*models.MedicationRecord, error) {
	u, err := c.endpoint("/v1/records")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ledger gateway http %d", resp.StatusCode)
	}

	var bodies []recordBody
	if err := json.NewDecoder(resp.Body).Decode(&bodies); err != nil {
		return nil, errors.Wrap(err, "decode records")
	}
	out := make([]*models.MedicationRecord, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, b.toModel())
	}
	return out, nil
}

// endpoint сохраняет префикс пути базового URL: мост может жить не в корне.
func (c *Client) endpoint(path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.baseURL, "/") + path)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("apiKey", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
