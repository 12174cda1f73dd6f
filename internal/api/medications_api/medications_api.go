package medications_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/MedLedger/internal/api/identity"
	"github.com/BearBump/MedLedger/internal/integrations/ledger"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/BearBump/MedLedger/internal/services/custody"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type RateLimiter interface {
	AllowBatch(ctx context.Context, username, action string, limit int64) (bool, int64, error)
}

type MedicationsAPI struct {
	svc *custody.Service
	ids identity.Resolver

	rl                  RateLimiter // опционально
	batchLimitPerMinute int64
}

func New(svc *custody.Service, ids identity.Resolver) *MedicationsAPI {
	return &MedicationsAPI{svc: svc, ids: ids}
}

func (a *MedicationsAPI) WithRateLimiter(rl RateLimiter, perMinute int64) *MedicationsAPI {
	if rl != nil && perMinute > 0 {
		a.rl = rl
		a.batchLimitPerMinute = perMinute
	}
	return a
}

func (a *MedicationsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.withActor)

	r.Post("/", a.create)
	r.Get("/", a.getAll)
	r.Get("/by-hash/{hash}", a.getByHash)

	r.Post("/batch/received", a.batchTransition(custody.ActionReceived))
	r.Post("/batch/arrived", a.batchTransition(custody.ActionArrived))

	r.Get("/{id}", a.getOne)
	r.Get("/{id}/audit", a.getAudit)
	r.Post("/{id}/received", a.transition(custody.ActionReceived))
	r.Post("/{id}/arrived", a.transition(custody.ActionArrived))

	return r
}

type ctxKey int

const actorKey ctxKey = 0

// withActor аутентифицирует по X-Api-Key и кладёт актора в контекст.
// Неподтверждённые аккаунты дальше миддлвари не проходят.
func (a *MedicationsAPI) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Api-Key header")
			return
		}
		actor, err := a.ids.Resolve(key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		if actor.ApprovalStatus != "" && actor.ApprovalStatus != "approved" {
			writeError(w, http.StatusForbidden, "your account is pending approval")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(r *http.Request) models.Actor {
	a, _ := r.Context().Value(actorKey).(models.Actor)
	return a
}

type createRequest struct {
	SerialNumber        string `json:"serialNumber"`
	MedicationName      string `json:"medicationName"`
	GTIN                string `json:"gtin"`
	BatchNumber         string `json:"batchNumber"`
	ExpiryDate          string `json:"expiryDate"`
	ProductionCompany   string `json:"productionCompany"`
	DistributionCompany string `json:"distributionCompany"`
}

func (a *MedicationsAPI) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := a.svc.Create(r.Context(), models.MedicationCreateInput{
		SerialNumber:        req.SerialNumber,
		MedicationName:      req.MedicationName,
		GTIN:                req.GTIN,
		BatchNumber:         req.BatchNumber,
		ExpiryDate:          req.ExpiryDate,
		ProductionCompany:   req.ProductionCompany,
		DistributionCompany: req.DistributionCompany,
	}, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     res.ID,
		"qrHash": res.IdentifierHash,
	})
}

func (a *MedicationsAPI) transition(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := a.svc.TransitionOne(r.Context(), chi.URLParam(r, "id"), action, actorFrom(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": st.Status})
	}
}

type batchRequest struct {
	SerialNumbers []string `json:"serialNumbers"`
}

func (a *MedicationsAPI) batchTransition(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)

		if a.rl != nil {
			allowed, n, err := a.rl.AllowBatch(r.Context(), actor.Username, action, a.batchLimitPerMinute)
			if err != nil {
				// лимитер лёг, пропускаем: батчи важнее счётчиков
				slog.Error("batch rate limiter", "error", err.Error())
			} else if !allowed {
				slog.Warn("batch rate limit exceeded", "username", actor.Username, "action", action, "count", n)
				writeError(w, http.StatusTooManyRequests, "too many batch requests, retry later")
				return
			}
		}

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}

		res, err := a.svc.TransitionBatch(r.Context(), req.SerialNumbers, action, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		succeeded := make([]map[string]any, 0, len(res.Succeeded))
		for _, o := range res.Succeeded {
			succeeded = append(succeeded, map[string]any{"serialNumber": o.SerialNumber, "status": o.Status})
		}
		failed := make([]map[string]any, 0, len(res.Failed))
		for _, o := range res.Failed {
			failed = append(failed, map[string]any{"serialNumber": o.SerialNumber, "error": o.Error})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"processed": res.Processed,
			"succeeded": succeeded,
			"failed":    failed,
		})
	}
}

func (a *MedicationsAPI) getAll(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.GetAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]*medicationView, 0, len(views))
	for _, v := range views {
		out = append(out, toView(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"medications": out})
}

func (a *MedicationsAPI) getOne(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.GetOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(v))
}

func (a *MedicationsAPI) getByHash(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.GetByHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(v))
}

func (a *MedicationsAPI) getAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.GetAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"action":           e.Action,
			"createdAt":        e.CreatedAt,
			"actorUsername":    e.ActorUsername,
			"actorCompanyType": e.ActorCompanyType,
			"actorCompanyName": e.ActorCompanyName,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": out})
}

type medicationView struct {
	SerialNumber        string    `json:"serialNumber"`
	MedicationName      string    `json:"medicationName"`
	GTIN                string    `json:"gtin"`
	BatchNumber         string    `json:"batchNumber"`
	ExpiryDate          string    `json:"expiryDate"`
	ProductionCompany   string    `json:"productionCompany"`
	DistributionCompany string    `json:"distributionCompany"`
	QRHash              string    `json:"qrHash"`
	CreatedAt           time.Time `json:"createdAt"`

	Status                     string     `json:"status"`
	StatusUpdatedAt            *time.Time `json:"statusUpdatedAt,omitempty"`
	StatusUpdatedBy            string     `json:"statusUpdatedBy,omitempty"`
	StatusUpdatedByCompanyType string     `json:"statusUpdatedByCompanyType,omitempty"`
	StatusUpdatedByCompanyName string     `json:"statusUpdatedByCompanyName,omitempty"`
}

func toView(v *models.MergedView) *medicationView {
	return &medicationView{
		SerialNumber:        v.SerialNumber,
		MedicationName:      v.MedicationName,
		GTIN:                v.GTIN,
		BatchNumber:         v.BatchNumber,
		ExpiryDate:          v.ExpiryDate,
		ProductionCompany:   v.ProductionCompany,
		DistributionCompany: v.DistributionCompany,
		QRHash:              v.IdentifierHash,
		CreatedAt:           v.CreatedAt,

		Status:                     v.Status,
		StatusUpdatedAt:            v.StatusUpdatedAt,
		StatusUpdatedBy:            v.StatusUpdatedBy,
		StatusUpdatedByCompanyType: v.StatusUpdatedByCompanyType,
		StatusUpdatedByCompanyName: v.StatusUpdatedByCompanyName,
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var (
		ve *custody.ValidationError
		ae *custody.AuthError
		ce *custody.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Reason)
	case errors.As(err, &ae):
		writeError(w, http.StatusForbidden, ae.Reason)
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Error())
	case errors.Is(err, ledger.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "medication with this serial number already exists")
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "medication not found")
	default:
		slog.Error("medications api", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
