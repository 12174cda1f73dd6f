package custody

import (
	"fmt"
	"strings"

	"github.com/BearBump/MedLedger/internal/models"
)

// Действия над единицей. Имя перехода совпадает с целевым статусом.
const (
	ActionManufactured = models.StatusManufactured
	ActionReceived     = models.StatusReceived
	ActionArrived      = models.StatusArrived
)

// ExpectedFrom returns the predecessor status a transition requires.
// Only received and arrived are transitions; manufactured is the create action.
func ExpectedFrom(transition string) (string, bool) {
	switch transition {
	case ActionReceived:
		return models.StatusManufactured, true
	case ActionArrived:
		return models.StatusReceived, true
	}
	return "", false
}

// AuthorizerConfig — явная конфигурация вместо чтения окружения из ядра.
// ArrivalRoles по умолчанию pharmacy и clinic.
type AuthorizerConfig struct {
	ArrivalRoles []string
}

// Authorizer маппит роль организации на разрешённые действия по
// фиксированной таблице: manufactured — production,
// received — distribution, arrived — pharmacy|clinic.
type Authorizer struct {
	allowed map[string]map[string]struct{}
}

func NewAuthorizer(cfg AuthorizerConfig) *Authorizer {
	arrival := cfg.ArrivalRoles
	if len(arrival) == 0 {
		arrival = []string{models.RolePharmacy, models.RoleClinic}
	}

	allowed := map[string]map[string]struct{}{
		ActionManufactured: {models.RoleProduction: {}},
		ActionReceived:     {models.RoleDistribution: {}},
		ActionArrived:      {},
	}
	for _, role := range arrival {
		role = normalizeRole(role)
		if role != "" {
			allowed[ActionArrived][role] = struct{}{}
		}
	}
	return &Authorizer{allowed: allowed}
}

func (a *Authorizer) Allowed(companyRole, action string) bool {
	roles, ok := a.allowed[action]
	if !ok {
		return false
	}
	_, ok = roles[normalizeRole(companyRole)]
	return ok
}

// Check возвращает AuthError с объяснением, пригодным для показа вызывающему.
// Пустая роль всегда запрещена: сначала надо заполнить профиль организации.
func (a *Authorizer) Check(companyRole, action string) error {
	if normalizeRole(companyRole) == "" {
		return &AuthError{Reason: "set your company profile before performing this action"}
	}
	if a.Allowed(companyRole, action) {
		return nil
	}
	switch action {
	case ActionManufactured:
		return &AuthError{Reason: "only production companies can add medications"}
	case ActionReceived:
		return &AuthError{Reason: "only distribution companies can mark received"}
	case ActionArrived:
		return &AuthError{Reason: "only pharmacies or clinics can mark arrived"}
	}
	return &AuthError{Reason: fmt.Sprintf("unknown action '%s'", action)}
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
