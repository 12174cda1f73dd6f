package models

import "time"

// Статусы кастодиальной цепочки. Единственный допустимый порядок:
// manufactured -> received -> arrived.
const (
	StatusManufactured = "manufactured"
	StatusReceived     = "received"
	StatusArrived      = "arrived"
)

// Роли организаций.
const (
	RoleProduction   = "production"
	RoleDistribution = "distribution"
	RolePharmacy     = "pharmacy"
	RoleClinic       = "clinic"
)

// MedicationRecord — неизменяемая мастер-запись в леджере, ключ — серийный номер.
// После создания запись никогда не мутируется и не удаляется.
type MedicationRecord struct {
	SerialNumber        string
	MedicationName      string
	GTIN                string
	BatchNumber         string
	ExpiryDate          string
	ProductionCompany   string
	DistributionCompany string
	IdentifierHash      string
	CreatedAt           time.Time
}

type MedicationCreateInput struct {
	SerialNumber        string
	MedicationName      string
	GTIN                string
	BatchNumber         string
	ExpiryDate          string
	ProductionCompany   string
	DistributionCompany string
}

// CustodyStatus — изменяемый статус единицы, 1:1 с MedicationRecord.
// Создаётся лениво (manufactured/system) и меняется только через CAS-переходы.
type CustodyStatus struct {
	SerialNumber         string
	Status               string
	UpdatedAt            time.Time
	UpdatedBy            string
	UpdatedByCompanyType string
	UpdatedByCompanyName string
}

// AuditEntry — append-only запись о совершённом переходе.
type AuditEntry struct {
	ID               uint64
	SerialNumber     string
	Action           string
	CreatedAt        time.Time
	ActorUsername    string
	ActorCompanyType string
	ActorCompanyName string
}

// Actor — аутентифицированный вызывающий; ядро получает его готовым
// и само аутентификацией не занимается.
type Actor struct {
	Username       string
	CompanyType    string
	CompanyName    string
	ApprovalStatus string
}

// MergedView — мастер-запись с наложенными статусными полями для чтения.
type MergedView struct {
	MedicationRecord

	Status                     string
	StatusUpdatedAt            *time.Time
	StatusUpdatedBy            string
	StatusUpdatedByCompanyType string
	StatusUpdatedByCompanyName string
}

type BatchOutcome struct {
	SerialNumber string
	Status       string // заполнено при успехе
	Error        string // заполнено при ошибке
}

// BatchResult разбивает вход ровно на два списка:
// len(Succeeded) + len(Failed) == Processed == len(input).
type BatchResult struct {
	Processed int
	Succeeded []BatchOutcome
	Failed    []BatchOutcome
}
