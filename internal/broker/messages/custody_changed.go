package messages

import "time"

// CustodyChanged публикуется после каждого зафиксированного перехода
// (включая посев manufactured на границе create). Ключ сообщения —
// серийный номер, чтобы события одной единицы шли в одну партицию по порядку.
type CustodyChanged struct {
	SerialNumber string `json:"serial_number"`
	Action       string `json:"action"`
	Status       string `json:"status"`

	ActorUsername    string `json:"actor_username"`
	ActorCompanyType string `json:"actor_company_type"`
	ActorCompanyName string `json:"actor_company_name"`

	OccurredAt time.Time `json:"occurred_at"`
}
