package custody

import "fmt"

// ValidationError: вход отклонён до обращения к хранилищам, без побочных эффектов.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// AuthError: роль актора не даёт права на операцию; мутаций не было.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// ConflictError: предикат перехода не выполнился. Current — фактический
// статус на момент CAS; конфликт никогда не ретраится молча.
type ConflictError struct {
	Transition string
	Current    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot mark %s from status '%s'", e.Transition, e.Current)
}

// ErrBadHashFormat возвращается до любого обращения к леджеру.
var ErrBadHashFormat = &ValidationError{Reason: "hash must be exactly 64 hex characters"}
