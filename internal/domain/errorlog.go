package domain

import "time"

// ErrorClass классифицирует записи журнала ошибок.
type ErrorClass string

const (
	// ErrorClassInsufficientStock — отказ по бизнес-правилу: не хватает стока.
	ErrorClassInsufficientStock ErrorClass = "insufficient_stock"
	// ErrorClassNotFound — некорректный вход: товар/вариант/резерв не найден.
	ErrorClassNotFound ErrorClass = "not_found"
	// ErrorClassStoreTransaction — временная ошибка транзакции хранилища.
	ErrorClassStoreTransaction ErrorClass = "store_transaction_failure"
	// ErrorClassLedgerWrite — неуспешная запись в ledger (нефатальная).
	ErrorClassLedgerWrite ErrorClass = "ledger_write_failure"
	// ErrorClassSignatureInvalid — webhook с неверной подписью.
	ErrorClassSignatureInvalid ErrorClass = "signature_invalid"
	// ErrorClassDuplicateEvent — повторное платёжное событие (no-op).
	ErrorClassDuplicateEvent ErrorClass = "duplicate_event"
	// ErrorClassInvariantViolation — нарушение инварианта стока, найденное монитором.
	ErrorClassInvariantViolation ErrorClass = "invariant_violation"
)

// Severity задаёт важность записи журнала.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorLogEntry — append-only запись журнала ошибок. Журнал читают
// Consistency Monitor и ops-инструменты; логика резервирования
// на него не опирается.
type ErrorLogEntry struct {
	ID        string
	Class     ErrorClass
	Severity  Severity
	Message   string
	SessionID string
	ProductID string
	CreatedAt time.Time
}
