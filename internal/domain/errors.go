package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора товара в операции.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка при некорректном количестве в операции (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка отсутствующего идентификатора checkout-сессии.
	ErrSessionIDRequired = errors.New("session_id is required")
	// Ошибка отсутствия хотя бы одной операции в запросе.
	ErrOperationsRequired = errors.New("at least one stock operation is required")
	// ErrProductNotFound возвращается, если товар не найден в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrVariantNotFound возвращается, если у товара нет варианта с таким размером.
	ErrVariantNotFound = errors.New("product variant not found")
	// ErrInsufficientStock — бизнес-ошибка: запрошено больше, чем доступно.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStoreTransaction — временная ошибка транзакции хранилища, можно повторить попытку.
	ErrStoreTransaction = errors.New("store transaction failed")
	// ErrReservationNotFound возвращается, если ledger-запись по сессии отсутствует.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrReservationExists возвращается при повторном создании ledger-записи для той же сессии.
	ErrReservationExists = errors.New("reservation already exists")
	// ErrIdempotencyKeyRequired — ключ идемпотентности не задан.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyNotFound — запись по ключу идемпотентности отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — событие с таким ключом уже обрабатывалось.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrDuplicateEvent — событие провайдера уже обработано, повтор игнорируется.
	ErrDuplicateEvent = errors.New("duplicate payment event")
	// ErrSignatureInvalid — подпись webhook-события не прошла проверку.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrLedgerWrite — запись в ledger не удалась; не фатально для родительской операции.
	ErrLedgerWrite = errors.New("ledger write failed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrRateLimited — клиент превысил квоту на инициацию checkout.
	ErrRateLimited = errors.New("checkout rate limit exceeded")
)

// IsNotFound проверяет, относится ли ошибка к отсутствующим данным (400/404-класс).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsTransient проверяет, является ли ошибка временной и имеет ли смысл retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreTransaction)
}
