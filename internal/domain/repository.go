package domain

import "time"

// StockPatch — атомарный числовой инкремент полей стока одного товара
// (одного варианта, если задан Size). Инкременты применяются на стороне
// хранилища, а не через read-modify-write в приложении.
type StockPatch struct {
	ProductID     string
	Size          string
	StockDelta    int
	ReservedDelta int
}

// ProductRepository описывает требования к хранилищу товаров.
type ProductRepository interface {
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(id string) (Product, error)
	// List возвращает все товары; используется монитором консистентности.
	List() ([]Product, error)
	// ApplyStockPatches применяет набор патчей как одну all-or-nothing
	// транзакцию. Отсутствующий товар/вариант проваливает всю партию
	// с ErrProductNotFound/ErrVariantNotFound; временные сбои
	// оборачиваются в ErrStoreTransaction.
	ApplyStockPatches(patches []StockPatch) error
}

// ReservationRepository хранит ledger-записи резервов.
type ReservationRepository interface {
	// Create сохраняет новую запись; ErrReservationExists при повторе сессии.
	Create(reservation Reservation) error
	// Get возвращает запись по checkout-сессии или ErrReservationNotFound.
	Get(sessionID string) (Reservation, error)
	// Delete удаляет запись; отсутствие записи — не ошибка.
	Delete(sessionID string) error
	// ListExpired возвращает до limit записей с expires_at < before.
	ListExpired(before time.Time, limit int) ([]Reservation, error)
}

// IdempotencyRepository хранит состояние обработки платёжных событий.
type IdempotencyRepository interface {
	// CreateProcessing регистрирует ключ; ErrIdempotencyKeyAlreadyExists,
	// если событие уже встречалось.
	CreateProcessing(key string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, result []byte) error
	MarkFailed(key string, result []byte) error
	// DeleteExpired удаляет до limit записей с ttl <= before.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// ErrorLogRepository — append-only журнал ошибок.
type ErrorLogRepository interface {
	Append(entry ErrorLogEntry) error
	// CountSince возвращает число записей класса class, созданных после since.
	CountSince(class ErrorClass, since time.Time) (int, error)
	// ListRecent возвращает до limit последних записей, новые первыми.
	ListRecent(limit int) ([]ErrorLogEntry, error)
}
