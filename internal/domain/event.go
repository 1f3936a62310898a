package domain

import "time"

// Типы событий стока, публикуемых через transactional outbox.
const (
	EventTypeStockReserved      = "stock.reserved"
	EventTypeStockReleased      = "stock.released"
	EventTypeStockSettled       = "stock.settled"
	EventTypeReservationExpired = "stock.reservation_expired"
)

// StockEventPayload — тело события стока. RevalidatePaths перечисляет пути
// page-cache, которые нужно перечитать; пустой список означает, что видимый
// сток для покупателя не изменился.
type StockEventPayload struct {
	SessionID       string           `json:"sessionId"`
	Operations      []StockOperation `json:"operations"`
	RevalidatePaths []string         `json:"revalidatePaths,omitempty"`
	OccurredAt      time.Time        `json:"occurredAt"`
}
