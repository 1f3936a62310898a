package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

type reservationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Reservation
}

// NewReservationRepository создаёт in-memory реализацию ReservationRepository.
func NewReservationRepository() *reservationRepositoryInMemory {
	return &reservationRepositoryInMemory{items: make(map[string]domain.Reservation)}
}

func (r *reservationRepositoryInMemory) Create(reservation domain.Reservation) error {
	if errs := reservation.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[reservation.SessionID]; ok {
		return domain.ErrReservationExists
	}

	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}
	r.items[reservation.SessionID] = cloneReservation(reservation)
	return nil
}

func (r *reservationRepositoryInMemory) Get(sessionID string) (domain.Reservation, error) {
	if sessionID == "" {
		return domain.Reservation{}, domain.ErrSessionIDRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	reservation, ok := r.items[sessionID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return cloneReservation(reservation), nil
}

func (r *reservationRepositoryInMemory) Delete(sessionID string) error {
	if sessionID == "" {
		return domain.ErrSessionIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, sessionID)
	return nil
}

func (r *reservationRepositoryInMemory) ListExpired(before time.Time, limit int) ([]domain.Reservation, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Reservation, 0)
	for _, reservation := range r.items {
		if reservation.ExpiresAt.Before(before) {
			result = append(result, cloneReservation(reservation))
		}
	}

	// Старые первыми, чтобы sweeper разбирал очередь в порядке истечения.
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneReservation(src domain.Reservation) domain.Reservation {
	dst := src
	dst.Operations = append([]domain.StockOperation(nil), src.Operations...)
	return dst
}

var _ domain.ReservationRepository = (*reservationRepositoryInMemory)(nil)
