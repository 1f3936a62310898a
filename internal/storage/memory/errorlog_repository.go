package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

type errorLogRepositoryInMemory struct {
	mu      sync.RWMutex
	entries []domain.ErrorLogEntry
}

// NewErrorLogRepository создаёт in-memory реализацию ErrorLogRepository.
func NewErrorLogRepository() domain.ErrorLogRepository {
	return &errorLogRepositoryInMemory{}
}

func (r *errorLogRepositoryInMemory) Append(entry domain.ErrorLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.entries = append(r.entries, entry)
	return nil
}

func (r *errorLogRepositoryInMemory) CountSince(class domain.ErrorClass, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.entries {
		if entry.Class == class && entry.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (r *errorLogRepositoryInMemory) ListRecent(limit int) ([]domain.ErrorLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}

	result := make([]domain.ErrorLogEntry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, r.entries[i])
	}
	return result, nil
}

var _ domain.ErrorLogRepository = (*errorLogRepositoryInMemory)(nil)
