package webhook

import "sync"

// seenSet — ограниченное множество уже виденных id событий, FIFO-вытеснение.
// Быстрый первый слой дедупликации; переживать рестарт процесса не обязан,
// корректность обеспечивают персистентные слои.
type seenSet struct {
	mu    sync.Mutex
	limit int
	order []string
	items map[string]struct{}
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{
		limit: limit,
		items: make(map[string]struct{}, limit),
	}
}

func (s *seenSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

func (s *seenSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; ok {
		return
	}

	if len(s.order) >= s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}

	s.items[id] = struct{}{}
	s.order = append(s.order, id)
}
