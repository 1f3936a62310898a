package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultLimit  = 5
	defaultWindow = time.Minute
)

// Options задает параметры Limiter.
type Options struct {
	Limit  int
	Window time.Duration
	Clock  func() time.Time
}

// Option настраивает Limiter.
type Option func(*Options)

// WithLimit задает квоту запросов в пределах окна.
func WithLimit(limit int) Option {
	return func(opts *Options) {
		opts.Limit = limit
	}
}

// WithWindow задает длину скользящего окна.
func WithWindow(window time.Duration) Option {
	return func(opts *Options) {
		opts.Window = window
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Limiter ограничивает частоту инициации checkout по идентификатору
// клиента скользящим окном. Успешное завершение checkout возвращает
// одну единицу квоты через Refund, так что честные покупатели не
// упираются в лимит, рассчитанный на защиту от перебора резервов.
type Limiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clock     func() time.Time
	clients   map[string][]time.Time
	lastSweep time.Time
}

// New создает Limiter с квотой 5 запросов в минуту по умолчанию.
func New(options ...Option) *Limiter {
	opts := Options{
		Limit:  defaultLimit,
		Window: defaultWindow,
		Clock:  time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Limiter{
		limit:   opts.Limit,
		window:  opts.Window,
		clock:   opts.Clock,
		clients: make(map[string][]time.Time),
	}
}

// Allow регистрирует попытку клиента и сообщает, укладывается ли она
// в квоту. Отклоненные попытки квоту не расходуют.
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	l.sweepStale(now)
	usage := l.prune(clientID, now)

	if len(usage) >= l.limit {
		l.clients[clientID] = usage
		return false
	}

	l.clients[clientID] = append(usage, now)
	return true
}

// Refund возвращает одну единицу квоты после успешного завершения
// checkout. Вызов без предшествующего Allow — no-op.
func (l *Limiter) Refund(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := l.prune(clientID, l.clock())
	if len(usage) == 0 {
		delete(l.clients, clientID)
		return
	}

	// Снимаем самую свежую отметку: именно она соответствует
	// только что завершенному checkout.
	usage = usage[:len(usage)-1]
	if len(usage) == 0 {
		delete(l.clients, clientID)
		return
	}
	l.clients[clientID] = usage
}

// Remaining возвращает остаток квоты клиента в текущем окне.
func (l *Limiter) Remaining(clientID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := l.prune(clientID, l.clock())
	if len(usage) == 0 {
		delete(l.clients, clientID)
	} else {
		l.clients[clientID] = usage
	}

	remaining := l.limit - len(usage)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TrackedClients возвращает число клиентов с живыми отметками в карте.
func (l *Limiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// sweepStale удаляет клиентов, чьи отметки целиком вышли из окна. Без
// этого карта растет по числу когда-либо виденных client id: prune
// чистит только запрошенный ключ. Запускается не чаще раза за окно;
// вызывается под мьютексом.
func (l *Limiter) sweepStale(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-l.window)
	for clientID, usage := range l.clients {
		stale := true
		for _, ts := range usage {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.clients, clientID)
		}
	}
}

// prune отбрасывает отметки старше окна; вызывается под мьютексом.
func (l *Limiter) prune(clientID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	usage := l.clients[clientID]

	kept := usage[:0]
	for _, ts := range usage {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
