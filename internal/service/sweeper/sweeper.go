package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

const (
	defaultSweepInterval = 15 * time.Minute
	defaultSweepBatch    = 100
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sweep_runs_total",
		Help: "Total number of expired-reservation sweep runs grouped by result.",
	}, []string{"result"})
	sweepReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_sweep_released_total",
		Help: "Total number of expired reservations released by the sweeper.",
	})
	sweepLastReleased = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stock_sweep_last_released",
		Help: "Number of reservations released during the last sweep run.",
	})
)

// StockReleaser — срез движка, нужный sweeper'у.
type StockReleaser interface {
	Release(ctx context.Context, operations []domain.StockOperation) domain.OperationResult
}

// Options задаёт параметры sweeper'а.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Outbox    domain.OutboxRepository
	Products  domain.ProductRepository
}

// Option настраивает Sweeper.
type Option func(*Options)

// WithLogger задаёт logger для sweeper'а.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер batch для одного прохода.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithOutbox включает публикацию событий об истёкших резервах: уборка
// поднимает видимый сток, и page-cache должен об этом узнать. products
// нужен для резолва слагов в revalidate-пути.
func WithOutbox(outbox domain.OutboxRepository, products domain.ProductRepository) Option {
	return func(opts *Options) {
		opts.Outbox = outbox
		opts.Products = products
	}
}

// Sweeper периодически находит истёкшие ledger-записи, снимает их холды
// и удаляет записи. Backstop на случай потери webhook или падения процесса;
// безопасен при параллельном запуске с самим собой и с обычным трафиком —
// повторный release уже снятого холда не падает, аномалию поймает монитор.
type Sweeper struct {
	reservations domain.ReservationRepository
	releaser     StockReleaser
	outbox       domain.OutboxRepository
	products     domain.ProductRepository
	logger       *log.Entry
	interval     time.Duration
	batchSize    int
}

// New создаёт sweeper истёкших резервов.
func New(reservations domain.ReservationRepository, releaser StockReleaser, options ...Option) *Sweeper {
	opts := Options{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatch,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}

	return &Sweeper{
		reservations: reservations,
		releaser:     releaser,
		outbox:       opts.Outbox,
		products:     opts.Products,
		logger:       logger,
		interval:     opts.Interval,
		batchSize:    opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.reservations == nil || s.releaser == nil {
		s.logger.Warn("reservation sweeper is disabled: dependencies are nil")
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	released, err := s.CleanupExpired(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("reservation sweep run failed")
		return
	}

	sweepRunsTotal.WithLabelValues("ok").Inc()
	sweepLastReleased.Set(float64(released))
	if released > 0 {
		s.logger.WithField("released", released).Info("expired reservations cleaned up")
	}
}

// CleanupExpired выполняет один идемпотентный проход: находит истёкшие
// записи порциями batchSize, снимает холды и удаляет записи. Запись,
// чей release не удался, остаётся в ledger до следующего прохода.
func (s *Sweeper) CleanupExpired(ctx context.Context) (int, error) {
	released := 0

	for {
		if err := ctx.Err(); err != nil {
			return released, err
		}

		expired, err := s.reservations.ListExpired(time.Now().UTC(), s.batchSize)
		if err != nil {
			return released, err
		}
		if len(expired) == 0 {
			return released, nil
		}

		progressed := 0
		for _, reservation := range expired {
			if err := ctx.Err(); err != nil {
				return released, err
			}

			result := s.releaser.Release(ctx, reservation.Operations)
			if !result.Success {
				s.logger.WithFields(log.Fields{
					"session_id": reservation.SessionID,
					"errors":     result.Errors,
				}).Warn("failed to release expired reservation, will retry next sweep")
				continue
			}

			if err := s.reservations.Delete(reservation.SessionID); err != nil {
				s.logger.WithError(err).WithField("session_id", reservation.SessionID).
					Warn("failed to delete expired reservation ledger entry")
				continue
			}

			s.enqueueExpiredEvent(reservation)

			released++
			progressed++
			sweepReleasedTotal.Inc()
		}

		// Ничего не продвинулось — выходим, чтобы не крутиться на
		// записях, которые не удаётся обработать.
		if progressed == 0 || len(expired) < s.batchSize {
			return released, nil
		}
	}
}

// enqueueExpiredEvent кладёт событие об истёкшем резерве в outbox: снятый
// холд поднимает видимый сток. Сбой очереди уборку не проваливает.
func (s *Sweeper) enqueueExpiredEvent(reservation domain.Reservation) {
	if s.outbox == nil {
		return
	}

	payload := domain.StockEventPayload{
		SessionID:       reservation.SessionID,
		Operations:      reservation.Operations,
		RevalidatePaths: s.revalidatePaths(reservation.Operations),
		OccurredAt:      time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Warn("failed to marshal expired reservation event")
		return
	}

	_, err = s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "reservation",
		AggregateID:   reservation.SessionID,
		EventType:     domain.EventTypeReservationExpired,
		Payload:       body,
	})
	if err != nil {
		s.logger.WithError(err).WithField("session_id", reservation.SessionID).
			Warn("failed to enqueue expired reservation event")
	}
}

func (s *Sweeper) revalidatePaths(operations []domain.StockOperation) []string {
	paths := []string{"/products"}
	if s.products == nil {
		return paths
	}

	seen := map[string]struct{}{}
	for _, operation := range operations {
		if _, ok := seen[operation.ProductID]; ok {
			continue
		}
		seen[operation.ProductID] = struct{}{}

		product, err := s.products.Get(operation.ProductID)
		if err != nil || product.Slug == "" {
			continue
		}
		paths = append(paths, "/products/"+product.Slug)
	}
	return paths
}
