package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultSeenSetSize    = 1000
)

var (
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_webhook_events_total",
		Help: "Total number of handled payment events grouped by type and result.",
	}, []string{"type", "result"})
)

// EventType — провайдеро-независимый тип платёжного события.
type EventType string

const (
	EventPaymentSucceeded   EventType = "payment_succeeded"
	EventPaymentFailed      EventType = "payment_failed"
	EventSessionExpired     EventType = "session_expired"
	EventAsyncPaymentFailed EventType = "async_payment_failed"
)

// PaymentEvent — нормализованное событие платёжного провайдера. Маппинг
// конкретных Stripe-событий в EventType делает HTTP-слой.
type PaymentEvent struct {
	ID         string
	Type       EventType
	SessionID  string
	Operations []domain.StockOperation
}

// Result описывает, чем закончилась обработка события.
type Result struct {
	Duplicate bool
	Action    string
}

// StockEngine — операции ядра, которые нужны координатору. Координатор
// никогда не пишет сток напрямую, только через Engine.
type StockEngine interface {
	Release(ctx context.Context, operations []domain.StockOperation) domain.OperationResult
	Deduct(ctx context.Context, operations []domain.StockOperation) domain.OperationResult
}

// ExpirySweeper запускается оппортунистически после событий об истёкших
// или неуспешных сессиях.
type ExpirySweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Options задает зависимости и параметры Coordinator.
type Options struct {
	Logger         *log.Entry
	Sweeper        ExpirySweeper
	IdempotencyTTL time.Duration
	SeenSetSize    int
}

// Option настраивает Coordinator.
type Option func(*Options)

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithSweeper включает оппортунистический запуск sweeper после событий
// об истёкших сессиях и неуспешных платежах.
func WithSweeper(sweeper ExpirySweeper) Option {
	return func(opts *Options) {
		opts.Sweeper = sweeper
	}
}

// WithIdempotencyTTL задает время жизни idempotency-записей.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.IdempotencyTTL = ttl
	}
}

// WithSeenSetSize задает размер in-memory de-dup множества.
func WithSeenSetSize(size int) Option {
	return func(opts *Options) {
		opts.SeenSetSize = size
	}
}

// Coordinator обрабатывает платёжные события и переводит резервы в
// финальное состояние. Защита от повторной доставки трехслойная:
// быстрый in-memory seen-set, персистентная idempotency-запись по id
// события и проверка существования ledger-записи (если резерв уже
// удалён, событие считается обработанным).
type Coordinator struct {
	engine       StockEngine
	reservations domain.ReservationRepository
	idempotency  domain.IdempotencyRepository
	products     domain.ProductRepository
	errorLog     domain.ErrorLogRepository
	outbox       domain.OutboxRepository
	sweeper      ExpirySweeper
	seen         *seenSet
	ttl          time.Duration
	logger       *log.Entry
}

// NewCoordinator создает Coordinator. outbox может быть nil — тогда события
// стока не публикуются (например, в тестах ядра).
func NewCoordinator(
	engine StockEngine,
	reservations domain.ReservationRepository,
	idempotency domain.IdempotencyRepository,
	products domain.ProductRepository,
	errorLog domain.ErrorLogRepository,
	outbox domain.OutboxRepository,
	options ...Option,
) *Coordinator {
	opts := Options{
		IdempotencyTTL: defaultIdempotencyTTL,
		SeenSetSize:    defaultSeenSetSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "webhook-coordinator")
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	if opts.SeenSetSize <= 0 {
		opts.SeenSetSize = defaultSeenSetSize
	}

	return &Coordinator{
		engine:       engine,
		reservations: reservations,
		idempotency:  idempotency,
		products:     products,
		errorLog:     errorLog,
		outbox:       outbox,
		sweeper:      opts.Sweeper,
		seen:         newSeenSet(opts.SeenSetSize),
		ttl:          opts.IdempotencyTTL,
		logger:       logger,
	}
}

// HandleEvent обрабатывает одно платёжное событие. Повторная доставка
// возвращает Result{Duplicate: true} без ошибки; ошибки обработки
// возвращаются наружу, чтобы провайдер повторил доставку.
func (c *Coordinator) HandleEvent(ctx context.Context, event PaymentEvent) (Result, error) {
	if event.ID == "" {
		return Result{}, fmt.Errorf("%w: event id is empty", domain.ErrIdempotencyKeyRequired)
	}
	if event.SessionID == "" {
		return Result{}, domain.ErrSessionIDRequired
	}

	logger := c.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"session_id": event.SessionID,
	})

	if c.seen.Contains(event.ID) {
		logger.Info("payment event already seen, skipping")
		c.recordDuplicate(event)
		return Result{Duplicate: true, Action: "noop"}, nil
	}

	if _, err := c.idempotency.CreateProcessing(event.ID, time.Now().UTC().Add(c.ttl)); err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
			record, getErr := c.idempotency.Get(event.ID)
			if getErr == nil && record.Status == domain.IdempotencyStatusFailed {
				logger.Info("retrying previously failed payment event")
			} else {
				logger.Info("payment event already recorded, skipping")
				c.seen.Add(event.ID)
				c.recordDuplicate(event)
				return Result{Duplicate: true, Action: "noop"}, nil
			}
		} else {
			return Result{}, fmt.Errorf("register payment event: %w", err)
		}
	}

	result, err := c.process(ctx, event, logger)
	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		payload = nil
	}

	if err != nil {
		if markErr := c.idempotency.MarkFailed(event.ID, payload); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark payment event as failed")
		}
		webhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return Result{}, err
	}

	if markErr := c.idempotency.MarkDone(event.ID, payload); markErr != nil {
		logger.WithError(markErr).Warn("failed to mark payment event as done")
	}
	c.seen.Add(event.ID)

	if result.Duplicate {
		webhookEventsTotal.WithLabelValues(string(event.Type), "duplicate").Inc()
	} else {
		webhookEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	}

	return result, nil
}

func (c *Coordinator) process(ctx context.Context, event PaymentEvent, logger *log.Entry) (Result, error) {
	// Существование ledger-записи проверяется всегда, даже когда операции
	// пришли в метаданных события: провайдер доставляет несколько событий
	// с разными id на один платёж, и отсутствие резерва — единственный
	// сигнал, что сессия уже обработана.
	reservation, err := c.reservations.Get(event.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			// Резерв уже удалён settle/release-путём или sweeper'ом.
			logger.Info("reservation already settled or released, treating event as duplicate")
			c.recordDuplicate(event)
			return Result{Duplicate: true, Action: "noop"}, nil
		}
		return Result{}, fmt.Errorf("load reservation: %w", err)
	}

	operations := event.Operations
	if len(operations) == 0 {
		operations = reservation.Operations
	}

	switch event.Type {
	case EventPaymentSucceeded:
		return c.settle(ctx, event, operations, logger)
	case EventSessionExpired, EventAsyncPaymentFailed:
		return c.release(ctx, event, operations, true, logger)
	case EventPaymentFailed:
		return c.release(ctx, event, operations, false, logger)
	default:
		return Result{}, fmt.Errorf("unknown payment event type %q", event.Type)
	}
}

func (c *Coordinator) settle(ctx context.Context, event PaymentEvent, operations []domain.StockOperation, logger *log.Entry) (Result, error) {
	result := c.engine.Deduct(ctx, operations)
	if !result.Success {
		return Result{}, fmt.Errorf("deduct stock: %s", strings.Join(result.Errors, "; "))
	}

	if err := c.reservations.Delete(event.SessionID); err != nil {
		logger.WithError(err).Warn("failed to delete settled reservation")
	}

	c.enqueueStockEvent(domain.EventTypeStockSettled, event.SessionID, operations, true, logger)
	logger.Info("payment settled, stock deducted")

	return Result{Action: "settled"}, nil
}

func (c *Coordinator) release(ctx context.Context, event PaymentEvent, operations []domain.StockOperation, invalidateCache bool, logger *log.Entry) (Result, error) {
	result := c.engine.Release(ctx, operations)
	if !result.Success {
		return Result{}, fmt.Errorf("release stock: %s", strings.Join(result.Errors, "; "))
	}

	if err := c.reservations.Delete(event.SessionID); err != nil {
		logger.WithError(err).Warn("failed to delete released reservation")
	}

	c.enqueueStockEvent(domain.EventTypeStockReleased, event.SessionID, operations, invalidateCache, logger)
	logger.Info("payment not completed, stock released")

	c.triggerSweep(logger)

	return Result{Action: "released"}, nil
}

// enqueueStockEvent кладет событие стока в outbox; сбой очереди не
// проваливает обработку webhook — сток уже в корректном состоянии.
func (c *Coordinator) enqueueStockEvent(eventType, sessionID string, operations []domain.StockOperation, invalidateCache bool, logger *log.Entry) {
	if c.outbox == nil {
		return
	}

	payload := domain.StockEventPayload{
		SessionID:  sessionID,
		Operations: operations,
		OccurredAt: time.Now().UTC(),
	}
	if invalidateCache {
		payload.RevalidatePaths = c.revalidatePaths(operations)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Warn("failed to marshal stock event payload")
		return
	}

	_, err = c.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "reservation",
		AggregateID:   sessionID,
		EventType:     eventType,
		Payload:       body,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to enqueue stock event")
	}
}

// revalidatePaths собирает пути страниц, чей видимый сток изменился.
func (c *Coordinator) revalidatePaths(operations []domain.StockOperation) []string {
	paths := []string{"/products"}
	seen := map[string]struct{}{}
	for _, operation := range operations {
		if _, ok := seen[operation.ProductID]; ok {
			continue
		}
		seen[operation.ProductID] = struct{}{}

		product, err := c.products.Get(operation.ProductID)
		if err != nil || product.Slug == "" {
			continue
		}
		paths = append(paths, "/products/"+product.Slug)
	}
	return paths
}

func (c *Coordinator) triggerSweep(logger *log.Entry) {
	if c.sweeper == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := c.sweeper.CleanupExpired(ctx); err != nil {
			logger.WithError(err).Warn("opportunistic reservation sweep failed")
		}
	}()
}

func (c *Coordinator) recordDuplicate(event PaymentEvent) {
	err := c.errorLog.Append(domain.ErrorLogEntry{
		Class:     domain.ErrorClassDuplicateEvent,
		Severity:  domain.SeverityLow,
		Message:   fmt.Sprintf("duplicate payment event %s (%s)", event.ID, event.Type),
		SessionID: event.SessionID,
	})
	if err != nil {
		c.logger.WithError(err).Warn("failed to record duplicate event")
	}
}
