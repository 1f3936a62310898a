package stock

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/metrics"
)

const (
	resultOK           = "ok"
	resultInsufficient = "insufficient_stock"
	resultNotFound     = "not_found"
	resultError        = "error"
)

// Engine — движок резервирования: единственный писатель reservedQuantity
// на товарах и единственный создатель ledger-записей. Все мутации проходят
// через атомарные инкременты хранилища; read-modify-write в приложении
// не допускается.
type Engine struct {
	products     domain.ProductRepository
	reservations domain.ReservationRepository
	errorLog     domain.ErrorLogRepository
	retry        RetryConfig
	metrics      *metrics.StockMetrics
	logger       *log.Entry
}

// Options задаёт необязательные параметры Engine.
type Options struct {
	Retry   RetryConfig
	Metrics *metrics.StockMetrics
	Logger  *log.Entry
}

// Option настраивает Engine.
type Option func(*Options)

// WithRetryConfig задаёт параметры повторов транзакций.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}

// WithMetrics задаёт метрики движка.
func WithMetrics(m *metrics.StockMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// NewEngine создаёт движок резервирования.
func NewEngine(
	products domain.ProductRepository,
	reservations domain.ReservationRepository,
	errorLog domain.ErrorLogRepository,
	options ...Option,
) *Engine {
	opts := Options{Retry: DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-engine")
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}

	return &Engine{
		products:     products,
		reservations: reservations,
		errorLog:     errorLog,
		retry:        opts.Retry,
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// Reserve пытается захолдировать сток под checkout-сессию. Все позиции
// одной сессии резервируются одной all-or-nothing транзакцией: если хотя бы
// одна позиция не проходит проверку доступности, не фиксируется ничего.
// Проверка доступности — advisory read перед атомарным инкрементом; узкое
// окно гонки между чтением и commit допускается и компенсируется
// монитором консистентности, а не искусственной сериализацией.
func (e *Engine) Reserve(ctx context.Context, operations []domain.StockOperation, sessionID string, ttl time.Duration) domain.OperationResult {
	started := time.Now()
	defer e.observeDuration("reserve", started)

	if sessionID == "" {
		e.recordReserve(resultError)
		return domain.Failed(domain.ErrSessionIDRequired.Error())
	}
	if result, ok := validateOperations(operations); !ok {
		e.recordReserve(resultError)
		return result
	}

	for attempt := 1; ; attempt++ {
		patches, itemErrors := e.checkAvailability(operations)
		if len(itemErrors) > 0 {
			for _, item := range itemErrors {
				e.appendErrorLog(domain.ErrorLogEntry{
					Class:     item.class,
					Severity:  domain.SeverityMedium,
					Message:   item.message,
					SessionID: sessionID,
					ProductID: item.productID,
				})
				if item.class == domain.ErrorClassInsufficientStock {
					e.recordInsufficient()
				}
			}
			e.logger.WithFields(log.Fields{
				"session_id": sessionID,
				"errors":     len(itemErrors),
			}).Info("reserve rejected")
			e.recordReserve(resultInsufficient)
			return domain.Failed(itemErrorMessages(itemErrors)...)
		}

		err := e.products.ApplyStockPatches(patches)
		if err == nil {
			break
		}

		if domain.IsTransient(err) && attempt < e.retry.MaxAttempts {
			e.recordStoreRetry()
			e.logger.WithFields(log.Fields{
				"session_id": sessionID,
				"attempt":    attempt,
				"error":      err,
			}).Warn("reserve transaction failed, retrying with fresh read")
			if sleepErr := sleep(ctx, e.retry.delay(attempt)); sleepErr != nil {
				e.recordReserve(resultError)
				return domain.Failed("stock reservation canceled")
			}
			continue
		}

		e.appendErrorLog(domain.ErrorLogEntry{
			Class:     classifyStoreError(err),
			Severity:  domain.SeverityHigh,
			Message:   fmt.Sprintf("reserve transaction failed: %v", err),
			SessionID: sessionID,
		})
		e.logger.WithError(err).WithField("session_id", sessionID).Error("reserve transaction failed")
		e.recordReserve(resultError)
		return domain.Failed("stock reservation failed, please try again")
	}

	// Сток уже захолдирован; ledger поддерживает только backstop-очистку,
	// поэтому неуспешная запись не отменяет резерв.
	reservation := domain.Reservation{
		SessionID:  sessionID,
		Operations: operations,
		ExpiresAt:  time.Now().UTC().Add(ttl),
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.reservations.Create(reservation); err != nil {
		e.appendErrorLog(domain.ErrorLogEntry{
			Class:     domain.ErrorClassLedgerWrite,
			Severity:  domain.SeverityLow,
			Message:   fmt.Sprintf("reservation ledger write failed: %v", err),
			SessionID: sessionID,
		})
		e.logger.WithError(err).WithField("session_id", sessionID).Warn("reservation ledger write failed")
	}

	e.logger.WithFields(log.Fields{
		"session_id": sessionID,
		"items":      len(operations),
		"ttl":        ttl,
	}).Info("stock reserved")
	e.recordReserve(resultOK)
	return domain.OK()
}

// Release снимает холд по операциям. Нижняя граница не проверяется:
// уход reservedQuantity в минус — обнаруживаемая монитором аномалия
// данных, а не повод падать. Операция по удалённому товару пропускается
// с записью в журнал, не проваливая всю партию.
func (e *Engine) Release(ctx context.Context, operations []domain.StockOperation) domain.OperationResult {
	started := time.Now()
	defer e.observeDuration("release", started)

	if result, ok := validateOperations(operations); !ok {
		e.recordRelease(resultError)
		return result
	}

	result := e.applyWithRetry(ctx, "release", func() []domain.StockPatch {
		patches := make([]domain.StockPatch, 0, len(operations))
		for _, op := range operations {
			if !e.targetExists(op, "release") {
				continue
			}
			patches = append(patches, domain.StockPatch{
				ProductID:     op.ProductID,
				Size:          op.Size,
				ReservedDelta: -op.Quantity,
			})
		}
		return patches
	})

	e.recordRelease(resultLabel(result))
	return result
}

// Deduct (settle) — единственная операция, безвозвратно потребляющая сток:
// одновременно уменьшает stockQuantity и reservedQuantity на одну и ту же
// величину. Должна вызываться ровно один раз на оплаченный заказ;
// идемпотентность обеспечивает координатор.
func (e *Engine) Deduct(ctx context.Context, operations []domain.StockOperation) domain.OperationResult {
	started := time.Now()
	defer e.observeDuration("deduct", started)

	if result, ok := validateOperations(operations); !ok {
		e.recordDeduct(resultError)
		return result
	}

	result := e.applyWithRetry(ctx, "deduct", func() []domain.StockPatch {
		patches := make([]domain.StockPatch, 0, len(operations))
		for _, op := range operations {
			patches = append(patches, domain.StockPatch{
				ProductID:     op.ProductID,
				Size:          op.Size,
				StockDelta:    -op.Quantity,
				ReservedDelta: -op.Quantity,
			})
		}
		return patches
	})

	e.recordDeduct(resultLabel(result))
	return result
}

type itemError struct {
	productID string
	class     domain.ErrorClass
	message   string
}

func itemErrorMessages(items []itemError) []string {
	messages := make([]string, 0, len(items))
	for _, item := range items {
		messages = append(messages, item.message)
	}
	return messages
}

// checkAvailability читает целевые товары и строит патчи инкрементов
// reservedQuantity. Позиция с нехваткой стока попадает в itemErrors
// и в транзакцию не включается.
func (e *Engine) checkAvailability(operations []domain.StockOperation) ([]domain.StockPatch, []itemError) {
	patches := make([]domain.StockPatch, 0, len(operations))
	var itemErrors []itemError

	for _, op := range operations {
		product, err := e.products.Get(op.ProductID)
		if err != nil {
			itemErrors = append(itemErrors, itemError{
				productID: op.ProductID,
				class:     domain.ErrorClassNotFound,
				message:   fmt.Sprintf("Product not found: %s", op.ProductID),
			})
			continue
		}

		available := product.Available()
		label := product.Title
		if op.Size != "" {
			variant, ok := product.VariantBySize(op.Size)
			if !ok {
				itemErrors = append(itemErrors, itemError{
					productID: op.ProductID,
					class:     domain.ErrorClassNotFound,
					message:   fmt.Sprintf("Size %s not found for %s", op.Size, product.Title),
				})
				continue
			}
			available = variant.Available()
			label = fmt.Sprintf("%s size %s", product.Title, op.Size)
		}

		if op.Quantity > available {
			itemErrors = append(itemErrors, itemError{
				productID: op.ProductID,
				class:     domain.ErrorClassInsufficientStock,
				message:   fmt.Sprintf("Insufficient stock for %s. Available: %d, Requested: %d", label, available, op.Quantity),
			})
			continue
		}

		patches = append(patches, domain.StockPatch{
			ProductID:     op.ProductID,
			Size:          op.Size,
			ReservedDelta: op.Quantity,
		})
	}

	return patches, itemErrors
}

// targetExists проверяет, существует ли адресат операции; отсутствие
// фиксируется в журнале и трактуется как пропуск.
func (e *Engine) targetExists(op domain.StockOperation, operation string) bool {
	product, err := e.products.Get(op.ProductID)
	if err != nil {
		e.appendErrorLog(domain.ErrorLogEntry{
			Class:     domain.ErrorClassNotFound,
			Severity:  domain.SeverityLow,
			Message:   fmt.Sprintf("%s skipped: product %s missing", operation, op.ProductID),
			ProductID: op.ProductID,
		})
		e.logger.WithFields(log.Fields{
			"operation":  operation,
			"product_id": op.ProductID,
		}).Warn("operation target missing, skipping")
		return false
	}
	if op.Size != "" {
		if _, ok := product.VariantBySize(op.Size); !ok {
			e.appendErrorLog(domain.ErrorLogEntry{
				Class:     domain.ErrorClassNotFound,
				Severity:  domain.SeverityLow,
				Message:   fmt.Sprintf("%s skipped: size %s missing for product %s", operation, op.Size, op.ProductID),
				ProductID: op.ProductID,
			})
			return false
		}
	}
	return true
}

// applyWithRetry выполняет build+commit с повторами на временных ошибках.
// build перезапускается на каждой попытке, чтобы commit не опирался
// на устаревшее чтение.
func (e *Engine) applyWithRetry(ctx context.Context, operation string, build func() []domain.StockPatch) domain.OperationResult {
	for attempt := 1; ; attempt++ {
		patches := build()
		if len(patches) == 0 {
			return domain.OK()
		}

		err := e.products.ApplyStockPatches(patches)
		if err == nil {
			e.logger.WithFields(log.Fields{
				"operation": operation,
				"patches":   len(patches),
			}).Info("stock patches committed")
			return domain.OK()
		}

		if domain.IsTransient(err) && attempt < e.retry.MaxAttempts {
			e.recordStoreRetry()
			e.logger.WithFields(log.Fields{
				"operation": operation,
				"attempt":   attempt,
				"error":     err,
			}).Warn("stock transaction failed, retrying")
			if sleepErr := sleep(ctx, e.retry.delay(attempt)); sleepErr != nil {
				return domain.Failed(fmt.Sprintf("stock %s canceled", operation))
			}
			continue
		}

		e.appendErrorLog(domain.ErrorLogEntry{
			Class:    classifyStoreError(err),
			Severity: domain.SeverityHigh,
			Message:  fmt.Sprintf("%s transaction failed: %v", operation, err),
		})
		e.logger.WithError(err).WithField("operation", operation).Error("stock transaction failed")
		return domain.Failed(fmt.Sprintf("stock %s failed: %v", operation, err))
	}
}

func validateOperations(operations []domain.StockOperation) (domain.OperationResult, bool) {
	if len(operations) == 0 {
		return domain.Failed(domain.ErrOperationsRequired.Error()), false
	}

	var messages []string
	for _, op := range operations {
		for _, err := range op.Validate() {
			messages = append(messages, fmt.Sprintf("%s: %v", op.Target(), err))
		}
	}
	if len(messages) > 0 {
		return domain.Failed(messages...), false
	}

	return domain.OperationResult{}, true
}

func classifyStoreError(err error) domain.ErrorClass {
	if domain.IsNotFound(err) {
		return domain.ErrorClassNotFound
	}
	return domain.ErrorClassStoreTransaction
}

func resultLabel(result domain.OperationResult) string {
	if result.Success {
		return resultOK
	}
	return resultError
}

func (e *Engine) appendErrorLog(entry domain.ErrorLogEntry) {
	if e.errorLog == nil {
		return
	}
	if err := e.errorLog.Append(entry); err != nil {
		e.logger.WithError(err).Warn("failed to append error log entry")
	}
}

func (e *Engine) observeDuration(operation string, started time.Time) {
	if e.metrics != nil {
		e.metrics.RecordOperationDuration(operation, time.Since(started))
	}
}

func (e *Engine) recordReserve(result string) {
	if e.metrics != nil {
		e.metrics.RecordReserve(result)
	}
}

func (e *Engine) recordRelease(result string) {
	if e.metrics != nil {
		e.metrics.RecordRelease(result)
	}
}

func (e *Engine) recordDeduct(result string) {
	if e.metrics != nil {
		e.metrics.RecordDeduct(result)
	}
}

func (e *Engine) recordInsufficient() {
	if e.metrics != nil {
		e.metrics.RecordInsufficientStock()
	}
}

func (e *Engine) recordStoreRetry() {
	if e.metrics != nil {
		e.metrics.RecordStoreRetry()
	}
}
