package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics содержит метрики операций движка резервирования.
type StockMetrics struct {
	// Счётчики операций по исходам
	reserveTotal *prometheus.CounterVec
	releaseTotal *prometheus.CounterVec
	deductTotal  *prometheus.CounterVec

	// Отказы по бизнес-правилу insufficient_stock
	insufficientStock prometheus.Counter

	// Retry транзакций хранилища
	storeRetries prometheus.Counter

	// Гистограммы времени выполнения операций
	operationDuration *prometheus.HistogramVec
}

// NewStockMetrics создаёт новый экземпляр метрик движка.
func NewStockMetrics() *StockMetrics {
	return newStockMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newStockMetricsWithRegisterer(registerer prometheus.Registerer) *StockMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StockMetrics{
		reserveTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_reserve_total",
			Help: "Total number of reserve operations grouped by result",
		}, []string{"result"}),
		releaseTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_release_total",
			Help: "Total number of release operations grouped by result",
		}, []string{"result"}),
		deductTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stock_deduct_total",
			Help: "Total number of deduct (settle) operations grouped by result",
		}, []string{"result"}),
		insufficientStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "stock_insufficient_total",
			Help: "Total number of reserve items rejected for insufficient stock",
		}),
		storeRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "stock_store_retries_total",
			Help: "Total number of retried store transactions",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "stock_operation_duration_seconds",
			Help:    "Duration of stock engine operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReserve увеличивает счётчик reserve с заданным результатом.
func (m *StockMetrics) RecordReserve(result string) {
	m.reserveTotal.WithLabelValues(result).Inc()
}

// RecordRelease увеличивает счётчик release с заданным результатом.
func (m *StockMetrics) RecordRelease(result string) {
	m.releaseTotal.WithLabelValues(result).Inc()
}

// RecordDeduct увеличивает счётчик deduct с заданным результатом.
func (m *StockMetrics) RecordDeduct(result string) {
	m.deductTotal.WithLabelValues(result).Inc()
}

// RecordInsufficientStock фиксирует отказ позиции по нехватке стока.
func (m *StockMetrics) RecordInsufficientStock() {
	m.insufficientStock.Inc()
}

// RecordStoreRetry фиксирует повтор транзакции хранилища.
func (m *StockMetrics) RecordStoreRetry() {
	m.storeRetries.Inc()
}

// RecordOperationDuration записывает время выполнения операции движка.
func (m *StockMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
