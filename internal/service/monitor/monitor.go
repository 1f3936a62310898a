package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

const (
	defaultScanInterval = 30 * time.Minute

	// reservedWarningRatio — доля stock, после которой резервы считаются
	// подозрительно высокими.
	reservedWarningRatio = 0.8

	errorRateWindow          = time.Hour
	errorRateMediumThreshold = 5
	errorRateHighThreshold   = 20
)

var (
	monitorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_monitor_runs_total",
		Help: "Total number of consistency monitor scans grouped by result.",
	}, []string{"result"})
	monitorIssues = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stock_monitor_issues",
		Help: "Number of issues found during the last scan grouped by severity.",
	}, []string{"severity"})
	monitorEmergencyResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_monitor_emergency_resets_total",
		Help: "Total number of reserved counters reset by emergency cleanup.",
	})
)

// Issue описывает одну найденную аномалию инвентаря.
type Issue struct {
	Severity  domain.Severity `json:"severity"`
	ProductID string          `json:"productId,omitempty"`
	Size      string          `json:"size,omitempty"`
	Message   string          `json:"message"`
}

// Report — результат одного прохода монитора.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Healthy     bool      `json:"healthy"`
	Issues      []Issue   `json:"issues"`
}

// Options задает параметры Monitor.
type Options struct {
	Logger   *log.Entry
	Interval time.Duration
}

// Option настраивает Monitor.
type Option func(*Options)

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между фоновыми сканами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// Monitor сверяет счетчики инвентаря с инвариантами и следит за частотой
// ошибок резервирования. Monitor ничего не чинит сам: найденные аномалии
// публикуются в отчете и в error log, а исправление запускает оператор
// через EmergencyCleanup.
type Monitor struct {
	products domain.ProductRepository
	errorLog domain.ErrorLogRepository
	logger   *log.Entry
	interval time.Duration
}

// New создает Monitor поверх хранилища продуктов и error log.
func New(products domain.ProductRepository, errorLog domain.ErrorLogRepository, options ...Option) *Monitor {
	opts := Options{Interval: defaultScanInterval}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-monitor")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultScanInterval
	}

	return &Monitor{
		products: products,
		errorLog: errorLog,
		logger:   logger,
		interval: opts.Interval,
	}
}

// Run запускает периодическое сканирование до отмены ctx.
func (m *Monitor) Run(ctx context.Context) {
	m.runScan(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runScan(ctx)
		}
	}
}

func (m *Monitor) runScan(ctx context.Context) {
	report, err := m.Scan(ctx)
	if err != nil {
		monitorRunsTotal.WithLabelValues("error").Inc()
		m.logger.WithError(err).Warn("stock monitor scan failed")
		return
	}

	monitorRunsTotal.WithLabelValues("ok").Inc()
	if !report.Healthy {
		m.logger.WithField("issues", len(report.Issues)).Warn("stock monitor found anomalies")
	}
}

// Scan проходит по всем продуктам и возвращает отчет о найденных аномалиях.
// Аномалии счетчиков дополнительно записываются в error log с классом
// invariant_violation; частота ошибок считается по error log, поэтому такие
// находки в него не пишутся, чтобы монитор не раздувал собственный сигнал.
func (m *Monitor) Scan(ctx context.Context) (Report, error) {
	report := Report{GeneratedAt: time.Now().UTC()}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	products, err := m.products.List()
	if err != nil {
		return report, fmt.Errorf("list products: %w", err)
	}

	for _, product := range products {
		if product.HasVariants() {
			for _, variant := range product.Variants {
				issues := checkCounters(product.ID, variant.Size, product.Title, variant.StockQuantity, variant.ReservedQuantity)
				report.Issues = append(report.Issues, issues...)
			}
			continue
		}
		issues := checkCounters(product.ID, "", product.Title, product.StockQuantity, product.ReservedQuantity)
		report.Issues = append(report.Issues, issues...)
	}

	m.persistIssues(report.Issues)

	rateIssue, err := m.checkErrorRate(report.GeneratedAt)
	if err != nil {
		m.logger.WithError(err).Warn("failed to check reservation error rate")
	} else if rateIssue != nil {
		report.Issues = append(report.Issues, *rateIssue)
	}

	report.Healthy = len(report.Issues) == 0
	m.observeIssues(report.Issues)

	return report, nil
}

func checkCounters(productID, size, title string, stock, reserved int) []Issue {
	target := title
	if size != "" {
		target = fmt.Sprintf("%s (size %s)", title, size)
	}

	var issues []Issue

	if stock < 0 {
		issues = append(issues, Issue{
			Severity:  domain.SeverityCritical,
			ProductID: productID,
			Size:      size,
			Message:   fmt.Sprintf("negative stock for %s: %d", target, stock),
		})
	}

	switch {
	case reserved > stock && reserved > 0:
		issues = append(issues, Issue{
			Severity:  domain.SeverityHigh,
			ProductID: productID,
			Size:      size,
			Message:   fmt.Sprintf("reserved exceeds stock for %s: reserved %d, stock %d", target, reserved, stock),
		})
	case stock > 0 && float64(reserved) > reservedWarningRatio*float64(stock):
		issues = append(issues, Issue{
			Severity:  domain.SeverityMedium,
			ProductID: productID,
			Size:      size,
			Message:   fmt.Sprintf("reserved is close to stock for %s: reserved %d, stock %d", target, reserved, stock),
		})
	}

	return issues
}

func (m *Monitor) checkErrorRate(now time.Time) (*Issue, error) {
	count, err := m.errorLog.CountSince(domain.ErrorClassInsufficientStock, now.Add(-errorRateWindow))
	if err != nil {
		return nil, err
	}

	switch {
	case count > errorRateHighThreshold:
		return &Issue{
			Severity: domain.SeverityHigh,
			Message:  fmt.Sprintf("reservation failures in the last hour: %d", count),
		}, nil
	case count > errorRateMediumThreshold:
		return &Issue{
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("elevated reservation failures in the last hour: %d", count),
		}, nil
	}

	return nil, nil
}

func (m *Monitor) persistIssues(issues []Issue) {
	for _, issue := range issues {
		if issue.Severity != domain.SeverityHigh && issue.Severity != domain.SeverityCritical {
			continue
		}
		err := m.errorLog.Append(domain.ErrorLogEntry{
			Class:     domain.ErrorClassInvariantViolation,
			Severity:  issue.Severity,
			Message:   issue.Message,
			ProductID: issue.ProductID,
		})
		if err != nil {
			m.logger.WithError(err).Warn("failed to persist monitor finding")
		}
	}
}

func (m *Monitor) observeIssues(issues []Issue) {
	counts := map[domain.Severity]int{
		domain.SeverityLow:      0,
		domain.SeverityMedium:   0,
		domain.SeverityHigh:     0,
		domain.SeverityCritical: 0,
	}
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	for severity, count := range counts {
		monitorIssues.WithLabelValues(string(severity)).Set(float64(count))
	}
}

// EmergencyCleanup сбрасывает reserved до нуля везде, где reserved превышает
// stock. Операция разрушает информацию о текущих резервациях и поэтому
// вызывается только оператором. Возвращает число сброшенных счетчиков.
func (m *Monitor) EmergencyCleanup(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	products, err := m.products.List()
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	var patches []domain.StockPatch
	for _, product := range products {
		if product.HasVariants() {
			for _, variant := range product.Variants {
				if variant.ReservedQuantity > variant.StockQuantity {
					patches = append(patches, domain.StockPatch{
						ProductID:     product.ID,
						Size:          variant.Size,
						ReservedDelta: -variant.ReservedQuantity,
					})
				}
			}
			continue
		}
		if product.ReservedQuantity > product.StockQuantity {
			patches = append(patches, domain.StockPatch{
				ProductID:     product.ID,
				ReservedDelta: -product.ReservedQuantity,
			})
		}
	}

	if len(patches) == 0 {
		return 0, nil
	}

	if err := m.products.ApplyStockPatches(patches); err != nil {
		return 0, fmt.Errorf("reset reserved counters: %w", err)
	}

	monitorEmergencyResets.Add(float64(len(patches)))
	m.logger.WithField("reset", len(patches)).Warn("emergency cleanup reset reserved counters")

	return len(patches), nil
}
