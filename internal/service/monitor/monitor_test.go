package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/service/monitor"
	"github.com/fraser-stanley/spooky-stock/internal/storage/memory"
)

func TestMonitor_ScanHealthy(t *testing.T) {
	products := memory.NewProductRepository(
		domain.Product{ID: "book-1", Title: "Ghost Stories", StockQuantity: 10, ReservedQuantity: 2},
	)
	errorLog := memory.NewErrorLogRepository()

	m := monitor.New(products, errorLog)
	report, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !report.Healthy {
		t.Fatalf("Scan() healthy = false, issues = %v", report.Issues)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("Scan() issues = %d, want 0", len(report.Issues))
	}
}

func TestMonitor_ScanFindsAnomalies(t *testing.T) {
	products := memory.NewProductRepository(
		domain.Product{ID: "negative", Title: "Negative Stock", StockQuantity: -1, ReservedQuantity: 0},
		domain.Product{ID: "oversold", Title: "Oversold", StockQuantity: 3, ReservedQuantity: 5},
		domain.Product{
			ID:    "shirt",
			Title: "Shirt",
			Variants: []domain.Variant{
				{Size: "M", StockQuantity: 10, ReservedQuantity: 9},
			},
		},
	)
	errorLog := memory.NewErrorLogRepository()

	m := monitor.New(products, errorLog)
	report, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if report.Healthy {
		t.Fatal("Scan() healthy = true, want anomalies")
	}

	bySeverity := map[domain.Severity]int{}
	for _, issue := range report.Issues {
		bySeverity[issue.Severity]++
	}
	if bySeverity[domain.SeverityCritical] != 1 {
		t.Fatalf("critical issues = %d, want 1", bySeverity[domain.SeverityCritical])
	}
	if bySeverity[domain.SeverityHigh] != 1 {
		t.Fatalf("high issues = %d, want 1", bySeverity[domain.SeverityHigh])
	}
	// Резервы варианта M 9/10 выше порога 0.8.
	if bySeverity[domain.SeverityMedium] != 1 {
		t.Fatalf("medium issues = %d, want 1", bySeverity[domain.SeverityMedium])
	}

	persisted, err := errorLog.CountSince(domain.ErrorClassInvariantViolation, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountSince() error = %v", err)
	}
	if persisted != 2 {
		t.Fatalf("persisted invariant violations = %d, want 2", persisted)
	}
}

func TestMonitor_ScanErrorRate(t *testing.T) {
	products := memory.NewProductRepository()
	errorLog := memory.NewErrorLogRepository()
	for i := 0; i < 6; i++ {
		err := errorLog.Append(domain.ErrorLogEntry{
			Class:    domain.ErrorClassInsufficientStock,
			Severity: domain.SeverityLow,
			Message:  "Insufficient stock for Ghost Stories. Available: 0, Requested: 1",
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	m := monitor.New(products, errorLog)
	report, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if report.Healthy {
		t.Fatal("Scan() healthy = true, want error-rate issue")
	}
	if len(report.Issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(report.Issues))
	}
	if report.Issues[0].Severity != domain.SeverityMedium {
		t.Fatalf("issue severity = %s, want medium", report.Issues[0].Severity)
	}
}

func TestMonitor_EmergencyCleanup(t *testing.T) {
	products := memory.NewProductRepository(
		domain.Product{ID: "oversold", Title: "Oversold", StockQuantity: 3, ReservedQuantity: 5},
		domain.Product{ID: "healthy", Title: "Healthy", StockQuantity: 10, ReservedQuantity: 4},
		domain.Product{
			ID:    "shirt",
			Title: "Shirt",
			Variants: []domain.Variant{
				{Size: "S", StockQuantity: 1, ReservedQuantity: 2},
				{Size: "M", StockQuantity: 5, ReservedQuantity: 5},
			},
		},
	)
	errorLog := memory.NewErrorLogRepository()

	m := monitor.New(products, errorLog)
	reset, err := m.EmergencyCleanup(context.Background())
	if err != nil {
		t.Fatalf("EmergencyCleanup() error = %v", err)
	}
	if reset != 2 {
		t.Fatalf("EmergencyCleanup() reset = %d, want 2", reset)
	}

	oversold, err := products.Get("oversold")
	if err != nil {
		t.Fatalf("Get(oversold) error = %v", err)
	}
	if oversold.ReservedQuantity != 0 {
		t.Fatalf("oversold reserved = %d, want 0", oversold.ReservedQuantity)
	}

	healthy, err := products.Get("healthy")
	if err != nil {
		t.Fatalf("Get(healthy) error = %v", err)
	}
	if healthy.ReservedQuantity != 4 {
		t.Fatalf("healthy reserved = %d, want 4", healthy.ReservedQuantity)
	}

	shirt, err := products.Get("shirt")
	if err != nil {
		t.Fatalf("Get(shirt) error = %v", err)
	}
	if s, ok := shirt.VariantBySize("S"); !ok || s.ReservedQuantity != 0 {
		t.Fatalf("shirt S reserved = %+v, want 0", s)
	}
	if v, ok := shirt.VariantBySize("M"); !ok || v.ReservedQuantity != 5 {
		t.Fatalf("shirt M reserved = %+v, want 5", v)
	}
}
