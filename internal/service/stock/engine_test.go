package stock_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/service/stock"
	"github.com/fraser-stanley/spooky-stock/internal/storage/memory"
)

type repos struct {
	products     *productRepo
	reservations domain.ReservationRepository
	errorLog     domain.ErrorLogRepository
}

// productRepo оборачивает in-memory репозиторий, позволяя инжектировать
// временные ошибки транзакций.
type productRepo struct {
	domain.ProductRepository
	mu       sync.Mutex
	failures int
}

func (r *productRepo) ApplyStockPatches(patches []domain.StockPatch) error {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return fmt.Errorf("simulated outage: %w", domain.ErrStoreTransaction)
	}
	r.mu.Unlock()
	return r.ProductRepository.ApplyStockPatches(patches)
}

func newEngine(t *testing.T, products ...domain.Product) (*stock.Engine, repos) {
	t.Helper()

	inner := memory.NewProductRepository(products...)
	wrapped := &productRepo{ProductRepository: inner}
	r := repos{
		products:     wrapped,
		reservations: memory.NewReservationRepository(),
		errorLog:     memory.NewErrorLogRepository(),
	}
	engine := stock.NewEngine(wrapped, r.reservations, r.errorLog,
		stock.WithRetryConfig(stock.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2.0,
		}),
	)
	return engine, r
}

func baseProduct() domain.Product {
	return domain.Product{
		ID:            "prod-1",
		Title:         "Spooky Tee",
		StockQuantity: 5,
	}
}

func sizedProduct() domain.Product {
	return domain.Product{
		ID:    "prod-2",
		Title: "Haunted Hoodie",
		Variants: []domain.Variant{
			{Size: "S", StockQuantity: 1},
			{Size: "M", StockQuantity: 2},
		},
	}
}

func TestEngine_ReserveHappyPath(t *testing.T) {
	engine, r := newEngine(t, baseProduct())

	ops := []domain.StockOperation{{ProductID: "prod-1", Quantity: 3}}
	result := engine.Reserve(context.Background(), ops, "sess1", 30*time.Minute)
	if !result.Success {
		t.Fatalf("expected success, got errors %v", result.Errors)
	}

	product, _ := r.products.Get("prod-1")
	if product.StockQuantity != 5 {
		t.Fatalf("stock must be untouched by reserve, got %d", product.StockQuantity)
	}
	if product.ReservedQuantity != 3 {
		t.Fatalf("expected reserved 3, got %d", product.ReservedQuantity)
	}

	reservation, err := r.reservations.Get("sess1")
	if err != nil {
		t.Fatalf("expected ledger entry: %v", err)
	}
	if reservation.Expired(time.Now()) {
		t.Fatal("fresh reservation must not be expired")
	}
}

func TestEngine_ReserveInsufficientStockMessage(t *testing.T) {
	engine, _ := newEngine(t, baseProduct(), sizedProduct())

	result := engine.Reserve(context.Background(), []domain.StockOperation{
		{ProductID: "prod-1", Quantity: 6},
	}, "sess1", time.Minute)
	if result.Success {
		t.Fatal("expected failure")
	}
	want := "Insufficient stock for Spooky Tee. Available: 5, Requested: 6"
	if len(result.Errors) != 1 || result.Errors[0] != want {
		t.Fatalf("unexpected errors %v", result.Errors)
	}

	result = engine.Reserve(context.Background(), []domain.StockOperation{
		{ProductID: "prod-2", Quantity: 3, Size: "M"},
	}, "sess2", time.Minute)
	want = "Insufficient stock for Haunted Hoodie size M. Available: 2, Requested: 3"
	if len(result.Errors) != 1 || result.Errors[0] != want {
		t.Fatalf("unexpected errors %v", result.Errors)
	}
}

func TestEngine_ReserveAllOrNothing(t *testing.T) {
	engine, r := newEngine(t, baseProduct(), sizedProduct())

	result := engine.Reserve(context.Background(), []domain.StockOperation{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 5, Size: "M"},
	}, "sess1", time.Minute)
	if result.Success {
		t.Fatal("expected failure when one item lacks stock")
	}

	product, _ := r.products.Get("prod-1")
	if product.ReservedQuantity != 0 {
		t.Fatalf("no partial reservation allowed, got reserved %d", product.ReservedQuantity)
	}
	if _, err := r.reservations.Get("sess1"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected no ledger entry, got %v", err)
	}
}

func TestEngine_ReserveReleaseRoundTrip(t *testing.T) {
	engine, r := newEngine(t, sizedProduct())

	ops := []domain.StockOperation{{ProductID: "prod-2", Quantity: 2, Size: "M"}}
	if result := engine.Reserve(context.Background(), ops, "sess1", time.Minute); !result.Success {
		t.Fatalf("reserve failed: %v", result.Errors)
	}
	if result := engine.Release(context.Background(), ops); !result.Success {
		t.Fatalf("release failed: %v", result.Errors)
	}

	product, _ := r.products.Get("prod-2")
	variant, _ := product.VariantBySize("M")
	if variant.ReservedQuantity != 0 {
		t.Fatalf("expected reserved restored to 0, got %d", variant.ReservedQuantity)
	}
	if variant.StockQuantity != 2 {
		t.Fatalf("release must not touch stock, got %d", variant.StockQuantity)
	}
}

func TestEngine_DeductIsDestructive(t *testing.T) {
	engine, r := newEngine(t, baseProduct())

	ops := []domain.StockOperation{{ProductID: "prod-1", Quantity: 3}}
	if result := engine.Reserve(context.Background(), ops, "sess1", time.Minute); !result.Success {
		t.Fatalf("reserve failed: %v", result.Errors)
	}
	if result := engine.Deduct(context.Background(), ops); !result.Success {
		t.Fatalf("deduct failed: %v", result.Errors)
	}

	product, _ := r.products.Get("prod-1")
	if product.StockQuantity != 2 {
		t.Fatalf("expected stock 2 after settle, got %d", product.StockQuantity)
	}
	if product.ReservedQuantity != 0 {
		t.Fatalf("expected reserved 0 after settle, got %d", product.ReservedQuantity)
	}
}

func TestEngine_NoOversellUnderContention(t *testing.T) {
	const (
		units   = 3
		callers = 10
	)

	engine, r := newEngine(t, domain.Product{ID: "prod-1", Title: "Limited Print", StockQuantity: units})

	var wg sync.WaitGroup
	results := make([]domain.OperationResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.Reserve(
				context.Background(),
				[]domain.StockOperation{{ProductID: "prod-1", Quantity: 1}},
				fmt.Sprintf("sess-%d", i),
				time.Minute,
			)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}

	product, _ := r.products.Get("prod-1")
	// Advisory check-then-act: число успехов не обязано быть ровно units
	// при идеально одновременных чтениях, но записанный резерв обязан
	// совпадать с числом успехов — сток не теряется и не задваивается.
	if product.ReservedQuantity != succeeded {
		t.Fatalf("reserved %d must equal successes %d", product.ReservedQuantity, succeeded)
	}
	if succeeded == 0 {
		t.Fatal("expected at least one successful reservation")
	}
	if succeeded > callers {
		t.Fatalf("impossible success count %d", succeeded)
	}
}

func TestEngine_LastUnitGoesToOneBuyer(t *testing.T) {
	engine, _ := newEngine(t, domain.Product{ID: "prod-1", Title: "Last Copy", StockQuantity: 1})

	first := engine.Reserve(context.Background(),
		[]domain.StockOperation{{ProductID: "prod-1", Quantity: 1}}, "sessA", time.Minute)
	second := engine.Reserve(context.Background(),
		[]domain.StockOperation{{ProductID: "prod-1", Quantity: 1}}, "sessB", time.Minute)

	if !first.Success {
		t.Fatalf("first buyer must win: %v", first.Errors)
	}
	if second.Success {
		t.Fatal("second buyer must be rejected")
	}
	want := "Insufficient stock for Last Copy. Available: 0, Requested: 1"
	if len(second.Errors) != 1 || second.Errors[0] != want {
		t.Fatalf("unexpected rejection %v", second.Errors)
	}
}

func TestEngine_ReserveRetriesTransientFailure(t *testing.T) {
	engine, r := newEngine(t, baseProduct())
	r.products.failures = 2

	result := engine.Reserve(context.Background(),
		[]domain.StockOperation{{ProductID: "prod-1", Quantity: 1}}, "sess1", time.Minute)
	if !result.Success {
		t.Fatalf("expected success after retries, got %v", result.Errors)
	}

	product, _ := r.products.Get("prod-1")
	if product.ReservedQuantity != 1 {
		t.Fatalf("expected reserved 1, got %d", product.ReservedQuantity)
	}
}

func TestEngine_ReserveFailsAfterExhaustedRetries(t *testing.T) {
	engine, r := newEngine(t, baseProduct())
	r.products.failures = 10

	result := engine.Reserve(context.Background(),
		[]domain.StockOperation{{ProductID: "prod-1", Quantity: 1}}, "sess1", time.Minute)
	if result.Success {
		t.Fatal("expected failure after exhausted retries")
	}

	product, _ := r.products.Get("prod-1")
	if product.ReservedQuantity != 0 {
		t.Fatalf("expected no reservation, got %d", product.ReservedQuantity)
	}
}

func TestEngine_ReleaseToleratesMissingProduct(t *testing.T) {
	inner := memory.NewProductRepository(baseProduct())
	engine := stock.NewEngine(inner, memory.NewReservationRepository(), memory.NewErrorLogRepository())

	ops := []domain.StockOperation{{ProductID: "prod-1", Quantity: 2}}
	if result := engine.Reserve(context.Background(), ops, "sess1", time.Minute); !result.Success {
		t.Fatalf("reserve failed: %v", result.Errors)
	}

	inner.Delete("prod-1")

	result := engine.Release(context.Background(), ops)
	if !result.Success {
		t.Fatalf("release over deleted product must not fail: %v", result.Errors)
	}
}

func TestEngine_ReleaseAllowsNegativeReserved(t *testing.T) {
	engine, r := newEngine(t, baseProduct())

	ops := []domain.StockOperation{{ProductID: "prod-1", Quantity: 2}}
	if result := engine.Release(context.Background(), ops); !result.Success {
		t.Fatalf("release failed: %v", result.Errors)
	}

	// Двойной release уводит reserved в минус: это сигнал для монитора,
	// а не повод для отказа.
	product, _ := r.products.Get("prod-1")
	if product.ReservedQuantity != -2 {
		t.Fatalf("expected reserved -2, got %d", product.ReservedQuantity)
	}
}

func TestEngine_LedgerWriteFailureIsNonFatal(t *testing.T) {
	inner := memory.NewProductRepository(baseProduct())
	reservations := memory.NewReservationRepository()
	errorLog := memory.NewErrorLogRepository()
	engine := stock.NewEngine(inner, reservations, errorLog)

	ops := []domain.StockOperation{{ProductID: "prod-1", Quantity: 1}}

	// Существующая запись с той же сессией провоцирует ошибку ledger-записи.
	if err := reservations.Create(domain.Reservation{
		SessionID:  "sess1",
		Operations: ops,
		ExpiresAt:  time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result := engine.Reserve(context.Background(), ops, "sess1", time.Minute)
	if !result.Success {
		t.Fatalf("ledger failure must not fail reserve: %v", result.Errors)
	}

	product, _ := inner.Get("prod-1")
	if product.ReservedQuantity != 1 {
		t.Fatalf("expected reserved 1, got %d", product.ReservedQuantity)
	}

	entries, _ := errorLog.ListRecent(10)
	found := false
	for _, entry := range entries {
		if entry.Class == domain.ErrorClassLedgerWrite {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ledger_write_failure entry in error log")
	}
}

func TestEngine_ValidationErrors(t *testing.T) {
	engine, _ := newEngine(t, baseProduct())

	if result := engine.Reserve(context.Background(), nil, "sess1", time.Minute); result.Success {
		t.Fatal("expected failure for empty operations")
	}
	if result := engine.Reserve(context.Background(),
		[]domain.StockOperation{{ProductID: "prod-1", Quantity: 1}}, "", time.Minute); result.Success {
		t.Fatal("expected failure for missing session id")
	}
	if result := engine.Deduct(context.Background(),
		[]domain.StockOperation{{ProductID: "", Quantity: 0}}); result.Success {
		t.Fatal("expected failure for invalid operation")
	}
}
