package memory_test

import (
	"testing"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/storage/memory"
)

func TestErrorLogRepository_AppendCount(t *testing.T) {
	repo := memory.NewErrorLogRepository()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if err := repo.Append(domain.ErrorLogEntry{
			Class:    domain.ErrorClassInsufficientStock,
			Severity: domain.SeverityMedium,
			Message:  "Insufficient stock for Ghost Stories. Available: 0, Requested: 1",
		}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := repo.Append(domain.ErrorLogEntry{
		Class:    domain.ErrorClassLedgerWrite,
		Severity: domain.SeverityLow,
		Message:  "ledger write failed",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	count, err := repo.CountSince(domain.ErrorClassInsufficientStock, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 insufficient-stock entries, got %d", count)
	}

	count, err = repo.CountSince(domain.ErrorClassInsufficientStock, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 failures in future window, got %d", count)
	}
}

func TestErrorLogRepository_ListRecent(t *testing.T) {
	repo := memory.NewErrorLogRepository()

	if err := repo.Append(domain.ErrorLogEntry{Class: domain.ErrorClassNotFound, Message: "first"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := repo.Append(domain.ErrorLogEntry{Class: domain.ErrorClassNotFound, Message: "second"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	entries, err := repo.ListRecent(1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "second" {
		t.Fatalf("expected newest entry first, got %q", entries[0].Message)
	}
	if entries[0].ID == "" {
		t.Fatal("expected generated id")
	}
}
