package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/storage/memory"
)

func TestIdempotencyRepository_CreateProcessing(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	record, err := repo.CreateProcessing("evt_1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected status %q", record.Status)
	}

	_, err = repo.CreateProcessing("evt_1", time.Now().Add(time.Hour))
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}

	if _, err := repo.CreateProcessing("", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
}

func TestIdempotencyRepository_MarkDone(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("evt_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.MarkDone("evt_1", []byte(`{"handled":true}`)); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}

	record, err := repo.Get("evt_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusDone {
		t.Fatalf("unexpected status %q", record.Status)
	}
	if string(record.Result) != `{"handled":true}` {
		t.Fatalf("unexpected result %q", record.Result)
	}

	if err := repo.MarkDone("missing", nil); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	if _, err := repo.CreateProcessing("evt_old", now.Add(-time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.CreateProcessing("evt_live", now.Add(time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := repo.DeleteExpired(now, 100)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	if _, err := repo.Get("evt_old"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected evt_old to be gone, got %v", err)
	}
	if _, err := repo.Get("evt_live"); err != nil {
		t.Fatalf("expected evt_live to survive, got %v", err)
	}
}
