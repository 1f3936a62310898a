package idempotency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/service/idempotency"
)

type stubCleanupRepo struct {
	deleteResults []int
	deleteErrors  []error
	calls         int
	seenLimits    []int
}

func (s *stubCleanupRepo) CreateProcessing(string, time.Time) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, nil
}

func (s *stubCleanupRepo) Get(string) (domain.IdempotencyRecord, error) {
	return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
}

func (s *stubCleanupRepo) MarkDone(string, []byte) error { return nil }

func (s *stubCleanupRepo) MarkFailed(string, []byte) error { return nil }

func (s *stubCleanupRepo) DeleteExpired(_ time.Time, limit int) (int, error) {
	idx := s.calls
	s.calls++
	s.seenLimits = append(s.seenLimits, limit)

	if idx < len(s.deleteErrors) && s.deleteErrors[idx] != nil {
		return 0, s.deleteErrors[idx]
	}
	if idx < len(s.deleteResults) {
		return s.deleteResults[idx], nil
	}
	return 0, nil
}

func TestCleanupWorker_DeleteExpiredBatches(t *testing.T) {
	repo := &stubCleanupRepo{deleteResults: []int{2, 2, 1}}
	worker := idempotency.NewCleanupWorker(repo, idempotency.WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 5 {
		t.Fatalf("DeleteExpired() deleted = %d, want 5", deleted)
	}
	if repo.calls != 3 {
		t.Fatalf("repo calls = %d, want 3", repo.calls)
	}
	for i, limit := range repo.seenLimits {
		if limit != 2 {
			t.Fatalf("call %d used limit %d, want 2", i, limit)
		}
	}
}

func TestCleanupWorker_DeleteExpiredError(t *testing.T) {
	repoErr := errors.New("storage is down")
	repo := &stubCleanupRepo{
		deleteResults: []int{3, 0},
		deleteErrors:  []error{nil, repoErr},
	}
	worker := idempotency.NewCleanupWorker(repo, idempotency.WithBatchSize(3))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if !errors.Is(err, repoErr) {
		t.Fatalf("DeleteExpired() error = %v, want %v", err, repoErr)
	}
	if deleted != 3 {
		t.Fatalf("DeleteExpired() deleted = %d, want 3", deleted)
	}
}

func TestCleanupWorker_RunStopsOnContextCancel(t *testing.T) {
	repo := &stubCleanupRepo{}
	worker := idempotency.NewCleanupWorker(repo, idempotency.WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}

	if repo.calls == 0 {
		t.Fatal("worker never invoked DeleteExpired")
	}
}
