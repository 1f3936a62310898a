package ratelimit_test

import (
	"testing"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/service/ratelimit"
)

func TestLimiter_QuotaWithinWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(
		ratelimit.WithLimit(5),
		ratelimit.WithWindow(time.Minute),
		ratelimit.WithClock(func() time.Time { return now }),
	)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("client-1") {
			t.Fatalf("attempt %d rejected, want allowed", i+1)
		}
	}
	if limiter.Allow("client-1") {
		t.Fatal("sixth attempt allowed, want rejected")
	}

	// Другой клиент лимит не делит.
	if !limiter.Allow("client-2") {
		t.Fatal("different client rejected")
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(
		ratelimit.WithLimit(2),
		ratelimit.WithWindow(time.Minute),
		ratelimit.WithClock(func() time.Time { return now }),
	)

	if !limiter.Allow("client") || !limiter.Allow("client") {
		t.Fatal("initial attempts rejected")
	}
	if limiter.Allow("client") {
		t.Fatal("over-quota attempt allowed")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("client") {
		t.Fatal("attempt after window expiry rejected")
	}
}

func TestLimiter_RejectedAttemptsDoNotConsumeQuota(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(
		ratelimit.WithLimit(1),
		ratelimit.WithWindow(time.Minute),
		ratelimit.WithClock(func() time.Time { return now }),
	)

	if !limiter.Allow("client") {
		t.Fatal("first attempt rejected")
	}
	for i := 0; i < 10; i++ {
		if limiter.Allow("client") {
			t.Fatal("over-quota attempt allowed")
		}
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("client") {
		t.Fatal("rejected attempts extended the window")
	}
}

func TestLimiter_RefundRestoresQuota(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(
		ratelimit.WithLimit(2),
		ratelimit.WithWindow(time.Minute),
		ratelimit.WithClock(func() time.Time { return now }),
	)

	if !limiter.Allow("client") || !limiter.Allow("client") {
		t.Fatal("initial attempts rejected")
	}
	if limiter.Remaining("client") != 0 {
		t.Fatalf("remaining = %d, want 0", limiter.Remaining("client"))
	}

	limiter.Refund("client")
	if limiter.Remaining("client") != 1 {
		t.Fatalf("remaining after refund = %d, want 1", limiter.Remaining("client"))
	}
	if !limiter.Allow("client") {
		t.Fatal("attempt after refund rejected")
	}

	// Refund без Allow не уводит счетчик в минус.
	limiter.Refund("unknown")
	if limiter.Remaining("unknown") != 2 {
		t.Fatalf("remaining for unknown client = %d, want 2", limiter.Remaining("unknown"))
	}
}

func TestLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(
		ratelimit.WithLimit(5),
		ratelimit.WithWindow(time.Minute),
		ratelimit.WithClock(func() time.Time { return now }),
	)

	// Сотня разовых клиентов, которые больше не вернутся.
	for i := 0; i < 100; i++ {
		if !limiter.Allow(string(rune('a'+i%26)) + string(rune('0'+i/26))) {
			t.Fatalf("one-shot client %d rejected", i)
		}
	}
	if limiter.TrackedClients() != 100 {
		t.Fatalf("tracked clients = %d, want 100", limiter.TrackedClients())
	}

	// Окно прошло; активность одного клиента выметает всех остальных.
	now = now.Add(2 * time.Minute)
	if !limiter.Allow("active") {
		t.Fatal("active client rejected")
	}
	if limiter.TrackedClients() != 1 {
		t.Fatalf("tracked clients after sweep = %d, want 1", limiter.TrackedClients())
	}
}
