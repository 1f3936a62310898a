package domain

import (
	"testing"
	"time"
)

func TestReservation_Validate(t *testing.T) {
	tests := []struct {
		name        string
		reservation *Reservation
		errCount    int
	}{
		{
			name: "valid reservation",
			reservation: &Reservation{
				SessionID:  "cs_test_123",
				Operations: []StockOperation{{ProductID: "prod-1", Quantity: 2}},
				ExpiresAt:  time.Now().Add(30 * time.Minute),
				CreatedAt:  time.Now(),
			},
			errCount: 0,
		},
		{
			name: "missing session id",
			reservation: &Reservation{
				Operations: []StockOperation{{ProductID: "prod-1", Quantity: 2}},
			},
			errCount: 1,
		},
		{
			name:        "no operations",
			reservation: &Reservation{SessionID: "cs_test_123"},
			errCount:    1,
		},
		{
			name: "invalid operation propagates",
			reservation: &Reservation{
				SessionID:  "cs_test_123",
				Operations: []StockOperation{{ProductID: "", Quantity: 0}},
			},
			errCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.reservation.Validate()
			if len(errs) != tt.errCount {
				t.Fatalf("expected %d errors, got %d: %v", tt.errCount, len(errs), errs)
			}
		})
	}
}

func TestReservation_Expired(t *testing.T) {
	now := time.Now()

	r := Reservation{SessionID: "cs_1", ExpiresAt: now.Add(-time.Second)}
	if !r.Expired(now) {
		t.Fatal("expected reservation to be expired")
	}

	r.ExpiresAt = now.Add(time.Minute)
	if r.Expired(now) {
		t.Fatal("expected reservation to be active")
	}
}

func TestIdempotencyStatus_Valid(t *testing.T) {
	for _, s := range []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed} {
		if !s.Valid() {
			t.Fatalf("expected status %q to be valid", s)
		}
	}
	if IdempotencyStatus("unknown").Valid() {
		t.Fatal("expected unknown status to be invalid")
	}
}
