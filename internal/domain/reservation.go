package domain

import "time"

// Reservation — ledger-запись о временном холде стока под checkout-сессию.
// Создаётся только после успешного reserve, удаляется после deduct/release
// или при истечении срока; никогда не мутируется на месте.
type Reservation struct {
	SessionID  string
	Operations []StockOperation
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Validate проверяет, корректно ли заполнена ledger-запись.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.SessionID == "" {
		errs = append(errs, ErrSessionIDRequired)
	}
	if len(r.Operations) == 0 {
		errs = append(errs, ErrOperationsRequired)
	}
	for _, op := range r.Operations {
		errs = append(errs, op.Validate()...)
	}

	return errs
}

// Expired сообщает, истёк ли холд к моменту now.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
