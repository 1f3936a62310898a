package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

type reservationRepository struct {
	db *sql.DB
}

// NewReservationRepository создаёт PostgreSQL-реализацию ReservationRepository.
func NewReservationRepository(store *Store) domain.ReservationRepository {
	return &reservationRepository{db: store.DB()}
}

func (r *reservationRepository) Create(reservation domain.Reservation) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	operations, err := json.Marshal(reservation.Operations)
	if err != nil {
		return fmt.Errorf("marshal reservation operations: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reservations (session_id, operations, expires_at, created_at)
		VALUES ($1,$2,$3,$4)
	`,
		reservation.SessionID, operations, reservation.ExpiresAt.UTC(), reservation.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrReservationExists
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	return nil
}

func (r *reservationRepository) Get(sessionID string) (domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, operations, expires_at, created_at
		FROM reservations
		WHERE session_id = $1
	`, sessionID)

	reservation, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, err
	}

	return reservation, nil
}

func (r *reservationRepository) Delete(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Отсутствие записи — не ошибка: удаление идемпотентно.
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM reservations WHERE session_id = $1
	`, sessionID); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}

	return nil
}

func (r *reservationRepository) ListExpired(before time.Time, limit int) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, operations, expires_at, created_at
		FROM reservations
		WHERE expires_at < $1
		ORDER BY expires_at, session_id
		LIMIT $2
	`, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Reservation, 0, limit)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		reservation domain.Reservation
		operations  []byte
	)

	if err := row.Scan(
		&reservation.SessionID, &operations,
		&reservation.ExpiresAt, &reservation.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, err
		}
		return domain.Reservation{}, fmt.Errorf("scan reservation row: %w", err)
	}

	if err := json.Unmarshal(operations, &reservation.Operations); err != nil {
		return domain.Reservation{}, fmt.Errorf("unmarshal reservation operations: %w", err)
	}

	return reservation, nil
}

var _ domain.ReservationRepository = (*reservationRepository)(nil)
