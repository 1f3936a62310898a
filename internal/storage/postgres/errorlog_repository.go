package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

type errorLogRepository struct {
	db *sql.DB
}

// NewErrorLogRepository создаёт PostgreSQL-реализацию ErrorLogRepository.
func NewErrorLogRepository(store *Store) domain.ErrorLogRepository {
	return &errorLogRepository{db: store.DB()}
}

func (r *errorLogRepository) Append(entry domain.ErrorLogEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO error_log (id, class, severity, message, session_id, product_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		entry.ID, string(entry.Class), string(entry.Severity), entry.Message,
		entry.SessionID, entry.ProductID, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("append error log entry: %w", err)
	}

	return nil
}

func (r *errorLogRepository) CountSince(class domain.ErrorClass, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM error_log
		WHERE class = $1
		  AND created_at > $2
	`, string(class), since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count error log entries: %w", err)
	}

	return count, nil
}

func (r *errorLogRepository) ListRecent(limit int) ([]domain.ErrorLogEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, class, severity, message, session_id, product_id, created_at
		FROM error_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list error log entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ErrorLogEntry, 0, limit)
	for rows.Next() {
		var (
			entry    domain.ErrorLogEntry
			class    string
			severity string
		)
		if err := rows.Scan(
			&entry.ID, &class, &severity, &entry.Message,
			&entry.SessionID, &entry.ProductID, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan error log entry: %w", err)
		}
		entry.Class = domain.ErrorClass(class)
		entry.Severity = domain.Severity(severity)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error log entries: %w", err)
	}

	return entries, nil
}

var _ domain.ErrorLogRepository = (*errorLogRepository)(nil)
