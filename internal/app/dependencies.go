package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/storage/memory"
	"github.com/fraser-stanley/spooky-stock/internal/storage/postgres"
)

// Dependencies содержит хранилища приложения.
type Dependencies struct {
	Products     domain.ProductRepository
	Reservations domain.ReservationRepository
	Idempotency  domain.IdempotencyRepository
	ErrorLog     domain.ErrorLogRepository
	Outbox       domain.OutboxRepository

	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies создаёт хранилища согласно cfg.StorageDriver.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &Dependencies{
			Products:     memory.NewProductRepository(),
			Reservations: memory.NewReservationRepository(),
			Idempotency:  memory.NewIdempotencyRepository(),
			ErrorLog:     memory.NewErrorLogRepository(),
			Outbox:       memory.NewOutboxRepository(),
			Logger:       logger,
		}, nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		logger.Info("using postgres storage")
		return &Dependencies{
			Products:     postgres.NewProductRepository(store),
			Reservations: postgres.NewReservationRepository(store),
			Idempotency:  postgres.NewIdempotencyRepository(store),
			ErrorLog:     postgres.NewErrorLogRepository(store),
			Outbox:       postgres.NewOutboxRepository(store),
			Store:        store,
			Logger:       logger,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d == nil || d.Store == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}
