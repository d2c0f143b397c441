package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const storagePingTimeout = 2 * time.Second

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	repo           domain.OrderRepository
	outboxRepo     domain.OutboxRepository
	timelineRepo   domain.TimelineRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies создаёт хранилища для выбранного драйвера.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			repo:         memory.NewOrderRepository(),
			outboxRepo:   memory.NewOutboxRepository(),
			timelineRepo: memory.NewTimelineRepository(),
			storageChecker: healthcheck.NewSimpleChecker("storage", func() error {
				return nil
			}),
			closeFn: func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			version, applied, err := store.MigrationStatus(ctx)
			if err == nil {
				logger.WithFields(log.Fields{
					"schema_version": version,
					"applied":        applied,
				}).Info("postgres schema is up to date")
			}
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			repo:           postgres.NewOrderRepository(store),
			outboxRepo:     postgres.NewOutboxRepository(store),
			timelineRepo:   postgres.NewTimelineRepository(store),
			storageChecker: healthcheck.NewPingChecker("storage", storagePingTimeout, store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
