// Package app wires the application together: configuration in, a ready
// set of services out. Everything optional (remote store, message broker,
// lease store) degrades to a noop when unconfigured.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	licensingApp "github.com/felixgeelhaar/nekosync/internal/licensing/application"
	"github.com/felixgeelhaar/nekosync/internal/licensing/infrastructure/identity"
	licensingPersistence "github.com/felixgeelhaar/nekosync/internal/licensing/infrastructure/persistence"
	"github.com/felixgeelhaar/nekosync/internal/shared/infrastructure/database/postgres"
	"github.com/felixgeelhaar/nekosync/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/nekosync/internal/shared/infrastructure/eventbus"
	syncApp "github.com/felixgeelhaar/nekosync/internal/syncing/application"
	syncDomain "github.com/felixgeelhaar/nekosync/internal/syncing/domain"
	"github.com/felixgeelhaar/nekosync/internal/syncing/infrastructure/lease"
	"github.com/felixgeelhaar/nekosync/internal/syncing/infrastructure/localstore"
	syncPersistence "github.com/felixgeelhaar/nekosync/internal/syncing/infrastructure/persistence"
	"github.com/felixgeelhaar/nekosync/internal/syncing/infrastructure/remotestore"
	"github.com/felixgeelhaar/nekosync/pkg/clock"
	"github.com/felixgeelhaar/nekosync/pkg/config"
	"github.com/felixgeelhaar/nekosync/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics observability.Metrics
	Health  *observability.HealthRegistry

	// Storage
	DB   *sql.DB       // set when driver is sqlite
	Pool *pgxpool.Pool // set when driver is postgres

	RedisClient *redis.Client

	// Events
	Publisher eventbus.Publisher

	// Identity
	DeviceID string

	// Licensing
	LicenseService *licensingApp.Service
	Entitlements   *licensingApp.EntitlementService
	Gate           *licensingApp.Gate
	Validation     *licensingApp.ValidationScheduler

	// Syncing. Nil unless a remote store is configured.
	Scheduler   *syncApp.Scheduler
	Coordinator *syncApp.Coordinator
	LocalStore  *localstore.FileStore
}

// NewContainer builds the dependency graph. It connects to the state
// database and, when configured, the message broker and lease store; the
// sync scheduler is constructed but not started.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	deviceID, err := identity.LoadOrCreateDeviceID(filepath.Join(cfg.DataDir, "device_id"))
	if err != nil {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}
	c.DeviceID = deviceID

	if cfg.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect message broker: %w", err)
		}
		c.Publisher = publisher
	} else {
		c.Publisher = eventbus.NewNoopPublisher(logger)
	}

	stateRepo, historyRepo, err := c.openDatabase(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.wireLicensing(cfg, deviceID)

	if err := c.wireSyncing(ctx, cfg, deviceID, stateRepo, historyRepo); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("container initialized",
		"database_driver", cfg.DatabaseDriver,
		"remote_configured", cfg.RemoteURL != "",
		"broker_configured", cfg.RabbitMQURL != "",
		"lease_configured", cfg.RedisAddr != "",
	)
	return c, nil
}

func (c *Container) openDatabase(ctx context.Context, cfg *config.Config) (syncDomain.StateRepository, syncDomain.HistoryRepository, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		c.Pool = pool
		c.Health.Register("database", observability.DatabaseHealthChecker(pool.Ping))
		stateRepo, err := syncPersistence.NewPostgresStateRepository(ctx, pool, cfg.AccountID)
		if err != nil {
			return nil, nil, err
		}
		historyRepo, err := syncPersistence.NewPostgresHistoryRepository(ctx, pool, cfg.AccountID)
		if err != nil {
			return nil, nil, err
		}
		return stateRepo, historyRepo, nil

	default:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		c.DB = db
		c.Health.Register("database", observability.DatabaseHealthChecker(db.PingContext))
		stateRepo, err := syncPersistence.NewSQLiteStateRepository(ctx, db, cfg.AccountID)
		if err != nil {
			return nil, nil, err
		}
		historyRepo, err := syncPersistence.NewSQLiteHistoryRepository(ctx, db, cfg.AccountID)
		if err != nil {
			return nil, nil, err
		}
		return stateRepo, historyRepo, nil
	}
}

func (c *Container) wireLicensing(cfg *config.Config, deviceID string) {
	licenseRepo := licensingPersistence.NewFileRepository(cfg.LicensePath)
	authority := identity.NewHTTPAuthority(cfg.AuthorityURL, cfg.AuthorityTimeout, c.Logger, c.Metrics)

	c.LicenseService = licensingApp.NewService(
		licenseRepo,
		authority,
		c.Publisher,
		clock.System(),
		c.Logger,
		cfg.AccountID,
		deviceID,
		licensingApp.Config{
			ValidationInterval: cfg.ValidationInterval,
			GracePeriod:        cfg.GracePeriod,
		},
	)
	c.Entitlements = licensingApp.NewEntitlementService(c.LicenseService)
	c.Gate = licensingApp.NewGate(c.Entitlements, c.Logger)
	c.Validation = licensingApp.NewValidationScheduler(c.LicenseService, c.Logger, c.Metrics)
}

func (c *Container) wireSyncing(ctx context.Context, cfg *config.Config, deviceID string, stateRepo syncDomain.StateRepository, historyRepo syncDomain.HistoryRepository) error {
	if cfg.RemoteURL == "" {
		return nil
	}

	remote, err := remotestore.NewWebDAVStore(remotestore.Config{
		Endpoint:     cfg.RemoteURL,
		AccountID:    cfg.AccountID,
		Username:     cfg.RemoteUsername,
		Password:     cfg.RemotePassword,
		TokenURL:     cfg.RemoteTokenURL,
		ClientID:     cfg.RemoteClientID,
		ClientSecret: cfg.RemoteClientSecret,
		Timeout:      cfg.RemoteTimeout,
	}, c.Logger, c.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create remote store: %w", err)
	}

	c.LocalStore = localstore.NewFileStore(cfg.LibraryPath)

	var cycleLease syncDomain.Lease = lease.NoopLease{}
	if cfg.RedisAddr != "" {
		c.RedisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		c.Health.Register("lease_store", observability.RedisHealthChecker(func(ctx context.Context) error {
			return c.RedisClient.Ping(ctx).Err()
		}))
		cycleLease = lease.NewRedisLease(c.RedisClient, cfg.AccountID, deviceID, cfg.LeaseTTL, c.Logger)
	}

	executor := syncApp.NewSyncExecutor(remote, c.LocalStore, cycleLease, clock.System(), c.Logger, c.Metrics)

	c.Scheduler = syncApp.NewScheduler(syncApp.SchedulerDeps{
		StateRepo: stateRepo,
		History:   historyRepo,
		Executor:  executor,
		Gate:      c.Gate,
		Clock:     clock.System(),
		Timers:    clock.NewSystemTimers(),
		Publisher: c.Publisher,
		Logger:    c.Logger,
		Metrics:   c.Metrics,
		AccountID: cfg.AccountID,
	}, syncApp.Config{
		Debounce:   cfg.SyncDebounce,
		Cooldown:   cfg.SyncCooldown,
		MaxRetries: cfg.SyncMaxRetries,
	})
	c.Coordinator = syncApp.NewCoordinator(c.Scheduler, c.Gate, historyRepo, c.Logger)
	return nil
}

// SyncConfigured reports whether a remote store is wired. Sync commands
// are unavailable without one.
func (c *Container) SyncConfigured() bool {
	return c.Coordinator != nil
}

// StartScheduler begins the sync engine loop. No-op when sync is not
// configured.
func (c *Container) StartScheduler(ctx context.Context) error {
	if c.Scheduler == nil {
		return nil
	}
	return c.Scheduler.Start(ctx)
}

// Close releases all resources. Safe to call on a partially built
// container.
func (c *Container) Close() {
	if c.Scheduler != nil && c.Scheduler.IsRunning() {
		c.Scheduler.Stop()
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("failed to close database", "error", err)
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
