package container

import (
	"context"
	"fmt"

	"vipcommerce/imagefetch/internal/client"
	"vipcommerce/imagefetch/internal/config"
	"vipcommerce/imagefetch/internal/downloader"
	"vipcommerce/imagefetch/internal/repository"
	"vipcommerce/imagefetch/internal/service"
	"vipcommerce/imagefetch/internal/state"
	"vipcommerce/imagefetch/internal/uploader"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Container holds all initialized components
type Container struct {
	Config       *config.Config
	Client       client.CatalogClient
	Dispatcher   downloader.Dispatcher
	Repository   repository.CatalogRepository
	StateManager state.StateManager
	Uploader     uploader.Uploader

	Service *service.Service

	db    *pgxpool.Pool
	redis *redis.Client
}

// New creates a new container with all dependencies initialized. Postgres,
// Redis and GCS are wired only when configured; the core pipeline runs
// without them.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		Config: cfg,
	}

	container.Client = client.NewCatalogClient(cfg.API)
	container.Dispatcher = downloader.NewDispatcher(cfg.Download)

	if cfg.Database.Enabled() {
		db, err := pgxpool.New(ctx,
			fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
				cfg.Database.Host,
				cfg.Database.Port,
				cfg.Database.User,
				cfg.Database.Password,
				cfg.Database.Name,
			))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		container.db = db
		container.Repository = repository.NewCatalogRepository(db)
		log.Info("✅ Connected to Postgres")
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		container.redis = rdb
		container.StateManager = state.NewRedisStateManager(rdb)
		log.Info("✅ Connected to Redis")
	}

	if cfg.Storage.Enabled() {
		upl, err := uploader.NewGCSUploader(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize uploader: %w", err)
		}
		container.Uploader = upl
	}

	container.Service = service.NewService(
		cfg,
		container.Client,
		container.Dispatcher,
		container.Repository,
		container.StateManager,
		container.Uploader,
	)

	return container, nil
}

// Run executes the configured pipeline stages
func (c *Container) Run(ctx context.Context) error {
	return c.Service.Run(ctx)
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	if c.db != nil {
		c.db.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.Warnf("Failed to close Redis client: %v", err)
		}
	}
	if c.Uploader != nil {
		if err := c.Uploader.Close(); err != nil {
			log.Warnf("Failed to close storage client: %v", err)
		}
	}
	return nil
}
