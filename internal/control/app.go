// Package control wires the pipeline together and manages its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/pressly/goose/v3"

	"github.com/sabaipics/face-indexer/internal/core/config"
	"github.com/sabaipics/face-indexer/internal/faceapi"
	"github.com/sabaipics/face-indexer/internal/faceapi/hosted"
	"github.com/sabaipics/face-indexer/internal/faceapi/rekognition"
	"github.com/sabaipics/face-indexer/internal/indexing/cleanup"
	"github.com/sabaipics/face-indexer/internal/indexing/health"
	"github.com/sabaipics/face-indexer/internal/indexing/orchestrator"
	"github.com/sabaipics/face-indexer/internal/indexing/telemetry"
	"github.com/sabaipics/face-indexer/internal/infra/objectstore"
	"github.com/sabaipics/face-indexer/internal/infra/queue"
	redisclient "github.com/sabaipics/face-indexer/internal/infra/redis"
	"github.com/sabaipics/face-indexer/internal/infra/storage/postgres"
	"github.com/sabaipics/face-indexer/internal/ratelimit"
	"github.com/sabaipics/face-indexer/migrations"
)

// App is the indexer service: two queue consumers plus the health/metrics
// listener, sharing one database, one Redis connection, and one face
// service.
type App struct {
	cfg *config.AppConfig

	db           *postgres.DB
	redisClient  *redisclient.Client
	objects      *objectstore.Store
	healthServer *health.Server
	consumers    []*queue.Consumer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp initializes every dependency, runs migrations, and wires the
// consumers. Nothing starts running until Start.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.Up(db.DB.DB, "."); err != nil {
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewRedisLimiter(redisClient.Scripter(), cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to init rate limiter: %w", err)
	}

	objects, err := objectstore.NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	faceService, err := newFaceService(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	slog.Info("face provider initialized", "provider", cfg.FaceProvider.Provider)

	sink := telemetry.NewSink(slog.Default())

	indexQueue, err := queue.New(db.DB.DB, cfg.Queues.IndexPhoto)
	if err != nil {
		return nil, err
	}
	cleanupQueue, err := queue.New(db.DB.DB, cfg.Queues.CleanupEvent)
	if err != nil {
		return nil, err
	}

	indexer := orchestrator.New(db, objects, faceService, limiter, sink, cfg.Pipeline)
	cleaner := cleanup.New(db.Photos(), db.Events(), faceService, sink, cfg.Cleanup)

	monitor := health.NewMonitor()
	monitor.Register("database", db.Health)
	monitor.Register("redis", redisClient.Ping)

	return &App{
		cfg:          cfg,
		db:           db,
		redisClient:  redisClient,
		objects:      objects,
		healthServer: health.NewServer(monitor, cfg.Server.Port),
		consumers: []*queue.Consumer{
			queue.NewConsumer(indexQueue, indexer),
			queue.NewConsumer(cleanupQueue, cleaner),
		},
	}, nil
}

// newFaceService builds the configured provider.
func newFaceService(ctx context.Context, cfg *config.AppConfig, db *postgres.DB) (faceapi.FaceService, error) {
	switch cfg.FaceProvider.Provider {
	case "rekognition":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.FaceProvider.Rekognition.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return rekognition.NewClient(awsCfg, cfg.FaceProvider.Rekognition.Config), nil
	case "hosted":
		return hosted.NewClient(cfg.FaceProvider.Hosted, postgres.NewEmbeddingRepo(db))
	default:
		return nil, fmt.Errorf("unknown face provider %q", cfg.FaceProvider.Provider)
	}
}

// Start launches the consumers and the health server.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	for _, c := range a.consumers {
		c := c
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := c.Run(runCtx); err != nil {
				slog.Error("consumer stopped with error", "error", err)
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server stopped with error", "error", err)
		}
	}()

	slog.Info("indexer started", "port", a.cfg.Server.Port)
	return nil
}

// Stop shuts everything down, waiting for in-flight batches to settle
// until ctx expires.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		slog.Warn("health server shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timed out waiting for consumers")
	}

	if err := a.redisClient.Close(); err != nil {
		slog.Warn("redis close", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("database close", "error", err)
	}
	return nil
}
