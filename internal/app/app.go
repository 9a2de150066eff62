// Package app builds the gateway's long-lived services from configuration and
// owns their shutdown. Each backend falls back to an in-memory implementation
// when its config section is empty.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/api"
	"github.com/JakeFAU/scrape-engine-gateway/internal/clock/system"
	"github.com/JakeFAU/scrape-engine-gateway/internal/config"
	"github.com/JakeFAU/scrape-engine-gateway/internal/dispatcher"
	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/hash/sha256"
	"github.com/JakeFAU/scrape-engine-gateway/internal/id/uuid"
	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
	"github.com/JakeFAU/scrape-engine-gateway/internal/policy/admission"
	"github.com/JakeFAU/scrape-engine-gateway/internal/policy/ratelimit"
	"github.com/JakeFAU/scrape-engine-gateway/internal/poller"
	pubmemory "github.com/JakeFAU/scrape-engine-gateway/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/scrape-engine-gateway/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/scrape-engine-gateway/internal/queue/memory"
	"github.com/JakeFAU/scrape-engine-gateway/internal/scrape"
	"github.com/JakeFAU/scrape-engine-gateway/internal/storage/gcs"
	"github.com/JakeFAU/scrape-engine-gateway/internal/storage/local"
	"github.com/JakeFAU/scrape-engine-gateway/internal/storage/memory"
	"github.com/JakeFAU/scrape-engine-gateway/internal/storage/postgres"
	redisstore "github.com/JakeFAU/scrape-engine-gateway/internal/storage/redis"
	"github.com/JakeFAU/scrape-engine-gateway/internal/telemetry"
	"github.com/JakeFAU/scrape-engine-gateway/internal/transport"
	"github.com/JakeFAU/scrape-engine-gateway/internal/worker"
)

// memoryEventLimit bounds the completion events kept when Pub/Sub is off.
const memoryEventLimit = 1000

// App holds the services shared by the HTTP server and the worker pool.
type App struct {
	Scraper  *scrape.Scraper
	JobStore jobs.JobStore
	Queue    *queueMemory.Queue
	Pool     *worker.Pool
	Policy   *admission.Policy
	Ready    map[string]api.ReadinessCheck

	logger  *zap.Logger
	closers []func()
}

// NewScraper wires transport, dispatcher and poller defaults into the scrape
// facade. scrapectl uses it on its own; New builds on it.
func NewScraper(cfg config.Config, logger *zap.Logger) (*scrape.Scraper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := transport.New(nil, transport.Config{
		Timeout:     cfg.Engine.RequestTimeout,
		BackoffBase: cfg.Engine.BackoffInitial,
		BackoffMax:  cfg.Engine.BackoffMax,
	}, logger.Named("transport"))
	disp, err := dispatcher.New(client, dispatcher.Config{
		BaseURL:         cfg.Engine.BaseURL,
		DispatchRetries: cfg.Engine.DispatchRetries,
		StatusRetries:   cfg.Engine.StatusRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	defaults := poller.Config{
		Timeout:      cfg.Engine.Timeout,
		MaxAnomalies: cfg.Engine.MaxAnomalies,
		Interval:     cfg.Engine.PollInterval,
	}
	return scrape.New(disp, defaults, telemetry.NewHeaderSource(telemetry.NewPropagator()), logger.Named("scrape")), nil
}

// New builds every service. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger, Ready: map[string]api.ReadinessCheck{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Scraper, err = NewScraper(cfg, logger)
	if err != nil {
		return nil, err
	}
	clock := system.New()

	if a.JobStore, err = a.buildJobStore(cfg, clock); err != nil {
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	attempts, err := a.buildAttemptStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Policy = admission.New(cfg.Policy.BlockedDomains)
	a.Queue = queueMemory.NewQueue(cfg.Worker.QueueDepth)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Worker.EngineRPS,
		DefaultBurst: cfg.Worker.EngineBurst,
		PerEngine:    limiterOverrides(cfg),
	})
	deps := worker.Deps{
		Queue:     a.Queue,
		JobStore:  a.JobStore,
		BlobStore: blobs,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     clock,
		Scraper:   a.Scraper,
		Limiter:   limiter,
	}
	if attempts != nil {
		deps.Attempts = attempts
	}
	workerCfg := worker.Config{BlobPrefix: cfg.Storage.Prefix, Topic: cfg.PubSub.TopicName}
	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(deps, workerCfg, logger.Named("worker").With(zap.Int("index", i))))
	}
	a.Pool = worker.NewPool(a.Queue, workers)

	logger.Info("application services initialized",
		zap.Int("workers", cfg.Worker.Concurrency),
		zap.Int("queue_depth", cfg.Worker.QueueDepth),
	)
	return a, nil
}

// APIDeps returns the handler collaborators backed by this App.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Scraper:  a.Scraper,
		JobStore: a.JobStore,
		Queue:    a.Queue,
		IDGen:    uuid.New(),
		Clock:    system.New(),
		Admitter: a.Policy,
		Ready:    a.Ready,
	}
}

// Close shuts services down in reverse order of construction.
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildJobStore(cfg config.Config, clock jobs.Clock) (jobs.JobStore, error) {
	if cfg.Redis.Addr == "" {
		a.logger.Info("using in-memory job store")
		return memory.NewJobStore(clock), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.onClose(func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close redis client", zap.Error(err))
		}
	})
	store, err := redisstore.NewJobStore(client, redisstore.Config{
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL,
	}, clock)
	if err != nil {
		return nil, fmt.Errorf("init redis job store: %w", err)
	}
	a.Ready["redis"] = store.Ping
	a.logger.Info("using redis job store", zap.String("addr", cfg.Redis.Addr))
	return store, nil
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config) (jobs.BlobStore, error) {
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		a.logger.Info("using gcs blob store", zap.String("bucket", cfg.Storage.GCSBucket))
		return store, nil
	case cfg.Storage.LocalDir != "":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("dir", cfg.Storage.LocalDir))
		return store, nil
	default:
		a.logger.Info("using in-memory blob store")
		return memory.NewBlobStore(), nil
	}
}

func (a *App) buildAttemptStore(ctx context.Context, cfg config.Config) (*postgres.AttemptStore, error) {
	if cfg.DB.DSN == "" {
		return nil, nil
	}
	store, err := postgres.NewAttemptStore(ctx, postgres.AttemptStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init attempt store: %w", err)
	}
	a.onClose(store.Close)
	a.logger.Info("recording attempts to postgres", zap.String("table", cfg.DB.Table))
	return store, nil
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (jobs.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		a.logger.Info("using in-memory publisher")
		return pubmemory.New(memoryEventLimit), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.onClose(func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	publisher := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
	a.onClose(publisher.Stop)
	a.logger.Info("publishing completion events to pubsub",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func limiterOverrides(cfg config.Config) map[engine.Kind]ratelimit.EngineLimit {
	out := map[engine.Kind]ratelimit.EngineLimit{}
	for kind, lim := range cfg.PerEngineLimits() {
		out[kind] = ratelimit.EngineLimit{RPS: lim.RPS, Burst: lim.Burst}
	}
	return out
}
