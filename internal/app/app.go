package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/DRSN-tech/price-sync/internal/cfg"
	v1Http "github.com/DRSN-tech/price-sync/internal/delivery/v1/http"
	"github.com/DRSN-tech/price-sync/internal/infrastructure/kafka"
	"github.com/DRSN-tech/price-sync/internal/infrastructure/scheduler"
	s3Repo "github.com/DRSN-tech/price-sync/internal/repository/minio"
	"github.com/DRSN-tech/price-sync/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/price-sync/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/price-sync/internal/repository/redis"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/clients"
	"github.com/DRSN-tech/price-sync/pkg/closer"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
	"github.com/DRSN-tech/price-sync/pkg/postgres"
	"github.com/DRSN-tech/price-sync/pkg/tr"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

const (
	startupTimeout    = 30 * time.Second
	topicTimeout      = 10 * time.Second
	initializeTimeout = 2 * time.Minute
)

// App — собранное приложение: очередь, воркеры и HTTP-сервер.
type App struct {
	cfg       *config.Config
	logger    logger.Logger
	closer    *closer.Closer
	queue     *usecase.JobQueue
	outbox    *kafka.OutboxWorker
	scheduler *scheduler.Scheduler
	registry  *usecase.ScraperRegistry
	httpSrv   *v1Http.Server
}

// NewApp поднимает подключения и собирает зависимости. При ошибке уже открытые ресурсы закрываются.
func NewApp(cfg *config.Config, log logger.Logger) (_ *App, err error) {
	a := &App{
		cfg:    cfg,
		logger: log,
		closer: closer.NewCloser(0),
	}
	defer func() {
		if err != nil {
			_ = a.closer.Close(context.Background())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	merchants, err := config.LoadMerchants(cfg.MerchantsFile)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	db, err := initPGDB(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	a.closer.Add("postgres", db.Close)

	redisClient := clients.NewRedisClient(cfg.Redis)
	if err := redisClient.Ping(ctx); err != nil {
		_ = redisClient.Close(ctx)
		log.Errorf(err, "failed to connect to redis")
		return nil, err
	}
	a.closer.Add("redis", redisClient.Close)
	robotsRepo := redis.NewRobotsRepo(redisClient.Client, cfg.Redis, log)

	var archive usecase.PageArchive
	if cfg.Minio.Enabled {
		minioClient, err := clients.NewMinIOClient(cfg.Minio)
		if err != nil {
			log.Errorf(err, "failed to initialize minio client")
			return nil, err
		}
		if err := clients.EnsureBucket(ctx, minioClient, cfg.Minio.BucketName); err != nil {
			log.Errorf(err, "failed to initialize MinIO bucket")
			return nil, err
		}
		archive = s3Repo.NewSnapshotRepo(minioClient, cfg.Minio)
	} else {
		log.Infof("MinIO endpoint not set, page snapshots disabled")
	}

	producer, err := kafka.NewProducer(log, cfg.Kafka)
	if err != nil {
		log.Errorf(err, "failed to initialize kafka producer")
		return nil, err
	}
	a.closer.Add("kafka producer", producer.Close)
	topicCtx, topicCancel := context.WithTimeout(ctx, topicTimeout)
	err = producer.EnsureTopic(topicCtx)
	topicCancel()
	if err != nil {
		log.Errorf(err, "failed to ensure kafka topic")
		return nil, err
	}

	merchantRepo := pgdb.NewMerchantRepo(db.Pool, pgdbConv.MerchantConverterImpl{})
	productRepo := pgdb.NewProductRepo(db.Pool, pgdbConv.ProductConverterImpl{})
	listingRepo := pgdb.NewListingRepo(db.Pool, pgdbConv.ListingConverterImpl{})
	jobRepo := pgdb.NewJobRepo(db.Pool, pgdbConv.JobConverterImpl{})
	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool, pgdbConv.OutboxEventConverterImpl{})

	reconciler := usecase.NewReconcileUC(merchantRepo, productRepo, listingRepo, outboxRepo, tr.NewManager(db.Pool), log)
	for _, m := range merchants {
		if _, err := reconciler.EnsureMerchant(ctx, m.Name, m.BaseURL); err != nil {
			log.Errorf(err, "failed to register merchant %s", m.Name)
			return nil, err
		}
	}

	scrapers, err := buildScrapers(cfg.Scraper, merchants, robotsRepo, archive, log)
	if err != nil {
		return nil, err
	}
	a.registry = usecase.NewScraperRegistry()
	for _, s := range scrapers {
		a.registry.Register(s)
	}

	a.queue = usecase.NewJobQueue(jobRepo, a.registry, reconciler, log, cfg.Queue.Concurrency)
	if err := a.queue.Recover(ctx); err != nil {
		log.Errorf(err, "failed to recover interrupted jobs")
		return nil, err
	}

	a.outbox = kafka.NewOutboxWorker(outboxRepo, log, producer, db.Dsn)
	a.scheduler = scheduler.New(a.queue, cfg.Queue.SyncInterval, log)

	r := chi.NewRouter()
	v1Http.NewRouter(r, log).Init(a.queue)
	a.httpSrv = v1Http.NewServer(r, cfg.Http)

	return a, nil
}

// Run запускает фоновые компоненты и HTTP-сервер и блокируется до сигнала или фатальной ошибки.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	a.registry.InitializeAll(initCtx, a.logger)
	cancel()

	a.outbox.Start(ctx)
	a.closer.Add("outbox worker", a.outbox.Stop)

	a.closer.Add("job queue", a.queue.Close)

	a.scheduler.Start(ctx)
	a.closer.Add("scheduler", a.scheduler.Stop)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil {
			errCh <- err
		}
	}()
	a.closer.Add("http server", a.httpSrv.Stop)

	var appErr error
	select {
	case appErr = <-errCh:
		a.logger.Errorf(appErr, "HTTP server fatal error")
	case <-ctx.Done():
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Queue.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.closer.Close(shutdownCtx); err != nil {
		a.logger.Errorf(err, "Shutdown finished with errors")
		if appErr == nil {
			appErr = err
		}
	}

	a.logger.Infof("Application shutdown complete")
	return appErr
}

func initPGDB(ctx context.Context, logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(ctx, cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(cfg.MigrationsURL, logger); err != nil {
		db.Pool.Close()
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
