// Package app builds the exporter's long-lived services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/api"
	"github.com/JakeFAU/icp-exporter/internal/clock/system"
	"github.com/JakeFAU/icp-exporter/internal/config"
	"github.com/JakeFAU/icp-exporter/internal/exporter"
	collyfetcher "github.com/JakeFAU/icp-exporter/internal/fetcher/colly"
	"github.com/JakeFAU/icp-exporter/internal/hash/sha256"
	"github.com/JakeFAU/icp-exporter/internal/icp"
	"github.com/JakeFAU/icp-exporter/internal/id/uuid"
	"github.com/JakeFAU/icp-exporter/internal/metrics"
	"github.com/JakeFAU/icp-exporter/internal/policy/ratelimit"
	"github.com/JakeFAU/icp-exporter/internal/progress"
	progresssinks "github.com/JakeFAU/icp-exporter/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/icp-exporter/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/icp-exporter/internal/publisher/pubsub"
	filesink "github.com/JakeFAU/icp-exporter/internal/storage/file"
	gcsstorage "github.com/JakeFAU/icp-exporter/internal/storage/gcs"
	localstorage "github.com/JakeFAU/icp-exporter/internal/storage/local"
	memorystorage "github.com/JakeFAU/icp-exporter/internal/storage/memory"
	pgstore "github.com/JakeFAU/icp-exporter/internal/storage/postgres"
	sqlitesink "github.com/JakeFAU/icp-exporter/internal/storage/sqlite"
	"github.com/JakeFAU/icp-exporter/internal/store"
	"github.com/JakeFAU/icp-exporter/internal/upstream"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	exporter     *exporter.Exporter
	sink         icp.Sink
	archive      icp.BlobStore
	publisher    icp.Publisher
	runs         store.RunRepository
	progressHub  *progress.Hub
	apiServer    *api.Server
	pgPool       *pgxpool.Pool
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
}

// Build creates the application's dependencies. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.String("sink", cfg.Sink.Kind),
		zap.String("archive", cfg.Archive.Kind),
		zap.String("progress_store", cfg.Progress.Store),
		zap.Int("server_port", cfg.Server.Port),
	)

	metrics.Init()
	ids := uuid.NewUUIDGenerator()
	if a.sink, err = a.setupSink(ctx, ids); err != nil {
		return nil, err
	}
	if a.archive, err = a.setupArchive(ctx); err != nil {
		return nil, err
	}
	if a.publisher, err = a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if a.runs, err = a.setupRunStore(ctx); err != nil {
		return nil, err
	}
	if a.progressHub, err = a.setupProgress(); err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.HTTP.RateLimitRPS,
		Burst: cfg.HTTP.RateLimitBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Limiter:   limiter,
	})
	source := upstream.New(
		fetcher,
		cfg.RetryPolicy(),
		a.archive,
		sha256.New(),
		upstream.Config{
			ExportURL:     cfg.Upstream.ExportURL,
			QueryURL:      cfg.Upstream.QueryURL,
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger.Named("upstream"),
	)

	var emitter progress.Emitter
	if a.progressHub != nil {
		emitter = a.progressHub
	}
	a.exporter = exporter.New(
		source,
		a.sink,
		a.publisher,
		emitter,
		system.New(),
		exporter.Config{Topic: cfg.PubSub.TopicName},
		logger.Named("exporter"),
	)

	if cfg.Server.Port > 0 {
		a.apiServer = api.NewServer(a.runs, a.readyCheck(), api.Config{
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
			APIKey:         cfg.Server.APIKey,
		}, logger.Named("api"))
	}
	return a, nil
}

// Run executes the configured export. When server.port is set, the status
// server runs for the duration of the export.
func (a *App) Run(ctx context.Context) (icp.Summary, error) {
	if a.apiServer != nil {
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
		if err != nil {
			return icp.Summary{}, fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
		}
		srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan error, 1)
		go func() { done <- a.apiServer.Serve(srvCtx, ln) }()
		defer func() {
			stopServer()
			if err := <-done; err != nil {
				a.logger.Warn("status server stopped with error", zap.Error(err))
			}
		}()
	}

	return a.exporter.Run(ctx, exporter.Request{
		Start:    a.cfg.Run.Start,
		End:      a.cfg.Run.End,
		Province: a.cfg.Run.Province,
		Threads:  a.cfg.Run.Threads,
	})
}

// Runs exposes the run status repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Sink exposes the record sink.
func (a *App) Sink() icp.Sink {
	return a.sink
}

// Archive exposes the raw payload archive; nil when archival is off.
func (a *App) Archive() icp.BlobStore {
	return a.archive
}

// Close flushes progress, then releases sinks and clients.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("sink close failed", zap.Error(err))
		}
	}
	if closer, ok := a.publisher.(*gcppublisher.Publisher); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

func (a *App) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pgPool != nil {
		return a.pgPool, nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.Sink.Postgres.DSN,
		MaxConns: a.cfg.Sink.Postgres.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	a.pgPool = pool
	return pool, nil
}

func (a *App) setupSink(ctx context.Context, ids icp.IDGenerator) (icp.Sink, error) {
	switch a.cfg.Sink.Kind {
	case config.SinkSQLite:
		a.logger.Info("using sqlite sink", zap.String("path", a.cfg.Sink.SQLite.Path))
		sink, err := sqlitesink.Open(ctx, sqlitesink.Config{
			Path:  a.cfg.Sink.SQLite.Path,
			Table: a.cfg.Sink.SQLite.Table,
		}, ids)
		if err != nil {
			return nil, fmt.Errorf("sqlite sink init failed: %w", err)
		}
		return sink, nil
	case config.SinkPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		sink, err := pgstore.NewRecordSink(pool, a.cfg.Sink.Postgres.Table, ids)
		if err != nil {
			return nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		if err := sink.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres sink schema: %w", err)
		}
		a.logger.Info("using postgres sink", zap.String("table", a.cfg.Sink.Postgres.Table))
		return sink, nil
	case config.SinkFile:
		a.logger.Info("using file sink",
			zap.String("path", a.cfg.Sink.File.Path),
			zap.String("encoding", a.cfg.Sink.File.Encoding),
		)
		sink, err := filesink.New(filesink.Config{
			Path:     a.cfg.Sink.File.Path,
			Format:   a.cfg.Sink.File.Format,
			Encoding: a.cfg.Sink.File.Encoding,
		}, ids)
		if err != nil {
			return nil, fmt.Errorf("file sink init failed: %w", err)
		}
		return sink, nil
	default:
		a.logger.Info("using in-memory sink; records are discarded on exit")
		return memorystorage.NewSink(ids), nil
	}
}

func (a *App) setupArchive(ctx context.Context) (icp.BlobStore, error) {
	switch a.cfg.Archive.Kind {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving payloads to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving payloads locally", zap.String("dir", a.cfg.Archive.LocalDir))
		return blobs, nil
	case config.ArchiveMemory:
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (icp.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, run summary is not published")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	if err := gcppublisher.CheckTopic(ctx, client, a.cfg.PubSub.TopicName); err != nil {
		return nil, err
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(client), nil
}

func (a *App) setupRunStore(ctx context.Context) (store.RunRepository, error) {
	if a.cfg.Progress.Store != config.ProgressStorePostgres {
		return memorystorage.NewRunStore(), nil
	}
	pool, err := a.postgresPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool)
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("run store schema: %w", err)
	}
	return runs, nil
}

func (a *App) setupProgress() (*progress.Hub, error) {
	sinks := []progress.Sink{
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
		progresssinks.NewLogSink(a.logger.Named("progress")),
	}
	if a.cfg.Progress.Prometheus {
		prom, err := progresssinks.NewPrometheusSink(nil)
		if err != nil {
			return nil, fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinks = append(sinks, prom)
	}
	return progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.BatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.BatchWaitMs) * time.Millisecond,
		Logger:         a.logger.Named("progress_hub"),
	}, sinks...), nil
}

func (a *App) readyCheck() api.ReadyCheck {
	if a.pgPool == nil {
		return nil
	}
	pool := a.pgPool
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		return nil
	}
}
