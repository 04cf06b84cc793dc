package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"shortsgen/archive"
	"shortsgen/config"
	"shortsgen/db"
	"shortsgen/errors"
	"shortsgen/ingest"
	"shortsgen/lock"
	"shortsgen/mongostore"
	"shortsgen/queue"
	"shortsgen/scrape"
	"shortsgen/sqlstore"
)

// App wires the configured backends into the queue service and the ingest
// runner.
type App struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	sqlDB   *db.CompatDB
	queue   *queue.Service
	runner  *ingest.Runner
	archive archive.Archiver
	started time.Time

	closers []func(context.Context) error
}

type candidateStore interface {
	queue.Store
	ingest.StateStore
}

func newLogger(jsonOutput bool) (*zap.Logger, error) {
	if jsonOutput {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// newApp connects every backend. SQL schemas are migrated when migrate is set.
func newApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, migrate bool) (*App, error) {
	app := &App{cfg: cfg, log: log, started: time.Now()}

	store, err := app.openStore(ctx, migrate)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := lock.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return client.Close() })
		locker = lock.NewRedisLocker(client)
		log.Infow("Using redis run lock")
	}

	if cfg.MinioEndpoint != "" {
		arch, err := archive.NewMinio(ctx, archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.archive = arch
		log.Infow("Raw snapshot archive enabled", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	}

	catalog, err := ingest.LoadCatalog(cfg.SourcesFile)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.queue = queue.NewService(store, log.Named("queue"), queue.WithMaxTextLength(cfg.MaxTextLength))
	fetcher := scrape.NewFetcher(&http.Client{}, scrape.FetcherOptions{
		Timeout:      cfg.ScrapeTimeout,
		PerHostRate:  rate.Limit(cfg.ScrapeRate),
		PerHostBurst: cfg.ScrapeBurst,
	})
	app.runner = &ingest.Runner{
		Registry: scrape.DefaultRegistry(fetcher),
		Queue:    app.queue,
		State:    store,
		Locker:   locker,
		Archiver: app.archive,
		Catalog:  catalog,
		Log:      log.Named("ingest"),
	}
	return app, nil
}

func (a *App) openStore(ctx context.Context, migrate bool) (candidateStore, error) {
	if dialect, ok := a.cfg.SQLDialect(); ok {
		d, err := db.Open(ctx, dialect, a.cfg.DBDSN)
		if err != nil {
			return nil, errors.StoreError(err, "open database")
		}
		a.sqlDB = d
		a.closers = append(a.closers, func(context.Context) error { return d.Close() })
		if migrate {
			applied, err := db.Migrate(ctx, d)
			if err != nil {
				return nil, errors.StoreError(err, "migrate database")
			}
			for _, v := range applied {
				a.log.Infow("Applied migration", "version", v)
			}
		}
		a.log.Infow("Using SQL store", "dialect", dialect)
		return sqlstore.New(d), nil
	}

	store, disconnect, err := mongostore.Connect(ctx, a.cfg.MongoURI, a.cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, disconnect)
	a.log.Infow("Using MongoDB store", "database", a.cfg.MongoDB)
	return store, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warnw("Close failed", "error", err)
		}
	}
	a.closers = nil
}
