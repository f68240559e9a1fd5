package cli

import (
	"io"

	"github.com/bayuaji732/data-prep-api/internal/config"
	"github.com/bayuaji732/data-prep-api/internal/log"
	"github.com/bayuaji732/data-prep-api/internal/metrics"
	internal_storage "github.com/bayuaji732/data-prep-api/internal/storage"
	"github.com/bayuaji732/data-prep-api/pkg/backend"
	"github.com/bayuaji732/data-prep-api/pkg/catalog"
	"github.com/bayuaji732/data-prep-api/pkg/dfs"
	"github.com/bayuaji732/data-prep-api/pkg/export"
	"github.com/bayuaji732/data-prep-api/pkg/format"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/bayuaji732/data-prep-api/pkg/service"
	"github.com/bayuaji732/data-prep-api/pkg/staging"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// App is the wired service: ledger, engine and batch coordinator over the
// configured backends.
type App struct {
	Config *config.Config
	Logger *logrus.Logger
	Ledger *service.Ledger
	Engine *service.Engine
	Batch  *service.BatchCoordinator

	closers []io.Closer
}

// NewApp connects to every backend named by cfg. reg may be nil to skip
// metrics.
func NewApp(cfg *config.Config, logger *logrus.Logger, reg prometheus.Registerer) (_ *App, err error) {
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	store, err := internal_storage.InitStore(cfg.DatabaseURL())
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store)
	app.Ledger = service.NewLedger(store, logger)

	driver, dsn := cfg.WarehouseSource()
	warehouse, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s warehouse", driver)
	}
	app.closers = append(app.closers, warehouse)
	datasets, err := backend.NewTableWriter(warehouse, models.ReplaceWriteMode)
	if err != nil {
		return nil, err
	}
	offline, err := backend.NewTableWriter(warehouse, cfg.OfflineWriteMode)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr()},
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	app.closers = append(app.closers, rdb)

	resolver := dfs.NewNamenodeResolver(cfg.HDFSNamenode, dfs.DialHDFS(dfs.HDFSConfig{
		User:             cfg.HDFSUser,
		CCachePath:       cfg.TicketCachePath,
		Krb5ConfPath:     cfg.Krb5ConfPath,
		ServicePrincipal: cfg.ServicePrincipal,
	}))
	if cfg.HDFSNamenode == "" {
		resolver = dfs.NewResolver(dfs.NewOSLocal(), nil)
	}
	app.closers = append(app.closers, resolver)

	var staged staging.Store = staging.NewLocal(afero.NewOsFs(), cfg.LocalDir)
	if cfg.StagedURL != "" {
		staged = staging.NewHTTP(cfg.StagedURL, cfg.StagingRetries, log.Leveled{Logger: logger})
	}

	adapters, err := allowedAdapters(cfg.AllowedFileTypes)
	if err != nil {
		return nil, err
	}

	var m service.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	app.Engine = service.NewEngine(service.Deps{
		Ledger:   app.Ledger,
		Registry: format.NewRegistry(cfg.MaxFileSize, cfg.ParseTimeout, adapters...),
		Staged:   staged,
		Catalog:  catalog.NewSQL(store.DB()),
		Datasets: datasets,
		Online:   backend.NewOnlineWriter(rdb),
		Offline:  offline,
		Exporter: export.NewWriter(resolver),
		Logger:   logger,
		Metrics:  m,
	}, service.EngineConfig{
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		ParseTimeout: cfg.ParseTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	app.Batch = service.NewBatchCoordinator(app.Engine, app.Engine.Catalog, logger, cfg.BatchConcurrency)
	return app, nil
}

// allowedAdapters picks the built-in adapters for the configured file types.
func allowedAdapters(types []string) ([]format.Adapter, error) {
	builtin := make(map[string]format.Adapter)
	for _, a := range format.Builtin() {
		builtin[a.Type()] = a
	}
	out := make([]format.Adapter, 0, len(types))
	for _, t := range types {
		a, ok := builtin[t]
		if !ok {
			return nil, errors.Errorf("no adapter for allowed file type %q", t)
		}
		out = append(out, a)
	}
	return out, nil
}

// Close releases every connection, newest first.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
