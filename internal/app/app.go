// Package app wires the store, the export client, the collector and the
// update gate from configuration. Each binary in cmd/ builds one App.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/config"
	"github.com/abelzeko/creel-bot/internal/integration"
	"github.com/abelzeko/creel-bot/internal/integration/objectstore"
	"github.com/abelzeko/creel-bot/internal/metrics"
	"github.com/abelzeko/creel-bot/internal/repository"
	"github.com/abelzeko/creel-bot/internal/usecases"
)

// App holds the shared dependencies
type App struct {
	Config    config.Config
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Repo      *repository.SQLiteCreelRepository
	Client    *integration.ExportClient
	Collector *usecases.Collector
	Gate      *usecases.UpdateGate
	Blob      objectstore.BlobStore
}

// New builds an App. When blob storage is configured and no local database
// exists, the last uploaded copy is downloaded first.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var blob objectstore.BlobStore = objectstore.NopStore{}
	if cfg.Blob.Enabled() {
		store, err := objectstore.NewMinioStore(ctx, objectstore.Options{
			Endpoint:  cfg.Blob.Endpoint,
			Bucket:    cfg.Blob.Bucket,
			Object:    cfg.Blob.Object,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Region:    cfg.Blob.Region,
			UseSSL:    cfg.Blob.UseSSL,
		}, m, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
		}
		blob = store
		if _, err := store.DownloadIfAbsent(ctx, cfg.DB.Path); err != nil {
			logger.Warn().Err(err).Msg("Starting with a local database, blob download failed")
		}
	}

	repo, err := repository.NewSQLiteCreelRepository(cfg.DB.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	if n, err := repo.Count(ctx); err == nil {
		m.StoredRecords.Set(float64(n))
	}

	client := integration.NewExportClient(cfg.Source.BaseURL, cfg.Source.UserAgent, cfg.Source.Timeout, logger)
	collector := usecases.NewCollector(repo, client, cfg.Collector.StormThreshold, m, logger)
	gate := usecases.NewUpdateGate(repo, collector, blob, usecases.GateConfig{
		Cooldown:     cfg.Update.Cooldown,
		BaselineYear: cfg.Collector.BaselineYear,
	}, m, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Repo:      repo,
		Client:    client,
		Collector: collector,
		Gate:      gate,
		Blob:      blob,
	}, nil
}

// Close releases the database
func (a *App) Close() error {
	return a.Repo.Close()
}

// ErrNoSchedule is returned by NewScheduler when update.cron is empty
var ErrNoSchedule = errors.New("no update schedule configured")

// NewScheduler returns a cron that asks the gate for a run on the configured
// schedule. The caller starts and stops it.
func (a *App) NewScheduler(ctx context.Context) (*cron.Cron, error) {
	if a.Config.Update.Cron == "" {
		return nil, ErrNoSchedule
	}

	c := cron.New(
		cron.WithLogger(cronLogger{a.Logger.With().Str("component", "cron").Logger()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.Logger})),
	)
	_, err := c.AddFunc(a.Config.Update.Cron, func() {
		res := a.Gate.MaybeRun(ctx)
		a.Logger.Info().Str("status", string(res.Status)).Str("message", res.Message).Msg("Scheduled update finished")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up cron job: %w", err)
	}
	return c, nil
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
