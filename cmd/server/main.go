// Command server serves the creel read API and the gated /api/update trigger.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/api"
	"github.com/abelzeko/creel-bot/internal/app"
	"github.com/abelzeko/creel-bot/internal/config"
	"github.com/abelzeko/creel-bot/internal/integration/openai"
	"github.com/abelzeko/creel-bot/internal/logging"
	"github.com/abelzeko/creel-bot/internal/usecases"
)

func main() {
	cfg, err := config.Load(os.Getenv("CREEL_CONFIG"))
	if err != nil {
		bootLogger := logging.New(logging.Config{Component: "server"})
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "server"})
	logger.Info().Str("config_file", cfg.ConfigFile).Str("db", cfg.DB.Path).Msg("Starting creel server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
	logger.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var agent openai.OpenAIService
	if cfg.OpenAI.APIKey != "" {
		if agent, err = openai.NewOpenAIService(cfg.OpenAI.APIKey, logger); err != nil {
			return err
		}
	}
	useCase := usecases.NewCreelUseCase(a.Repo, agent, logger)
	handler := api.NewHTTPHandler(useCase, a.Gate, a.Repo, a.Metrics, logger)

	scheduler, err := a.NewScheduler(ctx)
	switch {
	case errors.Is(err, app.ErrNoSchedule):
		logger.Info().Msg("Scheduled updates disabled")
	case err != nil:
		return err
	default:
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.Info().Str("schedule", cfg.Update.Cron).Msg("Scheduled updates enabled")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)

	// An update started over HTTP outlives its request; let it finish its
	// page before the database closes.
	a.Gate.Wait()
	return err
}
