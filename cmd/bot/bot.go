package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/abelzeko/creel-bot/internal/api"
	"github.com/abelzeko/creel-bot/internal/app"
	"github.com/abelzeko/creel-bot/internal/config"
	"github.com/abelzeko/creel-bot/internal/integration/openai"
	"github.com/abelzeko/creel-bot/internal/logging"
	"github.com/abelzeko/creel-bot/internal/usecases"
)

func main() {
	cfg, err := config.Load(os.Getenv("CREEL_CONFIG"))
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "bot"})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Msg("Starting Creel Bot...")

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	// Initialize OpenAI service; without a key free text gets the help message
	var openAIService openai.OpenAIService
	if cfg.OpenAI.APIKey != "" {
		openAIService, err = openai.NewOpenAIService(cfg.OpenAI.APIKey, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize OpenAI service")
		}
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, free-text questions are disabled")
	}

	useCase := usecases.NewCreelUseCase(a.Repo, openAIService, logger)

	telegramBot, err := api.NewTelegramBot(cfg.Telegram.Token, useCase, a.Gate, cfg.Telegram.AdminChatID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	a.Gate.AddNotifier(telegramBot)

	scheduler, err := a.NewScheduler(ctx)
	switch {
	case errors.Is(err, app.ErrNoSchedule):
	case err != nil:
		logger.Fatal().Err(err).Msg("Failed to schedule updates")
	default:
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	telegramBot.Start(ctx)
	a.Gate.Wait()
	logger.Info().Msg("Bot stopped")
}
