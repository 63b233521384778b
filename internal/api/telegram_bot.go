// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/usecases"
)

// ChatUseCase is what the bot needs from the creel use case
type ChatUseCase interface {
	Statistics(ctx context.Context, f entities.QueryFilter) (entities.Statistics, error)
	CatchAreas(ctx context.Context, f entities.QueryFilter) ([]entities.AreaTotal, error)
	SpeciesTotals(ctx context.Context, f entities.QueryFilter) (map[entities.Species]float64, error)
	LastUpdate(ctx context.Context) (time.Time, error)
	HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error)
}

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot         *tgbotapi.BotAPI
	sender      messageSender
	useCase     ChatUseCase
	updater     Updater
	adminChatID int64
	logger      zerolog.Logger
}

// NewTelegramBot creates a new Telegram bot handler. updater may be nil, in
// which case /update is unavailable.
func NewTelegramBot(botToken string, useCase ChatUseCase, updater Updater, adminChatID int64, logger zerolog.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &TelegramBot{
		bot:         bot,
		sender:      bot,
		useCase:     useCase,
		updater:     updater,
		adminChatID: adminChatID,
		logger:      logger.With().Str("component", "telegram").Logger(),
	}, nil
}

// Start listens for messages until ctx is canceled
func (t *TelegramBot) Start(ctx context.Context) {
	t.logger.Info().Str("account", t.bot.Self.UserName).Msg("Authorized on Telegram account")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info().Msg("Bot is now listening for messages")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}

			t.logger.Info().
				Str("user", update.Message.From.UserName).
				Int64("user_id", update.Message.From.ID).
				Str("text", update.Message.Text).
				Msg("Received message")

			// /update can run for minutes; other chats keep being served
			go t.handleMessage(ctx, update.Message)
		}
	}
}

// NotifyRun reports finished update runs to the admin chat
func (t *TelegramBot) NotifyRun(_ context.Context, res usecases.GateResult) error {
	if t.adminChatID == 0 {
		return nil
	}
	if _, err := t.sender.Send(tgbotapi.NewMessage(t.adminChatID, usecases.FormatGateResult(res))); err != nil {
		return fmt.Errorf("failed to notify admin chat: %w", err)
	}
	return nil
}

// handleMessage processes a Telegram message
func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	msg := tgbotapi.NewMessage(message.Chat.ID, "")

	switch {
	case message.IsCommand():
		t.handleCommand(ctx, message, &msg)
	default:
		t.handleNonCommand(ctx, message, &msg)
	}

	t.logger.Debug().Str("user", userName(message)).Msg("Sending response")
	if _, err := t.sender.Send(msg); err != nil {
		t.logger.Error().Err(err).Msg("Error sending message")
	}
}

// handleCommand processes commands like /start, /help, etc.
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message, msg *tgbotapi.MessageConfig) {
	t.logger.Info().Str("command", message.Command()).Str("args", message.CommandArguments()).Str("user", userName(message)).Msg("Handling command")

	switch message.Command() {
	case "start":
		msg.Text = "Welcome to the Puget Sound creel bot! Use /stats for survey totals or /help for more information."

	case "help":
		msg.Text = "Available commands:\n" +
			"/start - Start the bot\n" +
			"/stats [year or 2015-2019] - Survey totals\n" +
			"/areas [year or 2015-2019] - Top catch areas\n" +
			"/species [year or 2015-2019] - Catch by species\n" +
			"/lastupdate - When the data was last refreshed\n" +
			"/update - Fetch new survey data\n" +
			"/help - Show this help message\n\n" +
			"You can also just ask, e.g. \"best area for coho in 2019?\""

	case "stats":
		f, ok := yearFilter(message.CommandArguments(), msg)
		if !ok {
			return
		}
		stats, err := t.useCase.Statistics(ctx, f)
		if err != nil {
			t.fail(msg, err)
			return
		}
		msg.Text = usecases.FormatStatistics(stats)

	case "areas":
		f, ok := yearFilter(message.CommandArguments(), msg)
		if !ok {
			return
		}
		areas, err := t.useCase.CatchAreas(ctx, f)
		if err != nil {
			t.fail(msg, err)
			return
		}
		msg.Text = usecases.FormatAreas(areas, 10)

	case "species":
		f, ok := yearFilter(message.CommandArguments(), msg)
		if !ok {
			return
		}
		totals, err := t.useCase.SpeciesTotals(ctx, f)
		if err != nil {
			t.fail(msg, err)
			return
		}
		msg.Text = usecases.FormatSpecies(totals)

	case "lastupdate":
		last, err := t.useCase.LastUpdate(ctx)
		if err != nil {
			t.fail(msg, err)
			return
		}
		if last.IsZero() {
			msg.Text = "The data has not been updated yet."
			return
		}
		msg.Text = fmt.Sprintf("🕒 Last update: %s", last.UTC().Format("2006-01-02 15:04 MST"))

	case "update":
		if t.updater == nil {
			msg.Text = "Updates are not available from this bot."
			return
		}
		msg.Text = usecases.FormatGateResult(t.updater.MaybeRun(ctx))

	default:
		t.logger.Info().Str("command", message.Command()).Msg("Received unknown command")
		msg.Text = "Unknown command. Use /help to see available commands."
	}
}

// handleNonCommand processes regular messages
func (t *TelegramBot) handleNonCommand(ctx context.Context, message *tgbotapi.Message, msg *tgbotapi.MessageConfig) {
	reply, err := t.useCase.HandleNaturalLanguageQuery(ctx, message.Text)
	if err != nil {
		t.fail(msg, err)
		return
	}
	msg.Text = reply
}

func (t *TelegramBot) fail(msg *tgbotapi.MessageConfig, err error) {
	t.logger.Error().Err(err).Msg("Error fetching creel data")
	msg.Text = "Error fetching creel data. Please try again later."
}

// yearFilter parses "", "2019" or "2015-2019"
func yearFilter(args string, msg *tgbotapi.MessageConfig) (entities.QueryFilter, bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return entities.QueryFilter{}, true
	}

	start, end, found := strings.Cut(args, "-")
	if !found {
		end = start
	}
	ys, err1 := strconv.Atoi(strings.TrimSpace(start))
	ye, err2 := strconv.Atoi(strings.TrimSpace(end))
	if err1 != nil || err2 != nil || ys > ye {
		msg.Text = "Please give a year or a range. Example: /stats 2015-2019"
		return entities.QueryFilter{}, false
	}
	return entities.QueryFilter{YearStart: &ys, YearEnd: &ye}, true
}

func userName(m *tgbotapi.Message) string {
	if m.From == nil {
		return ""
	}
	return m.From.UserName
}
