package api

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelzeko/creel-bot/internal/entities"
	"github.com/abelzeko/creel-bot/internal/usecases"
)

type sentMessages struct {
	msgs []tgbotapi.MessageConfig
	err  error
}

func (s *sentMessages) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		s.msgs = append(s.msgs, m)
	}
	return tgbotapi.Message{}, s.err
}

type fakeChat struct {
	fakeReader
	last    time.Time
	query   string
	lastErr error
}

func (c *fakeChat) LastUpdate(context.Context) (time.Time, error) { return c.last, c.lastErr }

func (c *fakeChat) HandleNaturalLanguageQuery(_ context.Context, q string) (string, error) {
	c.query = q
	return "answer to " + q, nil
}

func newTestBot(chat *fakeChat, updater Updater) (*TelegramBot, *sentMessages) {
	sent := &sentMessages{}
	return &TelegramBot{
		sender:      sent,
		useCase:     chat,
		updater:     updater,
		adminChatID: 99,
		logger:      zerolog.Nop(),
	}, sent
}

func command(text string) *tgbotapi.Message {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 7},
		From:     &tgbotapi.User{ID: 1, UserName: "angler"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func reply(t *testing.T, bot *TelegramBot, sent *sentMessages, m *tgbotapi.Message) string {
	t.Helper()
	bot.handleMessage(context.Background(), m)
	require.NotEmpty(t, sent.msgs)
	last := sent.msgs[len(sent.msgs)-1]
	assert.EqualValues(t, 7, last.ChatID)
	return last.Text
}

func TestBotStatsWithYearRange(t *testing.T) {
	chat := &fakeChat{}
	bot, sent := newTestBot(chat, nil)

	text := reply(t, bot, sent, command("/stats 2015-2019"))
	assert.Contains(t, text, "Surveys: 3")
	require.NotNil(t, chat.filter.YearStart)
	assert.Equal(t, 2015, *chat.filter.YearStart)
	assert.Equal(t, 2019, *chat.filter.YearEnd)

	reply(t, bot, sent, command("/areas 2014"))
	assert.Equal(t, 2014, *chat.filter.YearStart)
	assert.Equal(t, 2014, *chat.filter.YearEnd)

	text = reply(t, bot, sent, command("/species 2019-2015"))
	assert.Contains(t, text, "Example: /stats 2015-2019")
}

func TestBotAreasAndSpecies(t *testing.T) {
	bot, sent := newTestBot(&fakeChat{}, nil)
	assert.Equal(t, "Top catch areas:\n\n1. Area 9: 10\n2. Area 8-2: 4", reply(t, bot, sent, command("/areas")))
	assert.Equal(t, "Catch by species:\n\n• chinook: 5", reply(t, bot, sent, command("/species")))
}

func TestBotLastUpdate(t *testing.T) {
	chat := &fakeChat{}
	bot, sent := newTestBot(chat, nil)
	assert.Equal(t, "The data has not been updated yet.", reply(t, bot, sent, command("/lastupdate")))

	chat.last = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "🕒 Last update: 2025-06-01 10:00 UTC", reply(t, bot, sent, command("/lastupdate")))

	chat.lastErr = errors.New("locked")
	assert.Contains(t, reply(t, bot, sent, command("/lastupdate")), "Please try again later")
}

func TestBotUpdate(t *testing.T) {
	bot, sent := newTestBot(&fakeChat{}, nil)
	assert.Contains(t, reply(t, bot, sent, command("/update")), "not available")

	updater := &fakeUpdater{res: usecases.GateResult{Status: usecases.GateSkipped, Reason: usecases.ReasonInProgress}}
	bot, sent = newTestBot(&fakeChat{}, updater)
	assert.Equal(t, "⏳ An update is already running.", reply(t, bot, sent, command("/update")))
	assert.Equal(t, 1, updater.calls)
}

func TestBotFreeTextAndUnknownCommand(t *testing.T) {
	chat := &fakeChat{}
	bot, sent := newTestBot(chat, nil)

	m := &tgbotapi.Message{Text: "best coho area?", Chat: &tgbotapi.Chat{ID: 7}, From: &tgbotapi.User{UserName: "angler"}}
	assert.Equal(t, "answer to best coho area?", reply(t, bot, sent, m))
	assert.Equal(t, "best coho area?", chat.query)

	assert.Contains(t, reply(t, bot, sent, command("/rivers")), "Unknown command")
	assert.Contains(t, reply(t, bot, sent, command("/help")), "/lastupdate")
}

func TestBotReaderError(t *testing.T) {
	chat := &fakeChat{}
	chat.err = errors.New("disk I/O error")
	bot, sent := newTestBot(chat, nil)
	assert.Equal(t, "Error fetching creel data. Please try again later.", reply(t, bot, sent, command("/stats")))
}

func TestNotifyRun(t *testing.T) {
	bot, sent := newTestBot(&fakeChat{}, nil)
	res := usecases.GateResult{Status: usecases.GateFailed, Message: "page 2: unexpected status 503"}

	require.NoError(t, bot.NotifyRun(context.Background(), res))
	require.Len(t, sent.msgs, 1)
	assert.EqualValues(t, 99, sent.msgs[0].ChatID)
	assert.Equal(t, "❌ Update failed: page 2: unexpected status 503", sent.msgs[0].Text)

	sent.err = errors.New("blocked")
	assert.Error(t, bot.NotifyRun(context.Background(), res))

	bot.adminChatID = 0
	sent.msgs = nil
	require.NoError(t, bot.NotifyRun(context.Background(), res))
	assert.Empty(t, sent.msgs)
}

func TestYearFilter(t *testing.T) {
	var msg tgbotapi.MessageConfig
	f, ok := yearFilter("", &msg)
	assert.True(t, ok)
	assert.Equal(t, entities.QueryFilter{}, f)

	_, ok = yearFilter("twenty", &msg)
	assert.False(t, ok)
}
