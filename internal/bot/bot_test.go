package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbot/internal/model"
	"newsbot/internal/storage"
)

type fakeGateway struct {
	mu      sync.Mutex
	batches [][]tgbotapi.Update
	errs    []error
	offsets []int
	sent    []tgbotapi.MessageConfig
}

func (g *fakeGateway) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.offsets = append(g.offsets, config.Offset)

	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	if len(g.batches) > 0 {
		batch := g.batches[0]
		g.batches = g.batches[1:]
		return batch, nil
	}
	return nil, nil
}

func (g *fakeGateway) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, fmt.Errorf("unexpected chattable %T", c)
	}
	g.sent = append(g.sent, msg)
	return tgbotapi.Message{MessageID: len(g.sent)}, nil
}

func (g *fakeGateway) messages() []tgbotapi.MessageConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), g.sent...)
}

func (g *fakeGateway) polls() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.offsets...)
}

type memorySubscribers struct {
	subs   map[int64]*model.Subscriber
	admins []int64
	err    error
}

func newMemorySubscribers(admins ...int64) *memorySubscribers {
	return &memorySubscribers{subs: make(map[int64]*model.Subscriber), admins: admins}
}

func (m *memorySubscribers) Upsert(_ context.Context, userID int64) (model.Subscriber, error) {
	if m.err != nil {
		return model.Subscriber{}, m.err
	}
	if sub, ok := m.subs[userID]; ok {
		return *sub, nil
	}

	sub := &model.Subscriber{ID: int64(len(m.subs) + 1), UserID: userID}
	for _, id := range m.admins {
		if id == userID {
			sub.IsAdmin = true
		}
	}
	m.subs[userID] = sub
	return *sub, nil
}

func (m *memorySubscribers) SetSearchMode(_ context.Context, userID int64, on bool) error {
	if m.err != nil {
		return m.err
	}
	sub, ok := m.subs[userID]
	if !ok {
		return storage.ErrNotFound
	}
	sub.IsSearch = on
	return nil
}

func (m *memorySubscribers) IsAdmin(_ context.Context, userID int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	sub, ok := m.subs[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	return sub.IsAdmin, nil
}

func (m *memorySubscribers) IsSearchMode(_ context.Context, userID int64) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	sub, ok := m.subs[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	return sub.IsSearch, nil
}

type fakeSearcher struct {
	results []model.SearchResult
	err     error
	keyword string
	since   time.Time
}

func (f *fakeSearcher) Search(_ context.Context, keyword string, since time.Time) ([]model.SearchResult, error) {
	f.keyword, f.since = keyword, since
	return f.results, f.err
}

type fakeStats struct {
	stats []model.SourceStat
	err   error
}

func (f fakeStats) Stats(context.Context) ([]model.SourceStat, error) {
	return f.stats, f.err
}

const adminID = 1381101

var now = time.Date(2024, 3, 17, 15, 30, 0, 0, time.UTC)

type fixture struct {
	bot         *Bot
	api         *fakeGateway
	subscribers *memorySubscribers
	searcher    *fakeSearcher
	hook        *logtest.Hook
}

func newFixture(stats fakeStats) *fixture {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	f := &fixture{
		api:         &fakeGateway{},
		subscribers: newMemorySubscribers(adminID),
		searcher:    &fakeSearcher{},
		hook:        hook,
	}

	f.bot = New(f.api, time.Second, 10*time.Millisecond, logger)
	f.bot.RegisterCmdView("start", ViewCmdStart(f.subscribers, logger))
	f.bot.RegisterCmdView("search", ViewCmdSearch(f.subscribers, logger))
	f.bot.RegisterCmdView("feed", ViewCmdFeed(f.subscribers, stats, logger))
	f.bot.RegisterTextView(ViewText(f.subscribers, f.searcher, func() time.Time { return now }, logger))

	return f
}

func message(updateID int, userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: userID},
			Chat: &tgbotapi.Chat{ID: userID},
			Text: text,
		},
	}
}

func TestNextOffset(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
		want int
	}{
		{name: "ordered", ids: []int{5, 6, 9}, want: 10},
		{name: "unordered", ids: []int{9, 5, 6}, want: 10},
		{name: "single", ids: []int{1}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates := make([]tgbotapi.Update, 0, len(tt.ids))
			for _, id := range tt.ids {
				updates = append(updates, tgbotapi.Update{UpdateID: id})
			}
			assert.Equal(t, tt.want, NextOffset(updates))
		})
	}
}

func TestHandleBatchAdvancesOffset(t *testing.T) {
	f := newFixture(fakeStats{})

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{
		message(6, 1, "/start"),
		message(9, 2, "/start"),
		message(5, 3, "/start"),
	})
	assert.Equal(t, 10, f.bot.Offset())
	assert.Len(t, f.api.messages(), 3)

	// an older batch never moves the cursor back
	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(7, 1, "hi")})
	assert.Equal(t, 10, f.bot.Offset())

	f.bot.HandleBatch(context.Background(), nil)
	assert.Equal(t, 10, f.bot.Offset())
}

func TestMalformedUpdatesAreSkipped(t *testing.T) {
	f := newFixture(fakeStats{})

	noSender := message(2, 1, "/start")
	noSender.Message.From = nil
	noChat := message(3, 1, "/start")
	noChat.Message.Chat = nil

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{
		{UpdateID: 1},
		noSender,
		noChat,
		message(4, 1, "   "),
		message(5, 42, "/start"),
	})

	assert.Equal(t, 6, f.bot.Offset())
	msgs := f.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ChatID)

	var skipped int
	for _, e := range f.hook.AllEntries() {
		if err, ok := e.Data[log.ErrorKey].(error); ok && errors.Is(err, ErrMalformedUpdate) {
			skipped++
		}
	}
	assert.Equal(t, 4, skipped)
}

func TestStartCreatesSubscriber(t *testing.T) {
	f := newFixture(fakeStats{})

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{
		message(1, 42, "/start"),
		message(2, adminID, "/start@newsbot"),
		message(3, 42, "/start"),
	})

	require.Len(t, f.subscribers.subs, 2)
	assert.False(t, f.subscribers.subs[42].IsAdmin)
	assert.True(t, f.subscribers.subs[adminID].IsAdmin)

	msgs := f.api.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, EscapeForMarkdown(msgWelcome), msgs[0].Text)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msgs[0].ParseMode)

	userKeyboard, ok := msgs[0].ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, userKeyboard.Keyboard, 1)
	assert.Len(t, userKeyboard.Keyboard[0], 1)
	assert.True(t, userKeyboard.OneTimeKeyboard)

	adminKeyboard, ok := msgs[1].ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, adminKeyboard.Keyboard[0], 2)
	assert.Equal(t, "/feed", adminKeyboard.Keyboard[0][1].Text)
}

func TestStartRepliesWhenStoreFails(t *testing.T) {
	f := newFixture(fakeStats{})
	f.subscribers.err = errors.New("database is locked")

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(1, 42, "/start")})

	require.Len(t, f.api.messages(), 1)
	assert.Equal(t, log.ErrorLevel, f.hook.LastEntry().Level)
}

func TestFeedIsAdminOnly(t *testing.T) {
	last := time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC)
	stats := fakeStats{stats: []model.SourceStat{
		{Source: model.Source{ID: 1, Title: "Lenta", FeedURL: "https://lenta.ru/rss", Rating: 5}, Articles: 10, LastArticle: &last},
		{Source: model.Source{ID: 2, Title: "RBC", FeedURL: "https://rbc.ru/rss", Rating: 1}},
	}}

	tests := []struct {
		name   string
		userID int64
		want   int
	}{
		{name: "admin", userID: adminID, want: 1},
		{name: "not admin", userID: 42, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(stats)
			_, err := f.subscribers.Upsert(context.Background(), tt.userID)
			require.NoError(t, err)

			f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(1, tt.userID, "/feed")})

			msgs := f.api.messages()
			require.Len(t, msgs, tt.want)
			if tt.want > 0 {
				assert.Contains(t, msgs[0].Text, "Lenta")
				assert.Contains(t, msgs[0].Text, "RBC")
				assert.Contains(t, msgs[0].Text, EscapeForMarkdown("https://lenta.ru/rss"))
			}
		})
	}
}

func TestFeedListFitsOneMessage(t *testing.T) {
	var stats fakeStats
	for i := 0; i < 500; i++ {
		stats.stats = append(stats.stats, model.SourceStat{Source: model.Source{
			ID:      int64(i + 1),
			Title:   strings.Repeat("Очень длинное название ленты. ", 20),
			FeedURL: fmt.Sprintf("https://example.com/feeds/%d/rss.xml", i),
			Rating:  i,
		}})
	}

	f := newFixture(stats)
	_, err := f.subscribers.Upsert(context.Background(), adminID)
	require.NoError(t, err)

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(1, adminID, "/feed")})

	msgs := f.api.messages()
	require.Len(t, msgs, 1)
	assert.LessOrEqual(t, utf8.RuneCountInString(msgs[0].Text), 4096)
	assert.Contains(t, msgs[0].Text, "1\\. ")
	assert.Regexp(t, `… и ещё \d+$`, msgs[0].Text)
	assert.NotContains(t, msgs[0].Text, "https://example\\.com/feeds/499/")
}

func TestFormatResultIsBounded(t *testing.T) {
	text := FormatResult(model.SearchResult{
		Title:       strings.Repeat("!", 1000),
		Description: strings.Repeat(".", 5000),
		Link:        "https://example.com/" + strings.Repeat("-", 5000),
	})

	assert.LessOrEqual(t, utf8.RuneCountInString(text), 4096)
}

func TestFeedUnknownUser(t *testing.T) {
	f := newFixture(fakeStats{})

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(1, adminID, "/feed")})

	assert.Empty(t, f.api.messages())
}

func TestFeedStoreFailure(t *testing.T) {
	f := newFixture(fakeStats{err: errors.New("boom")})
	_, err := f.subscribers.Upsert(context.Background(), adminID)
	require.NoError(t, err)

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(1, adminID, "/feed")})

	msgs := f.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EscapeForMarkdown(msgFeedsErr), msgs[0].Text)
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	f := newFixture(fakeStats{})
	ignoredBefore := testutil.ToFloat64(updatesHandled.WithLabelValues("ignored"))

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(1, 42, "/help"), message(2, 42, "/")})

	assert.Empty(t, f.api.messages())
	assert.Equal(t, 3, f.bot.Offset())
	assert.Equal(t, ignoredBefore+2, testutil.ToFloat64(updatesHandled.WithLabelValues("ignored")))
}

func TestTextWithoutSearchMode(t *testing.T) {
	f := newFixture(fakeStats{})

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{message(1, 42, "выборы")})

	msgs := f.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, EscapeForMarkdown(msgUseSearch), msgs[0].Text)
	assert.Empty(t, f.searcher.keyword)
}

func TestSearchFlow(t *testing.T) {
	f := newFixture(fakeStats{})
	f.searcher.results = []model.SearchResult{
		{Title: "Выборы 2024", Description: "Итоги голосования.", Link: "https://example.com/1"},
		{Title: "Выборы в регионах", Description: "", Link: "https://example.com/2"},
	}

	// /search before /start creates the subscriber
	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{
		message(1, 42, "/search"),
		message(2, 42, "выборы"),
	})

	assert.Equal(t, "выборы", f.searcher.keyword)
	assert.Equal(t, time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC), f.searcher.since)

	msgs := f.api.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, EscapeForMarkdown(msgSearch), msgs[0].Text)
	assert.Equal(t, "*Выборы 2024*\nИтоги голосования\\.\nhttps://example\\.com/1", msgs[1].Text)
	assert.Equal(t, FormatResult(f.searcher.results[1]), msgs[2].Text)
}

func TestSearchNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "no results"},
		{name: "store error", err: errors.New("database is locked")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(fakeStats{})
			f.searcher.err = tt.err

			f.bot.HandleBatch(context.Background(), []tgbotapi.Update{
				message(1, 42, "/search"),
				message(2, 42, "спорт"),
			})

			msgs := f.api.messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, EscapeForMarkdown(msgNotFound), msgs[1].Text)
		})
	}
}

func TestPanicInViewIsRecovered(t *testing.T) {
	f := newFixture(fakeStats{})
	f.bot.RegisterCmdView("boom", func(context.Context, Gateway, Request) error {
		panic("boom")
	})

	f.bot.HandleBatch(context.Background(), []tgbotapi.Update{
		message(1, 42, "/boom"),
		message(2, 42, "/start"),
	})

	assert.Len(t, f.api.messages(), 1)
	assert.Equal(t, 3, f.bot.Offset())
}

func TestRunRetriesAfterError(t *testing.T) {
	f := newFixture(fakeStats{})
	f.api.errs = []error{errors.New("connection reset"), errors.New("bad gateway")}
	f.api.batches = [][]tgbotapi.Update{{message(7, 42, "/start")}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.api.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		polls := f.api.polls()
		return len(polls) > 0 && polls[len(polls)-1] == 8
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	polls := f.api.polls()
	assert.Equal(t, []int{0, 0, 0}, polls[:3])
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  string
		ok   bool
	}{
		{text: "/start", cmd: "start", ok: true},
		{text: "/start@newsbot", cmd: "start", ok: true},
		{text: "/search выборы", cmd: "search", ok: true},
		{text: "выборы", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, ok := parseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cmd, cmd)
		})
	}
}

func TestEscapeForMarkdown(t *testing.T) {
	assert.Equal(t, `1\. a\_b \*c\* \[d\]\(e\) f\!`, EscapeForMarkdown("1. a_b *c* [d](e) f!"))
	assert.Equal(t, `C:\\dir`, EscapeForMarkdown(`C:\dir`))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "абв", truncate("абв", 3))
	assert.Equal(t, "аб…", truncate("абвг", 2))
}
