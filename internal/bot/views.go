package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"newsbot/internal/model"
	"newsbot/internal/storage"
)

const (
	msgWelcome   = "Добро пожаловать в новостной бот. Отправьте команду /search и любой текст, я постараюсь найти новости."
	msgSearch    = "Поиск по новостям, введите поисковую фразу:"
	msgNotFound  = "Ничего не найдено по данному запросу. Попробуйте его уточнить"
	msgUseSearch = "Введите команду /search для поиска новостей"
	msgFeeds     = "Список новостных лент"
	msgNoFeeds   = "Новостных лент пока нет"
	msgFeedsErr  = "Не удалось загрузить список новостных лент"
	msgMoreFeeds = "… и ещё %d"
)

const (
	// maxMessageRunes stays under Telegram's 4096 character limit, leaving
	// room for the overflow line.
	maxMessageRunes     = 4000
	maxTitleRunes       = 200
	maxDescriptionRunes = 1000
	maxLinkRunes        = 500
	maxFeedTitleRunes   = 100
)

type SubscriberStorage interface {
	Upsert(ctx context.Context, userID int64) (model.Subscriber, error)
	SetSearchMode(ctx context.Context, userID int64, on bool) error
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	IsSearchMode(ctx context.Context, userID int64) (bool, error)
}

type ArticleSearcher interface {
	Search(ctx context.Context, keyword string, since time.Time) ([]model.SearchResult, error)
}

type SourceStats interface {
	Stats(ctx context.Context) ([]model.SourceStat, error)
}

func ViewCmdStart(subscribers SubscriberStorage, logger log.FieldLogger) ViewFunc {
	return func(ctx context.Context, api Gateway, req Request) error {
		sub, err := subscribers.Upsert(ctx, req.UserID)
		if err != nil {
			logger.WithError(err).WithField("user_id", req.UserID).Error("failed to add subscriber")
		}

		msg := newMessage(req.ChatID, EscapeForMarkdown(msgWelcome))
		msg.ReplyMarkup = keyboard(sub.IsAdmin)

		return send(api, msg)
	}
}

func ViewCmdSearch(subscribers SubscriberStorage, logger log.FieldLogger) ViewFunc {
	return func(ctx context.Context, api Gateway, req Request) error {
		err := subscribers.SetSearchMode(ctx, req.UserID, true)
		if errors.Is(err, storage.ErrNotFound) {
			// /search before /start
			if _, err = subscribers.Upsert(ctx, req.UserID); err == nil {
				err = subscribers.SetSearchMode(ctx, req.UserID, true)
			}
		}
		if err != nil {
			logger.WithError(err).WithField("user_id", req.UserID).Error("failed to enable search mode")
		}

		return send(api, newMessage(req.ChatID, EscapeForMarkdown(msgSearch)))
	}
}

// ViewCmdFeed lists the news sources. Non-admins get no answer at all.
func ViewCmdFeed(subscribers SubscriberStorage, sources SourceStats, logger log.FieldLogger) ViewFunc {
	return func(ctx context.Context, api Gateway, req Request) error {
		isAdmin, err := subscribers.IsAdmin(ctx, req.UserID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.WithError(err).WithField("user_id", req.UserID).Warn("admin check failed")
		}
		if !isAdmin {
			return nil
		}

		stats, err := sources.Stats(ctx)
		if err != nil {
			logger.WithError(err).Error("failed to list feeds")
			return send(api, newMessage(req.ChatID, EscapeForMarkdown(msgFeedsErr)))
		}

		return send(api, newMessage(req.ChatID, formatFeeds(stats)))
	}
}

// ViewText answers free text: a search in search mode, a hint otherwise.
func ViewText(subscribers SubscriberStorage, articles ArticleSearcher, now func() time.Time, logger log.FieldLogger) ViewFunc {
	return func(ctx context.Context, api Gateway, req Request) error {
		logger := logger.WithField("user_id", req.UserID)

		isSearch, err := subscribers.IsSearchMode(ctx, req.UserID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.WithError(err).Warn("search mode check failed")
		}
		if !isSearch {
			return send(api, newMessage(req.ChatID, EscapeForMarkdown(msgUseSearch)))
		}

		results, err := articles.Search(ctx, req.Text, StartOfDay(now()))
		if err != nil {
			logger.WithError(err).Error("search failed")
			results = nil
		}

		if len(results) == 0 {
			return send(api, newMessage(req.ChatID, EscapeForMarkdown(msgNotFound)))
		}

		for _, result := range results {
			if err := send(api, newMessage(req.ChatID, FormatResult(result))); err != nil {
				return err
			}
		}

		return nil
	}
}

// StartOfDay is midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func FormatResult(r model.SearchResult) string {
	const msgFormat = "*%s*\n%s\n%s"

	return fmt.Sprintf(
		msgFormat,
		EscapeForMarkdown(truncate(r.Title, maxTitleRunes)),
		EscapeForMarkdown(truncate(r.Description, maxDescriptionRunes)),
		EscapeForMarkdown(truncate(r.Link, maxLinkRunes)),
	)
}

// formatFeeds lists the sources in one message. Lines that would push the
// message past maxMessageRunes are replaced by a count of the omitted feeds.
func formatFeeds(stats []model.SourceStat) string {
	if len(stats) == 0 {
		return EscapeForMarkdown(msgNoFeeds)
	}

	var sb strings.Builder
	sb.WriteString("*" + EscapeForMarkdown(msgFeeds) + "*")
	size := utf8.RuneCountInString(sb.String())

	for i, s := range stats {
		line := fmt.Sprintf(
			"%d. %s (%d) %s, новостей: %d",
			i+1, truncate(s.Title, maxFeedTitleRunes), s.Rating, truncate(s.FeedURL, maxFeedTitleRunes*2), s.Articles,
		)
		if s.LastArticle != nil {
			line += ", последняя: " + s.LastArticle.Local().Format("02.01.2006 15:04")
		}
		line = "\n" + EscapeForMarkdown(line)

		n := utf8.RuneCountInString(line)
		if size+n > maxMessageRunes {
			sb.WriteString("\n" + EscapeForMarkdown(fmt.Sprintf(msgMoreFeeds, len(stats)-i)))
			break
		}

		sb.WriteString(line)
		size += n
	}

	return sb.String()
}

func keyboard(isAdmin bool) tgbotapi.ReplyKeyboardMarkup {
	row := tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("/search"))
	if isAdmin {
		row = append(row, tgbotapi.NewKeyboardButton("/feed"))
	}

	kb := tgbotapi.NewReplyKeyboard(row)
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return kb
}

func newMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	return msg
}

func send(api Gateway, msg tgbotapi.MessageConfig) error {
	if _, err := api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", msg.ChatID, err)
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
