package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// Gateway is the part of the Bot API the bot needs. *tgbotapi.BotAPI
// satisfies it.
type Gateway interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var ErrMalformedUpdate = errors.New("malformed update")

// Request is an incoming text message reduced to what views need.
type Request struct {
	UpdateID int
	ChatID   int64
	UserID   int64
	Text     string
}

type ViewFunc func(ctx context.Context, api Gateway, req Request) error

type Bot struct {
	api      Gateway
	cmdViews map[string]ViewFunc
	textView ViewFunc
	log      log.FieldLogger

	offset      int
	pollTimeout time.Duration
	retry       backoff.BackOff
}

func New(api Gateway, pollTimeout, retryDelay time.Duration, logger log.FieldLogger) *Bot {
	return &Bot{
		api:         api,
		log:         logger,
		pollTimeout: pollTimeout,
		retry:       backoff.NewConstantBackOff(retryDelay),
	}
}

// RegisterCmdView binds a view to a command name without the leading slash.
func (b *Bot) RegisterCmdView(cmd string, view ViewFunc) {
	if b.cmdViews == nil {
		b.cmdViews = make(map[string]ViewFunc)
	}

	b.cmdViews[cmd] = view
}

// RegisterTextView sets the view for messages that are not commands.
func (b *Bot) RegisterTextView(view ViewFunc) {
	b.textView = view
}

// Offset is the id of the first update the next poll asks for.
func (b *Bot) Offset() int {
	return b.offset
}

// Run long-polls for updates until ctx is cancelled. A failed poll is
// retried after a fixed delay.
func (b *Bot) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.Poll(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pollErrors.Inc()
		wait := b.retry.NextBackOff()
		b.log.WithError(err).WithField("offset", b.offset).Warnf("get updates failed, retrying in %s", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Poll fetches one batch of updates and dispatches it.
func (b *Bot) Poll(ctx context.Context) error {
	updates, err := b.getUpdates(ctx)
	if err != nil {
		return err
	}

	b.HandleBatch(ctx, updates)

	return nil
}

func (b *Bot) getUpdates(ctx context.Context) ([]tgbotapi.Update, error) {
	u := tgbotapi.NewUpdate(b.offset)
	u.Timeout = int(b.pollTimeout / time.Second)
	u.AllowedUpdates = []string{"message"}

	type result struct {
		updates []tgbotapi.Update
		err     error
	}

	resultChan := make(chan result, 1)

	go func() {
		updates, err := b.api.GetUpdates(u)
		resultChan <- result{updates: updates, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultChan:
		return r.updates, r.err
	}
}

// HandleBatch advances the offset past every update in the batch and then
// dispatches them in order. The offset is moved first so a failing handler
// can never cause a batch to be requested again.
func (b *Bot) HandleBatch(ctx context.Context, updates []tgbotapi.Update) {
	if len(updates) == 0 {
		return
	}

	if next := NextOffset(updates); next > b.offset {
		b.offset = next
	}

	for _, update := range updates {
		b.handleUpdate(ctx, update)
	}
}

// NextOffset returns max(update_id)+1 for a non-empty batch.
func NextOffset(updates []tgbotapi.Update) int {
	last := updates[0].UpdateID
	for _, u := range updates[1:] {
		if u.UpdateID > last {
			last = u.UpdateID
		}
	}
	return last + 1
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	logger := b.log.WithField("update_id", update.UpdateID)

	// перехватываем панику в ViewFunc
	defer func() {
		if p := recover(); p != nil {
			logger.WithField("panic", p).Error("panic in view recovered")
		}
	}()

	req, err := parseRequest(update)
	if err != nil {
		updatesHandled.WithLabelValues("malformed").Inc()
		logger.WithError(err).Warn("skipping update")
		return
	}

	logger = logger.WithField("user_id", req.UserID)

	view, name := b.route(req.Text)
	if view == nil {
		updatesHandled.WithLabelValues("ignored").Inc()
		logger.WithField("command", name).Debug("ignoring message")
		return
	}
	updatesHandled.WithLabelValues(name).Inc()

	if err := view(ctx, b.api, req); err != nil {
		logger.WithError(err).WithField("command", name).Error("view failed")
	}
}

func (b *Bot) route(text string) (ViewFunc, string) {
	if cmd, ok := parseCommand(text); ok {
		return b.cmdViews[cmd], "/" + cmd
	}
	return b.textView, "text"
}

func parseRequest(update tgbotapi.Update) (Request, error) {
	msg := update.Message
	switch {
	case msg == nil:
		return Request{}, fmt.Errorf("%w: no message", ErrMalformedUpdate)
	case msg.From == nil:
		return Request{}, fmt.Errorf("%w: no sender", ErrMalformedUpdate)
	case msg.Chat == nil:
		return Request{}, fmt.Errorf("%w: no chat", ErrMalformedUpdate)
	case strings.TrimSpace(msg.Text) == "":
		return Request{}, fmt.Errorf("%w: no text", ErrMalformedUpdate)
	}

	return Request{
		UpdateID: update.UpdateID,
		ChatID:   msg.Chat.ID,
		UserID:   msg.From.ID,
		Text:     strings.TrimSpace(msg.Text),
	}, nil
}

// parseCommand extracts "start" from "/start", "/start@newsbot" or
// "/start args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	cmd := strings.Fields(text)[0][1:]
	if i := strings.Index(cmd, "@"); i != -1 {
		cmd = cmd[:i]
	}

	return cmd, true
}
