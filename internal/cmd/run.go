package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"newsbot/internal/bot"
	"newsbot/internal/config"
	"newsbot/internal/fetcher"
	"newsbot/internal/model"
	"newsbot/internal/server"
	"newsbot/internal/storage"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the bot, the feed fetcher and the optional status server",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c, true)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	db, err := storage.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		subscriberStorage = storage.NewSubscriberStorage(db, cfg.Admins)
		sourceStorage     = storage.NewSourceStorage(db)
		articleStorage    = storage.NewArticleStorage(db, cfg.SearchLimit)
	)

	if err := seedFeeds(ctx, sourceStorage, cfg.Feeds, logger); err != nil {
		return err
	}

	// the long poll itself is bounded by this client
	client := &http.Client{Timeout: cfg.PollTimeout + 10*time.Second}

	botAPI, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramBotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return err
	}
	logger.Infof("authorized as @%s", botAPI.Self.UserName)

	newsBot := bot.New(botAPI, cfg.PollTimeout, cfg.RetryDelay, logger.WithField("component", "bot"))
	newsBot.RegisterCmdView("start", bot.ViewCmdStart(subscriberStorage, logger))
	newsBot.RegisterCmdView("search", bot.ViewCmdSearch(subscriberStorage, logger))
	newsBot.RegisterCmdView("feed", bot.ViewCmdFeed(subscriberStorage, sourceStorage, logger))
	newsBot.RegisterTextView(bot.ViewText(subscriberStorage, articleStorage, time.Now, logger))

	newsFetcher := fetcher.New(
		articleStorage,
		sourceStorage,
		cfg.FetchInterval,
		cfg.FetchTimeout,
		cfg.FetchConcurrency,
		logger.WithField("component", "fetcher"),
	)

	var wg sync.WaitGroup

	goRun := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Errorf("%s failed", name)
				return
			}
			logger.Infof("%s has stopped", name)
		}()
	}

	goRun("fetcher", newsFetcher.Run)
	goRun("bot", newsBot.Run)

	if cfg.HTTPAddr != "" {
		status := server.New(sourceStorage, subscriberStorage, logger.WithField("component", "server"))
		goRun("status server", func(ctx context.Context) error {
			return status.Run(ctx, cfg.HTTPAddr)
		})
	}

	wg.Wait()

	return nil
}

// seedFeeds makes sure every feed from the config file is in the store.
func seedFeeds(ctx context.Context, sources *storage.SourceStorage, feeds []config.Feed, logger log.FieldLogger) error {
	for _, f := range feeds {
		if err := sources.Upsert(ctx, model.Source{Title: f.Title, FeedURL: f.URL, Rating: f.Rating}); err != nil {
			return err
		}
	}

	if len(feeds) > 0 {
		logger.Infof("seeded %d feeds from config", len(feeds))
	}

	return nil
}
