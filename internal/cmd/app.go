package main

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"newsbot/internal/config"
	"newsbot/internal/logging"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "newsbot",
		Usage: "Telegram bot that collects RSS news and searches it",
		Description: `Collects news from the configured RSS/Atom feeds into a database and
answers Telegram users searching today's news.

Settings come from defaults, the TOML config file, NEWSBOT_* environment
variables and flags, later sources winning. A .env file is read first, e.g.:

--token => TELEGRAM_BOT_TOKEN=123:abc
--database => NEWSBOT_DATABASE=postgres://localhost/news
NEWSBOT_FETCH_INTERVAL=30m`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the TOML config file",
				EnvVars: []string{"NEWSBOT_CONFIG"},
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Telegram bot token",
				EnvVars: []string{"NEWSBOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "database",
				Usage:   "SQLite file path or postgres:// DSN",
				EnvVars: []string{"NEWSBOT_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "http-addr",
				Usage:   "address of the status server, disabled when empty",
				EnvVars: []string{"NEWSBOT_HTTP_ADDR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "trace, debug, info, warn or error",
				EnvVars: []string{"NEWSBOT_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text or json",
				EnvVars: []string{"NEWSBOT_LOG_FORMAT"},
			},
		},
		Before: func(c *cli.Context) error {
			return config.LoadEnv(".env")
		},
		Commands: []*cli.Command{
			runCmd(),
			migrateCmd(),
			feedsCmd(),
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}
}

// setup loads the config file, applies flag overrides and builds the logger.
func setup(c *cli.Context, needToken bool) (config.Config, *log.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, nil, err
	}

	overrides := map[string]*string{
		"token":      &cfg.TelegramBotToken,
		"database":   &cfg.DatabaseDSN,
		"http-addr":  &cfg.HTTPAddr,
		"log-level":  &cfg.LogLevel,
		"log-format": &cfg.LogFormat,
	}
	for name, field := range overrides {
		if c.IsSet(name) {
			*field = c.String(name)
		}
	}

	if err := cfg.Validate(); err != nil {
		if needToken || !errors.Is(err, config.ErrNoToken) {
			return cfg, nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	logger, err := logging.Setup(c.App.ErrWriter, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, err
	}

	return cfg, logger, nil
}
