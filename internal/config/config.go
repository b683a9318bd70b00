package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cristalhq/aconfig"
	"github.com/joho/godotenv"
)

// DefaultPath is where the config file is looked up when no path is given.
const DefaultPath = "./config.toml"

// EnvPrefix prefixes the environment variables that override file settings,
// e.g. NEWSBOT_FETCH_INTERVAL.
const EnvPrefix = "NEWSBOT"

// Feed is a news source declared in the config file. Feeds are seeded into
// the store at startup.
type Feed struct {
	Title  string `toml:"title"`
	URL    string `toml:"url"`
	Rating int    `toml:"rating"`
}

type Config struct {
	TelegramBotToken string        `toml:"telegram_bot_token" env:"TOKEN"`
	DatabaseDSN      string        `toml:"database_dsn" env:"DATABASE" default:"newsbot.db"`
	HTTPAddr         string        `toml:"http_addr" env:"HTTP_ADDR"`
	LogLevel         string        `toml:"log_level" env:"LOG_LEVEL" default:"info"`
	LogFormat        string        `toml:"log_format" env:"LOG_FORMAT" default:"text"`
	Admins           []int64       `toml:"admins" env:"ADMINS" default:"1381101"`
	Feeds            []Feed        `toml:"-" env:"-"`
	FetchInterval    time.Duration `toml:"fetch_interval" env:"FETCH_INTERVAL" default:"1h"`
	FetchTimeout     time.Duration `toml:"fetch_timeout" env:"FETCH_TIMEOUT" default:"10s"`
	FetchConcurrency int           `toml:"fetch_concurrency" env:"FETCH_CONCURRENCY" default:"4"`
	PollTimeout      time.Duration `toml:"poll_timeout" env:"POLL_TIMEOUT" default:"60s"`
	RetryDelay       time.Duration `toml:"retry_delay" env:"RETRY_DELAY" default:"1s"`
	SearchLimit      int           `toml:"search_limit" env:"SEARCH_LIMIT" default:"3"`
}

var ErrNoToken = errors.New("telegram bot token is not set")

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	var cfg Config

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFiles: true,
		SkipEnv:   true,
		SkipFlags: true,
	})
	if err := loader.Load(); err != nil {
		panic(fmt.Sprintf("config: bad default tag: %v", err))
	}

	return cfg
}

// LoadEnv reads a .env file into the process environment if one exists.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the config from defaults, the TOML file at path and NEWSBOT_*
// environment variables, in that order. A missing file at DefaultPath is not
// an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}

	var cfg Config

	if filepath.Ext(path) != ".toml" {
		return cfg, fmt.Errorf("config %s: only .toml files are supported", path)
	}

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:          true,
		EnvPrefix:          EnvPrefix,
		AllowUnknownEnvs:   true,
		Files:              []string{path},
		FailOnFileNotFound: path != DefaultPath,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": settingsDecoder{},
		},
	})
	if err := loader.Load(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	feeds, err := loadFeeds(path)
	if err != nil {
		return cfg, err
	}
	cfg.Feeds = feeds

	return cfg, nil
}

// settingsDecoder feeds the scalar settings of a TOML file to aconfig. The
// [[feeds]] tables are left to loadFeeds.
type settingsDecoder struct{}

func (settingsDecoder) Format() string {
	return "toml"
}

func (settingsDecoder) DecodeFile(filename string) (map[string]any, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(filename, &raw); err != nil {
		return nil, err
	}

	delete(raw, "feeds")
	return raw, nil
}

func loadFeeds(path string) ([]Feed, error) {
	var file struct {
		Feeds []Feed `toml:"feeds"`
	}

	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return nil, nil
		}
		return nil, fmt.Errorf("parse feeds in %s: %w", path, err)
	}

	return file.Feeds, nil
}

// Validate checks the settings. A missing token is reported last, as
// ErrNoToken, so commands that never talk to Telegram can ignore it.
func (c Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("database dsn is not set")
	}

	durations := map[string]time.Duration{
		"fetch_interval": c.FetchInterval,
		"fetch_timeout":  c.FetchTimeout,
		"poll_timeout":   c.PollTimeout,
		"retry_delay":    c.RetryDelay,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.FetchConcurrency < 1 {
		return fmt.Errorf("fetch_concurrency must be at least 1, got %d", c.FetchConcurrency)
	}
	if c.SearchLimit < 1 {
		return fmt.Errorf("search_limit must be at least 1, got %d", c.SearchLimit)
	}

	for i, f := range c.Feeds {
		if f.Title == "" || f.URL == "" {
			return fmt.Errorf("feed #%d: title and url are required", i+1)
		}
	}

	if c.TelegramBotToken == "" {
		return ErrNoToken
	}

	return nil
}
