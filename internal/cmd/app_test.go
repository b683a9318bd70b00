package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"newsbot/internal/config"
	"newsbot/internal/storage"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut

	err := app.Run(append([]string{"newsbot"}, args...))
	return out.String(), err
}

func TestFeedsCommands(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	dbPath := filepath.Join(t.TempDir(), "news.db")
	global := []string{"--config", filepath.Join(t.TempDir(), "none.toml"), "--database", dbPath}

	// a missing config file is an error unless it is the default path
	_, err := runApp(t, append(global, "feeds", "ls")...)
	require.Error(t, err)

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_level = \"warn\"\n"), 0o600))
	global = []string{"--config", cfgPath, "--database", dbPath}

	out, err := runApp(t, append(global, "feeds", "add", "--title", "Lenta", "--url", "https://lenta.ru/rss", "--rating", "5")...)
	require.NoError(t, err)
	assert.Contains(t, out, "added feed 1")

	out, err = runApp(t, append(global, "feeds", "ls")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Lenta")
	assert.Contains(t, out, "https://lenta.ru/rss")

	_, err = runApp(t, append(global, "feeds", "rm", "--title", "Lenta")...)
	require.NoError(t, err)

	_, err = runApp(t, append(global, "feeds", "rm", "--title", "Lenta")...)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMigrateCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, nil, 0o600))
	dbPath := filepath.Join(t.TempDir(), "news.db")

	_, err := runApp(t, "--config", cfgPath, "--database", dbPath, "migrate")
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestRunRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("NEWSBOT_TOKEN", "")
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, nil, 0o600))

	_, err := runApp(t, "--config", cfgPath, "--database", filepath.Join(t.TempDir(), "news.db"), "run")
	assert.ErrorContains(t, err, "token")
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
telegram_bot_token = "from-file"
database_dsn = "file.db"
log_level = "debug"
`), 0o600))

	var loaded config.Config

	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	app.Commands = append(app.Commands, &cli.Command{
		Name: "show-config",
		Action: func(c *cli.Context) error {
			cfg, _, err := setup(c, true)
			loaded = cfg
			return err
		},
	})

	require.NoError(t, app.Run([]string{"newsbot", "--config", cfgPath, "--token", "from-flag", "show-config"}))

	assert.Equal(t, "from-flag", loaded.TelegramBotToken)
	assert.Equal(t, "file.db", loaded.DatabaseDSN)
	assert.Equal(t, "debug", loaded.LogLevel)
}

func TestDescriptionHasNoIndent(t *testing.T) {
	for _, line := range strings.Split(newApp().Description, "\n") {
		assert.False(t, strings.HasPrefix(line, "\t"), "line %q", line)
	}
}
