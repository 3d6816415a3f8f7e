package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "melonbooks-monitor"

// Config is the application configuration. It is built once by Load and not modified afterwards.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
	Melonbooks MelonbooksConfig `mapstructure:"melonbooks"`
	Pacing     PacingConfig     `mapstructure:"pacing"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MelonbooksConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// PacingConfig holds the fixed waits between shop requests.
type PacingConfig struct {
	RequestDelay  time.Duration `mapstructure:"request_delay"`
	ArtistDelay   time.Duration `mapstructure:"artist_delay"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	CooldownEvery int           `mapstructure:"cooldown_every"`
}

type NotifyConfig struct {
	ChunkSize  int           `mapstructure:"chunk_size"`
	ChunkDelay time.Duration `mapstructure:"chunk_delay"`
}

// TelegramConfig enables the Telegram channel and chat commands when Token is set.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// DiscordConfig enables the Discord channel when WebhookURL is set.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type DaemonConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
}

var (
	ErrInvalid      = errors.New("invalid configuration")
	errMissingChat  = fmt.Errorf("%w: telegram.chat_id is required when a telegram token is set", ErrInvalid)
	errBadChunkSize = fmt.Errorf("%w: notify.chunk_size must be positive", ErrInvalid)
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "./melonbooks.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("melonbooks.base_url", "https://www.melonbooks.co.jp")
	v.SetDefault("melonbooks.timeout", "30s")
	v.SetDefault("melonbooks.user_agent", "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0")
	v.SetDefault("pacing.request_delay", "500ms")
	v.SetDefault("pacing.artist_delay", "1s")
	v.SetDefault("pacing.cooldown", "30s")
	v.SetDefault("pacing.cooldown_every", 64)
	v.SetDefault("notify.chunk_size", 5)
	v.SetDefault("notify.chunk_delay", "1s")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("daemon.interval", "4h")
	v.SetDefault("daemon.continue_on_error", false)
}

// SearchPaths lists the config files merged when no explicit file is given, lowest priority first.
func SearchPaths() []string {
	paths := []string{filepath.Join("/etc", appName, "config.yaml")}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, appName, "config.yaml"))
	}
	return append(paths, "./"+appName+".yaml")
}

// Load reads the configuration. With a non-empty path only that file is read
// and it must exist; otherwise every existing file of SearchPaths is merged.
// Environment variables prefixed with MELON_ override file values.
func Load(path string) (*Config, error) {
	if path != "" {
		return load([]string{path}, true)
	}
	return load(SearchPaths(), false)
}

func load(paths []string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	for _, p := range paths {
		if !required {
			if _, err := os.Stat(p); err != nil {
				continue
			}
		}
		v.SetConfigFile(p)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
	}

	v.SetEnvPrefix("MELON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("telegram.token", "MELON_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("telegram.chat_id", "MELON_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is empty", ErrInvalid)
	}
	u, err := url.Parse(c.Melonbooks.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: melonbooks.base_url %q", ErrInvalid, c.Melonbooks.BaseURL)
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errMissingChat
	}
	if c.Notify.ChunkSize <= 0 {
		return errBadChunkSize
	}
	if c.Pacing.CooldownEvery < 0 {
		return fmt.Errorf("%w: pacing.cooldown_every must not be negative", ErrInvalid)
	}
	if c.Daemon.Interval < time.Second {
		return fmt.Errorf("%w: daemon.interval must be at least 1s", ErrInvalid)
	}
	return nil
}
