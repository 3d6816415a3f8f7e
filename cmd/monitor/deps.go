package main

import (
	"fmt"
	"slices"
	"strings"

	"melonbooks-monitor/config"
	"melonbooks-monitor/internal/bot"
	"melonbooks-monitor/internal/database"
	"melonbooks-monitor/internal/logger"
	"melonbooks-monitor/internal/monitor"
	"melonbooks-monitor/internal/notifier"
	"melonbooks-monitor/internal/scraper"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
)

// deps holds what every command needs.
type deps struct {
	cfg      *config.Config
	log      logger.Logger
	db       *database.DB
	registry *scraper.Registry
}

func newDeps(cmd *cobra.Command) (*deps, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}

	melonbooks, err := scraper.NewMelonbooksScraper(scraper.MelonbooksOptions{
		BaseURL:   cfg.Melonbooks.BaseURL,
		Timeout:   cfg.Melonbooks.Timeout,
		UserAgent: cfg.Melonbooks.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", cfg.Database.Path, err)
	}

	return &deps{
		cfg:      cfg,
		log:      log,
		db:       db,
		registry: scraper.NewRegistry(melonbooks),
	}, nil
}

func (d *deps) Close() {
	if err := d.db.Close(); err != nil {
		d.log.Warn("Closing catalog failed", logger.Error(err))
	}
	_ = d.log.Sync()
}

// checkSite rejects sites no source is registered for.
func (d *deps) checkSite(site string) error {
	if !slices.Contains(d.registry.Sites(), site) {
		return fmt.Errorf("unknown site %q (known: %s)", site, strings.Join(d.registry.Sites(), ", "))
	}
	return nil
}

// telegram connects the bot when a token is configured.
func (d *deps) telegram() (*tgbotapi.BotAPI, error) {
	if d.cfg.Telegram.Token == "" {
		return nil, nil
	}
	return bot.Init(d.cfg.Telegram.Token, d.log)
}

// notifier builds the configured notification channels. Without any the notifier drops everything.
func (d *deps) notifier(tg *tgbotapi.BotAPI) *notifier.Notifier {
	var channels notifier.Multi
	if tg != nil {
		channels = append(channels, notifier.NewTelegramChannel(tg, d.cfg.Telegram.ChatID))
	}
	if d.cfg.Discord.WebhookURL != "" {
		channels = append(channels, notifier.NewDiscordChannel(d.cfg.Discord.WebhookURL))
	}

	opts := notifier.Options{ChunkSize: d.cfg.Notify.ChunkSize, ChunkDelay: d.cfg.Notify.ChunkDelay}
	switch len(channels) {
	case 0:
		d.log.Warn("No notification channel configured, changes are only logged")
		return notifier.New(nil, opts)
	case 1:
		return notifier.New(channels[0], opts)
	default:
		return notifier.New(channels, opts)
	}
}

func (d *deps) monitor(n monitor.Notifier) *monitor.Monitor {
	pacer := monitor.DefaultPacer()
	pacer.RequestDelay = d.cfg.Pacing.RequestDelay
	pacer.ArtistDelay = d.cfg.Pacing.ArtistDelay
	pacer.Cooldown = d.cfg.Pacing.Cooldown
	pacer.CooldownEvery = d.cfg.Pacing.CooldownEvery
	return monitor.New(d.db, d.registry, n, pacer, d.log)
}

// passMonitor builds a monitor with notifications for a single pass.
func (d *deps) passMonitor() (*monitor.Monitor, error) {
	tg, err := d.telegram()
	if err != nil {
		return nil, err
	}
	return d.monitor(d.notifier(tg)), nil
}
