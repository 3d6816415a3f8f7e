package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"

	"melonbooks-monitor/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel posts HTML messages to a single chat.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramChannel creates a channel posting to chatID.
func NewTelegramChannel(bot *tgbotapi.BotAPI, chatID int64) *TelegramChannel {
	return &TelegramChannel{bot: bot, chatID: chatID}
}

// SendNew implements Channel.
func (t *TelegramChannel) SendNew(ctx context.Context, artist string, products []models.Product) error {
	return t.send(fmt.Sprintf("🆕 <b>%s</b>: new products available", html.EscapeString(artist)), products)
}

// SendReruns implements Channel.
func (t *TelegramChannel) SendReruns(ctx context.Context, artist string, products []models.Product) error {
	return t.send(fmt.Sprintf("🔁 <b>%s</b>: products available again", html.EscapeString(artist)), products)
}

func (t *TelegramChannel) send(header string, products []models.Product) error {
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(header, products))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func formatTelegram(header string, products []models.Product) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, p := range products {
		fmt.Fprintf(&b, "\n📦 <a href=\"%s\">%s</a> (%s)", html.EscapeString(p.URL), html.EscapeString(p.Title), p.Availability)
	}
	return b.String()
}
