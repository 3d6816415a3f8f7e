package bot

import (
	"errors"
	"fmt"

	"melonbooks-monitor/internal/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrNoToken is returned by Init without a bot token.
var ErrNoToken = errors.New("telegram token is not configured")

// Init connects to the Telegram bot API.
func Init(token string, log logger.Logger) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		if err.Error() == "Unauthorized" {
			return nil, fmt.Errorf("telegram token is invalid or revoked, ask @BotFather for a new one: %w", err)
		}
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	bot.Debug = false
	log.Info("Telegram bot authorized", logger.String("username", bot.Self.UserName))
	return bot, nil
}
