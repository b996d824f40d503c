package telegram

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
)

// Connect authorises the bot token and starts long polling.
func Connect(token string, debug bool, timeout int) (*tgbotapi.BotAPI, tgbotapi.UpdatesChannel, error) {
	if token == "" {
		return nil, nil, fmt.Errorf("telegram bot token is empty")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise telegram bot api: %w", err)
	}
	api.Debug = debug

	// getUpdates does not work while a webhook is registered.
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		slog.Warn("telegram webhook removal failed", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout

	slog.Info("telegram bot authorised", "username", api.Self.UserName)
	return api, api.GetUpdatesChan(u), nil
}
