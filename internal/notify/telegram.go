package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"

	"github.com/uzlex/consult-platform/pkg/logging"
)

// TelegramDispatcher sends notifications through the Telegram Bot API.
type TelegramDispatcher struct {
	bot    *bot.Bot
	logger *logging.Logger
}

func NewTelegramDispatcher(token string, logger *logging.Logger) (*TelegramDispatcher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram init: %w", err)
	}
	return &TelegramDispatcher{bot: b, logger: logger}, nil
}

func (d *TelegramDispatcher) Send(ctx context.Context, msg Message) error {
	_, err := d.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: msg.ChatID,
		Text:   msg.Text,
	})
	if err != nil {
		return fmt.Errorf("notify: telegram send to %d: %w", msg.ChatID, err)
	}
	return nil
}

// LogDispatcher writes notifications to the application log. Used when no
// bot token is configured, and in tests.
type LogDispatcher struct {
	logger *logging.Logger
}

func NewLogDispatcher(logger *logging.Logger) *LogDispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(_ context.Context, msg Message) error {
	d.logger.Info("notification", "chat_id", msg.ChatID, "text", msg.Text)
	return nil
}
