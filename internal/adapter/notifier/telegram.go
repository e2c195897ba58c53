package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
)

const sendTimeout = 30 * time.Second

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	app    string
}

func NewTelegram(cfg config.TelegramConfig, appName string) (*Telegram, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		bot:    bot,
		chatID: chatID,
		app:    appName,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, formatMessage(t.app, ev))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func formatMessage(app string, ev domain.Event) string {
	status := "✅ Succeeded"
	switch {
	case !ev.Success:
		status = "❌ Failed"
	case ev.Warning:
		status = "⚠️ Succeeded with warnings"
	}

	return fmt.Sprintf(
		"%s: %s\n\n"+
			"📦 Operation: %s\n"+
			"📝 Detail: %s\n"+
			"🕐 Time: %s",
		app, status,
		ev.Operation,
		ev.Detail,
		ev.At.Format("2006-01-02 15:04:05"),
	)
}
