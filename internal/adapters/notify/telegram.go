package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"review-monitor/internal/infra/metrics"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет оповещения в чаты Telegram.
type Telegram struct {
	bot     botSender
	chatIDs []int64
}

// NewTelegram создаёт канал оповещений Telegram.
func NewTelegram(bot botSender, chatIDs []int64) *Telegram {
	return &Telegram{bot: bot, chatIDs: chatIDs}
}

// Name реализует Channel.
func (t *Telegram) Name() string { return "telegram" }

// Send реализует Channel.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if len(t.chatIDs) == 0 {
		return errors.New("telegram: не заданы чаты")
	}
	var errs []error
	for _, chatID := range t.chatIDs {
		if err := t.sendChat(ctx, chatID, text); err != nil {
			errs = append(errs, fmt.Errorf("чат %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) sendChat(ctx context.Context, chatID int64, text string) error {
	for _, part := range SplitMessage(text, TelegramLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			return err
		}
	}
	return nil
}
