package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BotAPI is the slice of the Telegram client the notifier needs.
// *tgbotapi.BotAPI satisfies it.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers scheduler notifications through the Bot API. A token
// bucket paces outbound sends so a reminder burst on a busy minute stays
// under Telegram's bot-wide flood limit.
type Telegram struct {
	api     BotAPI
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTelegram builds the notifier. Burst equals the per-second rate, so a
// short spike drains immediately and only sustained bursts queue.
func NewTelegram(api BotAPI, ratePerSec float64, logger *zap.Logger) *Telegram {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Telegram{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  logger,
	}
}

// Send blocks until the limiter grants a slot, then pushes one plain-text
// message to the chat. Cancelling ctx abandons the wait.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}

	t.logger.Debug("telegram message delivered", zap.Int64("chat_id", chatID))
	return nil
}
