package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type fakeBotAPI struct {
	sent    []tgbotapi.MessageConfig
	sendErr error
}

func (f *fakeBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable type")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestSendDeliversMessage(t *testing.T) {
	api := &fakeBotAPI{}
	tg := NewTelegram(api, 25, zap.NewNop())

	if err := tg.Send(context.Background(), 555001, "⏰ Reminder"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	if api.sent[0].ChatID != 555001 {
		t.Errorf("chat id = %d, want 555001", api.sent[0].ChatID)
	}
	if api.sent[0].Text != "⏰ Reminder" {
		t.Errorf("text = %q", api.sent[0].Text)
	}
}

func TestSendPropagatesAPIError(t *testing.T) {
	apiErr := errors.New("telegram: forbidden: bot was blocked by the user")
	api := &fakeBotAPI{sendErr: apiErr}
	tg := NewTelegram(api, 25, zap.NewNop())

	if err := tg.Send(context.Background(), 555001, "hello"); !errors.Is(err, apiErr) {
		t.Fatalf("err = %v, want wrapped %v", err, apiErr)
	}
}

func TestSendAbortsOnCancelledContext(t *testing.T) {
	api := &fakeBotAPI{}
	// burst 1: the first send drains the bucket and the second must wait
	tg := NewTelegram(api, 0.001, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := tg.Send(ctx, 1, "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}

	cancel()
	if err := tg.Send(ctx, 1, "second"); err == nil {
		t.Fatal("want error when ctx is cancelled while waiting for a slot")
	}
	if len(api.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(api.sent))
	}
}

func TestNewTelegramClampsBurst(t *testing.T) {
	tg := NewTelegram(&fakeBotAPI{}, 0.5, zap.NewNop())
	// a sub-1 rate must still allow a single send without blocking forever
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tg.Send(ctx, 1, "only"); err != nil {
		t.Fatalf("Send with fractional rate: %v", err)
	}
}
