package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram delivers events as plain-text messages to one support chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram fallback notifier. The token comes from
// @BotFather; chatID is the support group the bot posts into.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(_ context.Context, ev Event) error {
	var text string
	switch ev.Kind {
	case EventTicketCreated:
		text = fmt.Sprintf("New live chat ticket\nEmail: %s\nSession: %s\n\n%s",
			ev.Email, ev.SessionID, ev.Text)
	case EventMessage:
		text = fmt.Sprintf("Live chat message (%s)\nSession: %s\n\n%s",
			ev.From, ev.SessionID, ev.Text)
	default:
		return fmt.Errorf("telegram: unknown event kind %q", ev.Kind)
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
