package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackWebhook delivers events to a Slack incoming webhook. Selectable as
// the fallback channel for teams that run support out of Slack instead of
// Discord.
type SlackWebhook struct {
	url string
}

// NewSlackWebhook creates a Slack fallback notifier.
func NewSlackWebhook(url string) *SlackWebhook {
	return &SlackWebhook{url: url}
}

func (s *SlackWebhook) Name() string { return "slack-webhook" }

func (s *SlackWebhook) Notify(ctx context.Context, ev Event) error {
	var header string
	switch ev.Kind {
	case EventTicketCreated:
		header = "New Live Chat Ticket"
	case EventMessage:
		header = "Live Chat Message"
	default:
		return fmt.Errorf("slack: unknown event kind %q", ev.Kind)
	}

	attachment := slack.Attachment{
		Title: header,
		Fields: []slack.AttachmentField{
			{Title: "Email", Value: ev.Email, Short: true},
			{Title: "Session ID", Value: ev.SessionID, Short: true},
			{Title: "Message", Value: ev.Text},
		},
		Ts: json.Number(fmt.Sprintf("%d", ev.Timestamp.Unix())),
	}
	if ev.Preview != nil {
		attachment.Fields = append(attachment.Fields,
			slack.AttachmentField{Title: "Link Preview", Value: ev.Preview.render()})
	}

	msg := &slack.WebhookMessage{Attachments: []slack.Attachment{attachment}}
	if err := slack.PostWebhookContext(ctx, s.url, msg); err != nil {
		return fmt.Errorf("slack: webhook: %w", err)
	}
	return nil
}
