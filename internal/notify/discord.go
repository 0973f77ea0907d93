package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const ticketEmbedColor = 0x5865F2

// DiscordWebhook posts embed payloads to a Discord incoming webhook. This is
// the historical fallback channel: it reaches the support team even when the
// bot API is down, but offers no per-ticket threading.
type DiscordWebhook struct {
	client *resty.Client
	url    string
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Footer    *discordFooter `json:"footer,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// NewDiscordWebhook creates the fallback notifier for a webhook URL.
func NewDiscordWebhook(url string) *DiscordWebhook {
	return &DiscordWebhook{
		client: resty.New().SetTimeout(10 * time.Second),
		url:    url,
	}
}

func (d *DiscordWebhook) Name() string { return "discord-webhook" }

func (d *DiscordWebhook) Notify(ctx context.Context, ev Event) error {
	ts := ev.Timestamp.UTC().Format(time.RFC3339)

	var embed discordEmbed
	switch ev.Kind {
	case EventTicketCreated:
		embed = discordEmbed{
			Title: "💬 New Live Chat Ticket",
			Color: ticketEmbedColor,
			Fields: []discordField{
				{Name: "Email", Value: ev.Email, Inline: true},
				{Name: "Session ID", Value: ev.SessionID, Inline: true},
				{Name: "Initial Message", Value: ev.Text},
			},
			Footer:    &discordFooter{Text: "Created at " + ts},
			Timestamp: ts,
		}
	case EventMessage:
		embed = discordEmbed{
			Title: "💬 Live Chat Message",
			Color: ticketEmbedColor,
			Fields: []discordField{
				{Name: "Email", Value: ev.Email, Inline: true},
				{Name: "Session ID", Value: ev.SessionID, Inline: true},
				{Name: "Message", Value: ev.Text},
			},
			Timestamp: ts,
		}
	default:
		return fmt.Errorf("discord: unknown event kind %q", ev.Kind)
	}
	if ev.Preview != nil {
		embed.Fields = append(embed.Fields,
			discordField{Name: "Link Preview", Value: truncate(ev.Preview.render(), 1024)})
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(discordPayload{Embeds: []discordEmbed{embed}}).
		Post(d.url)
	if err != nil {
		return fmt.Errorf("discord: webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord: webhook: status %d", resp.StatusCode())
	}
	return nil
}

// NotifyRating posts a star-rating embed. Ratings bypass the pipeline; they
// go straight to the webhook and have no ticket attached.
func (d *DiscordWebhook) NotifyRating(ctx context.Context, rating int, comment string, at time.Time) error {
	color := 0xEF4444
	if rating >= 4 {
		color = 0x10B981
	} else if rating >= 3 {
		color = 0xF59E0B
	}
	stars := ""
	for i := 1; i <= 5; i++ {
		if i <= rating {
			stars += "⭐"
		} else {
			stars += "☆"
		}
	}
	ts := at.UTC().Format(time.RFC3339)

	embed := discordEmbed{
		Title: "⭐ New Rating Submission",
		Color: color,
		Fields: []discordField{
			{Name: "Rating", Value: fmt.Sprintf("%s (%d/5)", stars, rating)},
			{Name: "Comment", Value: truncate(comment, 1024)},
		},
		Footer:    &discordFooter{Text: "Submitted at " + ts},
		Timestamp: ts,
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(discordPayload{Embeds: []discordEmbed{embed}}).
		Post(d.url)
	if err != nil {
		return fmt.Errorf("discord: rating webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("discord: rating webhook: status %d", resp.StatusCode())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
