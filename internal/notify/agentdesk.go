package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// AgentDesk is the primary channel: the agent-side bot API that opens a
// dedicated channel per ticket and relays visitor messages into it.
type AgentDesk struct {
	client *resty.Client
}

// agentDeskResult is the bot API's response envelope.
type agentDeskResult struct {
	Success   bool   `json:"success"`
	ChannelID string `json:"channelId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewAgentDesk creates the primary notifier for the given bot API base URL.
func NewAgentDesk(baseURL string) *AgentDesk {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)
	return &AgentDesk{client: client}
}

func (a *AgentDesk) Name() string { return "agentdesk" }

func (a *AgentDesk) Notify(ctx context.Context, ev Event) error {
	var path string
	var body any
	switch ev.Kind {
	case EventTicketCreated:
		path = "/create-livechat-ticket"
		body = map[string]string{
			"sessionId":      ev.SessionID,
			"email":          ev.Email,
			"initialMessage": ev.Text,
		}
	case EventMessage:
		path = "/send-livechat-message"
		body = map[string]string{
			"sessionId": ev.SessionID,
			"message":   ev.Text,
			"from":      string(ev.From),
		}
	default:
		return fmt.Errorf("agentdesk: unknown event kind %q", ev.Kind)
	}

	var result agentDeskResult
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(path)
	if err != nil {
		return fmt.Errorf("agentdesk: %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("agentdesk: %s: status %d", path, resp.StatusCode())
	}
	if !result.Success {
		return fmt.Errorf("agentdesk: %s: bot reported failure: %s", path, result.Message)
	}
	return nil
}
