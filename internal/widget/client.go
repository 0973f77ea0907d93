package widget

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fortyx-net/livechat/pkg/protocol"
)

// Backend is the slice of the gateway API the widget consumes.
type Backend interface {
	CreateTicket(ctx context.Context, sessionID, email, initialMessage string) error
	SendMessage(ctx context.Context, sessionID, email, message string) error
	RecentMessages(ctx context.Context, sessionID string) (msgs []protocol.Message, closed bool, err error)
	History(ctx context.Context, sessionID string) ([]protocol.Message, error)
}

// Client implements Backend over the livechat HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient creates a Backend for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

func (c *Client) CreateTicket(ctx context.Context, sessionID, email, initialMessage string) error {
	var result protocol.StatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(protocol.CreateRequest{SessionID: sessionID, Email: email, InitialMessage: initialMessage}).
		SetResult(&result).
		SetError(&result).
		Post("/api/livechat/create")
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	if resp.IsError() || !result.Success {
		return fmt.Errorf("create ticket: server said %q (status %d)", result.Message, resp.StatusCode())
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID, email, message string) error {
	var result protocol.StatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(protocol.SendRequest{SessionID: sessionID, Email: email, Message: message}).
		SetResult(&result).
		SetError(&result).
		Post("/api/livechat/send")
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() || !result.Success {
		return fmt.Errorf("send message: server said %q (status %d)", result.Message, resp.StatusCode())
	}
	return nil
}

func (c *Client) RecentMessages(ctx context.Context, sessionID string) ([]protocol.Message, bool, error) {
	var result protocol.MessagesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetResult(&result).
		Get("/api/livechat/messages")
	if err != nil {
		return nil, false, fmt.Errorf("poll messages: %w", err)
	}
	if resp.IsError() || !result.Success {
		return nil, false, fmt.Errorf("poll messages: status %d", resp.StatusCode())
	}
	return result.Messages, result.Closed, nil
}

func (c *Client) History(ctx context.Context, sessionID string) ([]protocol.Message, error) {
	var result protocol.HistoryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetResult(&result).
		Get("/api/livechat/history")
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if resp.IsError() || !result.Success {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode())
	}
	return result.Messages, nil
}
