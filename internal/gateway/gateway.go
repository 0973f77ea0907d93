package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fortyx-net/livechat/internal/notify"
	"github.com/fortyx-net/livechat/internal/ticket"
	"github.com/fortyx-net/livechat/pkg/protocol"
)

// DefaultRecencyWindow bounds which support messages count as "recent" in
// poll responses.
const DefaultRecencyWindow = 60 * time.Second

// ValidationError reports a missing or malformed required field. It is
// returned before any mutation happens.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Gateway implements the ticket lifecycle on top of a Store and relays
// events to the notification pipeline. Mutations of the same session are
// serialized through a keyed lock so message timestamps within a ticket are
// non-decreasing; different sessions proceed independently.
type Gateway struct {
	store    ticket.Store
	pipeline *notify.Pipeline
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRecencyWindow overrides the trailing window for recent-message polls.
func WithRecencyWindow(d time.Duration) Option {
	return func(g *Gateway) { g.window = d }
}

// WithClock overrides the gateway clock (tests only).
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a Gateway. pipeline may be nil when no notification channels
// are configured.
func New(store ticket.Store, pipeline *notify.Pipeline, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		store:    store,
		pipeline: pipeline,
		window:   DefaultRecencyWindow,
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// sessionLock returns the mutex serializing mutations of one session.
func (g *Gateway) sessionLock(sessionID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[sessionID] = l
	}
	return l
}

// Create opens a new ticket with a single visitor message, persists it, and
// tells the agents. Notification failure never fails the call.
func (g *Gateway) Create(ctx context.Context, sessionID, email, initialMessage string) error {
	switch {
	case sessionID == "":
		return &ValidationError{Field: "sessionId"}
	case email == "":
		return &ValidationError{Field: "email"}
	case initialMessage == "":
		return &ValidationError{Field: "initialMessage"}
	}

	l := g.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	now := g.now().UTC()
	t := &protocol.Ticket{
		SessionID: sessionID,
		Email:     email,
		CreatedAt: now,
		Messages: []protocol.Message{
			{From: protocol.RoleUser, Text: initialMessage, Timestamp: now},
		},
	}
	if err := g.store.Put(t); err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}

	g.logger.Info("ticket created", "session", sessionID, "email", email)
	g.relay(ctx, notify.Event{
		Kind:      notify.EventTicketCreated,
		SessionID: sessionID,
		Email:     email,
		Text:      initialMessage,
		From:      protocol.RoleUser,
		Timestamp: now,
	})
	return nil
}

// SendMessage appends a visitor message to an existing ticket and relays it.
func (g *Gateway) SendMessage(ctx context.Context, sessionID, email, message string) error {
	switch {
	case sessionID == "":
		return &ValidationError{Field: "sessionId"}
	case email == "":
		return &ValidationError{Field: "email"}
	case message == "":
		return &ValidationError{Field: "message"}
	}

	l := g.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	now := g.now().UTC()
	msg := protocol.Message{From: protocol.RoleUser, Text: message, Timestamp: now}
	if err := g.store.AppendMessage(sessionID, msg); err != nil {
		if err == ticket.ErrNotFound {
			return ticket.ErrNotFound
		}
		return fmt.Errorf("send message: %w", err)
	}

	g.relay(ctx, notify.Event{
		Kind:      notify.EventMessage,
		SessionID: sessionID,
		Email:     email,
		Text:      message,
		From:      protocol.RoleUser,
		Timestamp: now,
	})
	return nil
}

// ReceiveAgentReply records a support-authored message arriving from the
// agent side. No relay: the agents already have it.
func (g *Gateway) ReceiveAgentReply(_ context.Context, sessionID, message string) error {
	switch {
	case sessionID == "":
		return &ValidationError{Field: "sessionId"}
	case message == "":
		return &ValidationError{Field: "message"}
	}

	l := g.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	msg := protocol.Message{From: protocol.RoleSupport, Text: message, Timestamp: g.now().UTC()}
	if err := g.store.AppendMessage(sessionID, msg); err != nil {
		if err == ticket.ErrNotFound {
			return ticket.ErrNotFound
		}
		return fmt.Errorf("agent reply: %w", err)
	}
	g.logger.Info("agent reply recorded", "session", sessionID)
	return nil
}

// MarkClosed flags a ticket closed. Idempotent; an unknown or already-closed
// session is a no-op, not an error.
func (g *Gateway) MarkClosed(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return &ValidationError{Field: "sessionId"}
	}

	l := g.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	err := g.store.SetClosed(sessionID, g.now().UTC())
	if err == ticket.ErrNotFound {
		g.logger.Warn("close for unknown session ignored", "session", sessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark closed: %w", err)
	}
	g.logger.Info("ticket closed", "session", sessionID)
	return nil
}

// FetchRecentAgentMessages returns support messages newer than the recency
// window, plus the closed flag. Unknown sessions yield an empty result.
// The window is a fixed trailing span relative to the server clock, not a
// caller-supplied cursor; overlapping polls return overlapping sets and the
// widget deduplicates on its side.
func (g *Gateway) FetchRecentAgentMessages(_ context.Context, sessionID string) ([]protocol.Message, bool, error) {
	t, err := g.store.Get(sessionID)
	if err == ticket.ErrNotFound {
		return []protocol.Message{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch recent: %w", err)
	}

	cutoff := g.now().UTC().Add(-g.window)
	recent := []protocol.Message{}
	for _, m := range t.Messages {
		if m.From == protocol.RoleSupport && m.Timestamp.After(cutoff) {
			recent = append(recent, m)
		}
	}
	return recent, t.Closed, nil
}

// FetchFullHistory returns the complete transcript in append order, or an
// empty list for unknown sessions.
func (g *Gateway) FetchFullHistory(_ context.Context, sessionID string) ([]protocol.Message, error) {
	t, err := g.store.Get(sessionID)
	if err == ticket.ErrNotFound {
		return []protocol.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if t.Messages == nil {
		return []protocol.Message{}, nil
	}
	return t.Messages, nil
}

// Ticket returns one full ticket for the operator surface.
func (g *Gateway) Ticket(_ context.Context, sessionID string) (*protocol.Ticket, error) {
	return g.store.Get(sessionID)
}

// ListTickets returns all tickets, newest first, for the operator surface.
func (g *Gateway) ListTickets(_ context.Context) ([]*protocol.Ticket, error) {
	tickets, err := g.store.List()
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// relay hands an event to the pipeline. Fire and forget: the outcome is
// logged inside the pipeline and never affects the caller.
func (g *Gateway) relay(ctx context.Context, ev notify.Event) {
	if g.pipeline == nil {
		return
	}
	g.pipeline.Deliver(ctx, ev)
}
