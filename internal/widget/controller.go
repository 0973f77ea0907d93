package widget

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/fortyx-net/livechat/pkg/protocol"
)

// The bar for an email is local-part@domain.tld; anything stricter belongs
// server-side.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ErrInvalidEmail is returned when an email submission fails the syntactic
// check. The gateway is never contacted in that case.
var ErrInvalidEmail = fmt.Errorf("invalid email address")

// UI is the rendering surface the controller drives. Implementations live
// in whatever front end hosts the widget; tests use a recording fake.
type UI interface {
	// RenderMessage appends one message to the visible transcript.
	RenderMessage(msg protocol.Message)
	// PromptForEmail swaps the input box for the email capture form.
	PromptForEmail()
	// ShowInput restores the message input box.
	ShowInput()
	// NotifyClosed renders the closure notice and the new-ticket action.
	NotifyClosed()
	// SetPending toggles the unread-messages indicator shown while the
	// panel is closed.
	SetPending(on bool)
	// ShowError surfaces a retryable failure to the visitor.
	ShowError(msg string)
}

// Controller owns the client session: identity, state machine, cursor and
// polling lifecycle. One instance per widget; all session state lives here
// rather than in package globals.
type Controller struct {
	backend Backend
	ui      UI
	store   *IdentityStore
	logger  *slog.Logger

	mu           sync.Mutex
	state        State
	sessionID    string
	email        string
	firstMessage string    // cached until the email is captured
	lastSeen     time.Time // poll cursor; deduplicates overlapping poll results
	closed       bool
	panelOpen    bool
	poller       *Poller
	interval     time.Duration
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithPollInterval overrides the default 3 s poll cadence.
func WithPollInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.interval = d }
}

// NewController restores the durable identity (minting a session ID on
// first run), rebuilds the transcript from the server, and, when an email
// is already captured, enters Active and starts polling.
func NewController(ctx context.Context, backend Backend, ui UI, store *IdentityStore, logger *slog.Logger, opts ...ControllerOption) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		backend:  backend,
		ui:       ui,
		store:    store,
		logger:   logger,
		state:    StateAnonymous,
		interval: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	id := store.Load()
	if id.SessionID == "" {
		id.SessionID = NewSessionID()
		if err := store.Save(id); err != nil {
			return nil, err
		}
	}
	c.sessionID = id.SessionID
	c.email = id.Email

	poller, err := NewPoller(c.interval, c.pollOnce, logger)
	if err != nil {
		return nil, err
	}
	c.poller = poller

	// One-time transcript rebuild; not part of the poll cycle.
	history, err := backend.History(ctx, c.sessionID)
	if err != nil {
		logger.Warn("history fetch failed, starting with empty transcript", "error", err)
	}
	for _, m := range history {
		ui.RenderMessage(m)
		if m.From == protocol.RoleSupport && m.Timestamp.After(c.lastSeen) {
			c.lastSeen = m.Timestamp
		}
	}

	if c.email != "" {
		c.state = StateActive
		c.poller.Start()
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the durable session identifier.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// OpenPanel marks the chat panel visible and resumes polling for active
// tickets. The pending indicator clears: the visitor is looking now.
func (c *Controller) OpenPanel() {
	c.mu.Lock()
	c.panelOpen = true
	resume := c.state == StateActive
	c.mu.Unlock()

	c.ui.SetPending(false)
	if resume {
		c.poller.Start()
	}
}

// ClosePanel hides the panel and stops polling.
func (c *Controller) ClosePanel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panelOpen = false
	c.poller.Stop()
}

// HandleInput processes a message the visitor typed.
func (c *Controller) HandleInput(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	c.mu.Lock()

	switch c.state {
	case StateClosed:
		// Closed tickets take no further input; the new-ticket action is
		// the only way forward.
		c.mu.Unlock()
		return nil

	case StateAnonymous:
		c.firstMessage = text
		c.state = StateAwaitingEmail
		c.mu.Unlock()
		c.ui.RenderMessage(protocol.Message{From: protocol.RoleUser, Text: text, Timestamp: time.Now()})
		c.ui.PromptForEmail()
		return nil

	case StateAwaitingEmail:
		// Input is hidden while the email prompt is up; treat a stray
		// message as a replacement for the cached one.
		c.firstMessage = text
		c.mu.Unlock()
		return nil

	case StateActive:
		sessionID, email := c.sessionID, c.email
		c.mu.Unlock()
		c.ui.RenderMessage(protocol.Message{From: protocol.RoleUser, Text: text, Timestamp: time.Now()})
		if err := c.backend.SendMessage(ctx, sessionID, email, text); err != nil {
			c.logger.Error("send failed", "session", sessionID, "error", err)
			c.ui.ShowError("Failed to send message. Please try again.")
			return err
		}
		return nil
	}

	c.mu.Unlock()
	return nil
}

// SubmitEmail validates the address and creates the ticket with the cached
// first message. A syntactically invalid email never reaches the gateway.
func (c *Controller) SubmitEmail(ctx context.Context, email string) error {
	if !emailPattern.MatchString(email) {
		c.ui.ShowError("Please enter a valid email address")
		return ErrInvalidEmail
	}

	c.mu.Lock()
	sessionID := c.sessionID
	initial := c.firstMessage
	c.mu.Unlock()
	if initial == "" {
		initial = "User opened live chat"
	}

	if err := c.backend.CreateTicket(ctx, sessionID, email, initial); err != nil {
		c.logger.Error("ticket creation failed", "session", sessionID, "error", err)
		c.ui.ShowError("Failed to create ticket. Please try again.")
		return err
	}

	c.mu.Lock()
	c.email = email
	c.firstMessage = ""
	c.state = StateActive
	c.lastSeen = time.Now()
	if err := c.store.Save(Identity{SessionID: c.sessionID, Email: email}); err != nil {
		c.logger.Error("failed to persist email", "error", err)
	}
	c.mu.Unlock()

	c.ui.ShowInput()
	c.ui.RenderMessage(protocol.Message{
		From:      protocol.RoleSupport,
		Text:      "Thanks! Your support ticket has been created. Our team will respond shortly.",
		Timestamp: time.Now(),
	})
	c.poller.Start()
	return nil
}

// StartNewTicket mints a fresh session identifier and re-enters Anonymous.
// The previous ticket stays on the server untouched.
func (c *Controller) StartNewTicket() error {
	c.mu.Lock()
	c.poller.Stop()
	c.sessionID = NewSessionID()
	c.firstMessage = ""
	c.lastSeen = time.Time{}
	c.closed = false
	c.email = ""
	c.state = StateAnonymous
	err := c.store.Save(Identity{SessionID: c.sessionID})
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.ui.ShowInput()
	return nil
}

// pollOnce is one cycle of the sync protocol. Failures are logged and left
// for the next tick; there is no backoff.
func (c *Controller) pollOnce() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	msgs, closed, err := c.backend.RecentMessages(context.Background(), sessionID)
	if err != nil {
		c.logger.Warn("poll failed", "session", sessionID, "error", err)
		return
	}

	// UI callbacks run outside the lock so they may call back into the
	// controller.
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}

	if closed && !c.closed {
		c.closed = true
		c.state = StateClosed
		c.poller.Stop()
		c.mu.Unlock()
		c.ui.NotifyClosed()
		return
	}

	var fresh []protocol.Message
	for _, m := range msgs {
		if m.From != protocol.RoleSupport {
			continue
		}
		// The server filters by a trailing time window, so consecutive
		// polls overlap; the cursor keeps each message rendered once.
		if m.Timestamp.After(c.lastSeen) {
			fresh = append(fresh, m)
			c.lastSeen = m.Timestamp
		}
	}
	pending := len(fresh) > 0 && !c.panelOpen
	c.mu.Unlock()

	for _, m := range fresh {
		c.ui.RenderMessage(m)
	}
	if pending {
		c.ui.SetPending(true)
	}
}
