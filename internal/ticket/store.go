package ticket

import (
	"errors"
	"time"

	"github.com/fortyx-net/livechat/pkg/protocol"
)

// ErrNotFound is returned for session identifiers with no ticket.
var ErrNotFound = errors.New("ticket not found")

// Store is the persistence interface for tickets and their messages.
// Implementations must guarantee that concurrent mutations of different
// sessions never lose each other's writes, and that messages come back in
// append order.
type Store interface {
	// Put creates or replaces a ticket.
	Put(t *protocol.Ticket) error
	// Get retrieves a ticket by session ID, including its messages.
	Get(sessionID string) (*protocol.Ticket, error)
	// AppendMessage adds a message to an existing ticket.
	AppendMessage(sessionID string, msg protocol.Message) error
	// SetClosed marks a ticket closed at the given time. Closing an
	// already-closed ticket keeps the original closure timestamp.
	SetClosed(sessionID string, at time.Time) error
	// List returns all tickets, newest first.
	List() ([]*protocol.Ticket, error)
}
