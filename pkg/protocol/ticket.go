package protocol

import "time"

// Ticket is the durable record of one visitor's support conversation,
// keyed by a client-issued session identifier.
type Ticket struct {
	SessionID string     `json:"sessionId"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"createdAt"`
	Messages  []Message  `json:"messages"`
	Closed    bool       `json:"closed,omitempty"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}
