package protocol

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser    Role = "user"
	RoleSupport Role = "support"
)

// Message is one entry in a ticket's transcript. Timestamps are assigned
// server-side at append time and are non-decreasing within a ticket.
type Message struct {
	From      Role      `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
