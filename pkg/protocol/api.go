package protocol

// Request and response bodies for the livechat HTTP API. Field names match
// the widget's wire format.

// CreateRequest opens a new ticket.
type CreateRequest struct {
	SessionID      string `json:"sessionId"`
	Email          string `json:"email"`
	InitialMessage string `json:"initialMessage"`
}

// SendRequest appends a visitor message to an existing ticket.
type SendRequest struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	Message   string `json:"message"`
}

// AgentReplyRequest is posted by the agent-side integration when a support
// agent answers a ticket.
type AgentReplyRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// CloseRequest marks a ticket closed.
type CloseRequest struct {
	SessionID string `json:"sessionId"`
}

// RatingRequest is a fire-and-forget feedback submission.
type RatingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// StatusResponse is the generic success/failure envelope.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// MessagesResponse carries poll results: recent support messages plus the
// ticket's closed flag.
type MessagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
	Closed   bool      `json:"closed"`
}

// HistoryResponse carries a ticket's full transcript in append order.
type HistoryResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
}
