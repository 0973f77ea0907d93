package widget

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the widget controller's lifecycle position.
type State string

const (
	// StateAnonymous: no email known yet; the first typed message is
	// cached locally instead of being sent.
	StateAnonymous State = "anonymous"
	// StateAwaitingEmail: the visitor typed a first message and now faces
	// the email prompt.
	StateAwaitingEmail State = "awaiting_email"
	// StateActive: ticket exists; messages flow and polling runs.
	StateActive State = "active"
	// StateClosed: the support team closed the ticket; only "start new
	// ticket" gets out of here.
	StateClosed State = "closed"
)

// Identity is what survives a page reload: the session identifier and, once
// captured, the visitor's email. The cursor and poll state do not persist.
type Identity struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email,omitempty"`
}

// IdentityStore persists Identity to a JSON file, the widget's equivalent of
// browser local storage.
type IdentityStore struct {
	path string
}

// NewIdentityStore uses the given file path for persistence.
func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

// Load reads the stored identity. A missing or unreadable file yields a
// zero Identity, not an error.
func (s *IdentityStore) Load() Identity {
	var id Identity
	data, err := os.ReadFile(s.path)
	if err != nil {
		return id
	}
	json.Unmarshal(data, &id)
	return id
}

// Save writes the identity durably.
func (s *IdentityStore) Save(id Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("identity store: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("identity store: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("identity store: write: %w", err)
	}
	return nil
}

// NewSessionID mints a session identifier in the widget's historical
// format: a timestamp plus a random suffix.
func NewSessionID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("chat_%d_%s", time.Now().UnixMilli(), suffix)
}
