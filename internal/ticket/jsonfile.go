package ticket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fortyx-net/livechat/pkg/protocol"
)

// JSONFileStore keeps every ticket in a single JSON document keyed by
// session ID, the format the service historically used. Each mutation is a
// load-modify-save of the whole document; a single writer mutex serializes
// them, so concurrent appends to different sessions cannot overwrite each
// other. Reads of a corrupt document yield an empty mapping rather than an
// error, preserving the original recover-by-starting-over behavior.
type JSONFileStore struct {
	mu     sync.Mutex // held across every load-modify-save cycle
	path   string
	logger *slog.Logger
}

// NewJSONFileStore creates the backing document (and its directory) if it
// does not exist yet.
func NewJSONFileStore(path string, logger *slog.Logger) (*JSONFileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile store: mkdir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			return nil, fmt.Errorf("jsonfile store: init: %w", err)
		}
	}
	return &JSONFileStore{path: path, logger: logger}, nil
}

// load reads the full mapping. Parse failures are logged and swallowed.
func (s *JSONFileStore) load() map[string]*protocol.Ticket {
	chats := make(map[string]*protocol.Ticket)
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Error("jsonfile store: read failed", "path", s.path, "error", err)
		return chats
	}
	if err := json.Unmarshal(data, &chats); err != nil {
		s.logger.Error("jsonfile store: corrupt document, starting empty", "path", s.path, "error", err)
		return make(map[string]*protocol.Ticket)
	}
	return chats
}

func (s *JSONFileStore) save(chats map[string]*protocol.Ticket) error {
	data, err := json.MarshalIndent(chats, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile store: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("jsonfile store: write: %w", err)
	}
	return nil
}

func (s *JSONFileStore) Put(t *protocol.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.load()
	clone := *t
	clone.Messages = append([]protocol.Message(nil), t.Messages...)
	chats[t.SessionID] = &clone
	return s.save(chats)
}

func (s *JSONFileStore) Get(sessionID string) (*protocol.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.load()[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *JSONFileStore) AppendMessage(sessionID string, msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.load()
	t, ok := chats[sessionID]
	if !ok {
		return ErrNotFound
	}
	t.Messages = append(t.Messages, msg)
	return s.save(chats)
}

func (s *JSONFileStore) SetClosed(sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.load()
	t, ok := chats[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !t.Closed {
		t.Closed = true
		closedAt := at
		t.ClosedAt = &closedAt
	}
	return s.save(chats)
}

func (s *JSONFileStore) List() ([]*protocol.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.load()
	tickets := make([]*protocol.Ticket, 0, len(chats))
	for _, t := range chats {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
	return tickets, nil
}
