package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fortyx-net/livechat/internal/notify"
	"github.com/fortyx-net/livechat/internal/ticket"
	"github.com/fortyx-net/livechat/pkg/protocol"
)

// recordingNotifier captures events delivered through the pipeline.
type recordingNotifier struct {
	mu     sync.Mutex
	name   string
	err    error
	events []notify.Event
}

func (r *recordingNotifier) Name() string { return r.name }
func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestGateway(t *testing.T, opts ...Option) (*Gateway, *recordingNotifier, *recordingNotifier) {
	t.Helper()
	store, err := ticket.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.DB().Close() })

	primary := &recordingNotifier{name: "primary"}
	fallback := &recordingNotifier{name: "fallback"}
	g := New(store, notify.NewPipeline(primary, fallback, nil), nil, opts...)
	return g, primary, fallback
}

func TestCreate_Validation(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	cases := []struct {
		name                      string
		sessionID, email, message string
	}{
		{"empty session", "", "a@b.com", "hi"},
		{"empty email", "s1", "", "hi"},
		{"empty message", "s1", "a@b.com", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Create(ctx, tc.sessionID, tc.email, tc.message)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreate_PersistsAndNotifies(t *testing.T) {
	g, primary, fallback := newTestGateway(t)
	ctx := context.Background()

	if err := g.Create(ctx, "s1", "a@b.com", "hi"); err != nil {
		t.Fatalf("create: %v", err)
	}

	msgs, err := g.FetchFullHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hi" || msgs[0].From != protocol.RoleUser {
		t.Errorf("history = %v", msgs)
	}
	if primary.count() != 1 {
		t.Errorf("primary notified %d times", primary.count())
	}
	if fallback.count() != 0 {
		t.Errorf("fallback notified %d times on primary success", fallback.count())
	}
	if primary.events[0].Kind != notify.EventTicketCreated {
		t.Errorf("event kind = %q", primary.events[0].Kind)
	}
}

func TestCreate_SucceedsWhenNotificationFails(t *testing.T) {
	g, primary, fallback := newTestGateway(t)
	primary.err = errors.New("bot down")
	fallback.err = errors.New("webhook down")

	if err := g.Create(context.Background(), "s1", "a@b.com", "hi"); err != nil {
		t.Fatalf("create should succeed regardless of relay: %v", err)
	}
}

func TestSendMessage_NotFound(t *testing.T) {
	g, _, _ := newTestGateway(t)
	err := g.SendMessage(context.Background(), "s2", "x@y.com", "hi")
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSendMessage_AppendsInOrder(t *testing.T) {
	g, primary, _ := newTestGateway(t)
	ctx := context.Background()

	g.Create(ctx, "s1", "a@b.com", "hi")
	if err := g.SendMessage(ctx, "s1", "a@b.com", "there"); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, _ := g.FetchFullHistory(ctx, "s1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Text != "there" {
		t.Errorf("second message = %q", msgs[1].Text)
	}
	if msgs[1].Timestamp.Before(msgs[0].Timestamp) {
		t.Error("timestamps must be non-decreasing")
	}
	if primary.count() != 2 {
		t.Errorf("primary notified %d times, want 2", primary.count())
	}
}

func TestSendMessage_FallbackPayload(t *testing.T) {
	g, primary, fallback := newTestGateway(t)
	ctx := context.Background()

	g.Create(ctx, "s1", "a@b.com", "hi")
	primary.err = errors.New("bot down")

	if err := g.SendMessage(ctx, "s1", "a@b.com", "there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if fallback.count() != 1 {
		t.Fatalf("fallback notified %d times", fallback.count())
	}
	ev := fallback.events[0]
	if ev.Kind != notify.EventMessage || ev.Email != "a@b.com" || ev.Text != "there" {
		t.Errorf("fallback event = %+v", ev)
	}
}

func TestReceiveAgentReply(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	g.Create(ctx, "s1", "a@b.com", "hi")
	if err := g.ReceiveAgentReply(ctx, "s1", "hello"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	recent, closed, err := g.FetchRecentAgentMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if closed {
		t.Error("ticket should be open")
	}
	if len(recent) != 1 || recent[0].Text != "hello" || recent[0].From != protocol.RoleSupport {
		t.Errorf("recent = %v", recent)
	}
}

func TestReceiveAgentReply_NotFound(t *testing.T) {
	g, _, _ := newTestGateway(t)
	err := g.ReceiveAgentReply(context.Background(), "ghost", "hello")
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecencyWindow_ExcludesOldMessages(t *testing.T) {
	clock := time.Now().UTC()
	now := func() time.Time { return clock }
	g, _, _ := newTestGateway(t, WithClock(func() time.Time { return now() }))
	ctx := context.Background()

	g.Create(ctx, "s1", "a@b.com", "hi")
	g.ReceiveAgentReply(ctx, "s1", "hello")

	recent, _, _ := g.FetchRecentAgentMessages(ctx, "s1")
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent message, got %d", len(recent))
	}

	// Advance past the window: the same reply must disappear even though
	// no client ever saw it.
	clock = clock.Add(DefaultRecencyWindow + time.Second)
	recent, _, _ = g.FetchRecentAgentMessages(ctx, "s1")
	if len(recent) != 0 {
		t.Errorf("expected 0 recent messages after window, got %d", len(recent))
	}
}

func TestRecencyWindow_ExcludesUserMessages(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	g.Create(ctx, "s1", "a@b.com", "hi")
	g.SendMessage(ctx, "s1", "a@b.com", "anyone there?")

	recent, _, _ := g.FetchRecentAgentMessages(ctx, "s1")
	if len(recent) != 0 {
		t.Errorf("user messages must not appear in recent polls, got %v", recent)
	}
}

func TestFetchRecent_UnknownSession(t *testing.T) {
	g, _, _ := newTestGateway(t)
	recent, closed, err := g.FetchRecentAgentMessages(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unknown session must not error: %v", err)
	}
	if len(recent) != 0 || closed {
		t.Errorf("recent = %v, closed = %v", recent, closed)
	}
}

func TestFetchFullHistory_UnknownSession(t *testing.T) {
	g, _, _ := newTestGateway(t)
	msgs, err := g.FetchFullHistory(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unknown session must not error: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("history = %v", msgs)
	}
}

func TestMarkClosed_Idempotent(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	g.Create(ctx, "s1", "a@b.com", "hi")
	if err := g.MarkClosed(ctx, "s1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := g.MarkClosed(ctx, "s1"); err != nil {
		t.Fatalf("second close: %v", err)
	}

	_, closed, _ := g.FetchRecentAgentMessages(ctx, "s1")
	if !closed {
		t.Error("expected closed flag in poll response")
	}
}

func TestMarkClosed_MissingSessionIsNoop(t *testing.T) {
	g, _, _ := newTestGateway(t)
	if err := g.MarkClosed(context.Background(), "ghost"); err != nil {
		t.Fatalf("close of unknown session must be a no-op: %v", err)
	}
}

func TestConcurrentMutations_DifferentSessions(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	g.Create(ctx, "s1", "a@b.com", "hi")
	g.Create(ctx, "s2", "c@d.com", "hey")

	var wg sync.WaitGroup
	for _, id := range []string{"s1", "s2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if err := g.SendMessage(ctx, id, "e@f.com", "ping"); err != nil {
					t.Errorf("send %s: %v", id, err)
				}
			}
		}()
	}
	wg.Wait()

	for _, id := range []string{"s1", "s2"} {
		msgs, _ := g.FetchFullHistory(ctx, id)
		if len(msgs) != 11 {
			t.Errorf("%s: expected 11 messages, got %d (lost update)", id, len(msgs))
		}
	}
}
