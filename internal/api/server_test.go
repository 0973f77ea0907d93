package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortyx-net/livechat/internal/gateway"
	"github.com/fortyx-net/livechat/internal/ticket"
	"github.com/fortyx-net/livechat/pkg/protocol"
)

type recordedRating struct {
	rating  int
	comment string
}

// fakeRatingSink records forwarded ratings.
type fakeRatingSink struct {
	ratings []recordedRating
	err     error
}

func (f *fakeRatingSink) NotifyRating(_ context.Context, rating int, comment string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.ratings = append(f.ratings, recordedRating{rating, comment})
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeRatingSink) {
	t.Helper()
	store, err := ticket.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.DB().Close() })

	gw := gateway.New(store, nil, nil)
	sink := &fakeRatingSink{}
	return NewServer(gw, Config{Host: "127.0.0.1", Port: 0}, sink, nil, nil), sink
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestCreateAndHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, "POST", "/api/livechat/create",
		`{"sessionId":"s1","email":"a@b.com","initialMessage":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, "GET", "/api/livechat/history?sessionId=s1", "")
	var resp protocol.HistoryResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || len(resp.Messages) != 1 {
		t.Fatalf("history = %+v", resp)
	}
	if resp.Messages[0].Text != "hi" || resp.Messages[0].From != protocol.RoleUser {
		t.Errorf("message = %+v", resp.Messages[0])
	}
}

func TestCreate_MissingFields(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, "POST", "/api/livechat/create", `{"sessionId":"s1","email":"a@b.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var resp protocol.StatusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Success {
		t.Error("expected success=false")
	}
}

func TestSend_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, "POST", "/api/livechat/send",
		`{"sessionId":"s2","email":"x@y.com","message":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSendAppendsSecondMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, "POST", "/api/livechat/create", `{"sessionId":"s1","email":"a@b.com","initialMessage":"hi"}`)

	w := do(t, srv, "POST", "/api/livechat/send",
		`{"sessionId":"s1","email":"a@b.com","message":"there"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d", w.Code)
	}

	w = do(t, srv, "GET", "/api/livechat/history?sessionId=s1", "")
	var resp protocol.HistoryResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Messages) != 2 || resp.Messages[1].Text != "there" {
		t.Errorf("history = %+v", resp.Messages)
	}
}

func TestAgentReplyShowsInPoll(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, "POST", "/api/livechat/create", `{"sessionId":"s1","email":"a@b.com","initialMessage":"hi"}`)

	w := do(t, srv, "POST", "/api/livechat/agent-reply", `{"sessionId":"s1","message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reply status = %d", w.Code)
	}

	w = do(t, srv, "GET", "/api/livechat/messages?sessionId=s1", "")
	var resp protocol.MessagesResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || resp.Closed {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Text != "hello" {
		t.Errorf("messages = %+v", resp.Messages)
	}
}

func TestTicketClosedReflectedInPoll(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, "POST", "/api/livechat/create", `{"sessionId":"s1","email":"a@b.com","initialMessage":"hi"}`)

	w := do(t, srv, "POST", "/api/livechat/ticket-closed", `{"sessionId":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d", w.Code)
	}

	w = do(t, srv, "GET", "/api/livechat/messages?sessionId=s1", "")
	var resp protocol.MessagesResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Closed {
		t.Error("expected closed=true")
	}
}

func TestMessages_UnknownSessionIsEmptySuccess(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, "GET", "/api/livechat/messages?sessionId=ghost", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp protocol.MessagesResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Success || len(resp.Messages) != 0 || resp.Closed {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMessages_MissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, "GET", "/api/livechat/messages", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitRating(t *testing.T) {
	srv, sink := newTestServer(t)
	w := do(t, srv, "POST", "/api/submit-rating", `{"rating":5,"comment":"great"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(sink.ratings) != 1 || sink.ratings[0].rating != 5 {
		t.Errorf("ratings = %+v", sink.ratings)
	}
}

func TestSubmitRating_Validation(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := []string{
		`{"rating":0,"comment":"x"}`,
		`{"rating":6,"comment":"x"}`,
		`{"rating":3,"comment":"  "}`,
		`{"rating":3,"comment":"` + strings.Repeat("a", 501) + `"}`,
	}
	for _, body := range cases {
		if w := do(t, srv, "POST", "/api/submit-rating", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body[:20], w.Code)
		}
	}
}

func TestSubmitRating_MultibyteCommentCountsRunes(t *testing.T) {
	srv, sink := newTestServer(t)
	// 500 two-byte characters: over the limit in bytes, at it in characters.
	comment := strings.Repeat("é", 500)
	w := do(t, srv, "POST", "/api/submit-rating", `{"rating":4,"comment":"`+comment+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(sink.ratings) != 1 || sink.ratings[0].comment != comment {
		t.Errorf("ratings = %+v", sink.ratings)
	}

	srv2, _ := newTestServer(t)
	over := strings.Repeat("é", 501)
	if w := do(t, srv2, "POST", "/api/submit-rating", `{"rating":4,"comment":"`+over+`"}`); w.Code != http.StatusBadRequest {
		t.Errorf("501-character comment: status = %d, want 400", w.Code)
	}
}

func TestSubmitRating_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := do(t, srv, "POST", "/api/submit-rating", `{"rating":4,"comment":"ok"}`); w.Code != http.StatusOK {
		t.Fatalf("first submit: %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/submit-rating", `{"rating":4,"comment":"ok"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("second submit: %d, want 429", w.Code)
	}
}

func TestListTickets(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, "POST", "/api/livechat/create", `{"sessionId":"s1","email":"a@b.com","initialMessage":"hi"}`)
	do(t, srv, "POST", "/api/livechat/create", `{"sessionId":"s2","email":"c@d.com","initialMessage":"yo"}`)
	do(t, srv, "POST", "/api/livechat/ticket-closed", `{"sessionId":"s1"}`)

	w := do(t, srv, "GET", "/api/tickets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var all []map[string]any
	json.NewDecoder(w.Body).Decode(&all)
	if len(all) != 2 {
		t.Fatalf("tickets = %+v", all)
	}

	w = do(t, srv, "GET", "/api/tickets?open=true", "")
	var open []map[string]any
	json.NewDecoder(w.Body).Decode(&open)
	if len(open) != 1 || open[0]["sessionId"] != "s2" {
		t.Errorf("open tickets = %+v", open)
	}
}

func TestShowTicket(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, "POST", "/api/livechat/create", `{"sessionId":"s1","email":"a@b.com","initialMessage":"hi"}`)

	w := do(t, srv, "GET", "/api/tickets/s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got protocol.Ticket
	json.NewDecoder(w.Body).Decode(&got)
	if got.SessionID != "s1" || got.Email != "a@b.com" || len(got.Messages) != 1 {
		t.Errorf("ticket = %+v", got)
	}

	if w := do(t, srv, "GET", "/api/tickets/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown ticket status = %d, want 404", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, "OPTIONS", "/api/livechat/create", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
