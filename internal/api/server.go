package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fortyx-net/livechat/internal/gateway"
	"github.com/fortyx-net/livechat/internal/logring"
	"github.com/fortyx-net/livechat/internal/ticket"
	"github.com/fortyx-net/livechat/pkg/protocol"
)

// RatingSink receives feedback submissions. Ratings are stateless: they are
// forwarded once and never stored.
type RatingSink interface {
	NotifyRating(ctx context.Context, rating int, comment string, at time.Time) error
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
}

// Server exposes the livechat HTTP API.
type Server struct {
	gw      *gateway.Gateway
	ratings RatingSink
	limiter *ratingLimiter
	logger  *slog.Logger
	logs    *logring.Ring
	srv     *http.Server
}

// NewServer creates the API server. ratings and logs may be nil.
func NewServer(gw *gateway.Gateway, cfg Config, ratings RatingSink, logs *logring.Ring, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		gw:      gw,
		ratings: ratings,
		limiter: newRatingLimiter(time.Minute),
		logger:  logger,
		logs:    logs,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/livechat/create", s.handleCreate)
	mux.HandleFunc("POST /api/livechat/send", s.handleSend)
	mux.HandleFunc("GET /api/livechat/messages", s.handleMessages)
	mux.HandleFunc("GET /api/livechat/history", s.handleHistory)
	mux.HandleFunc("POST /api/livechat/agent-reply", s.handleAgentReply)
	mux.HandleFunc("POST /api/livechat/ticket-closed", s.handleTicketClosed)
	mux.HandleFunc("POST /api/submit-rating", s.handleSubmitRating)
	mux.HandleFunc("GET /api/tickets", s.handleListTickets)
	mux.HandleFunc("GET /api/tickets/{sessionId}", s.handleShowTicket)
	mux.HandleFunc("GET /api/logs", s.handleGetLogs)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	err := s.gw.Create(r.Context(), req.SessionID, req.Email, req.InitialMessage)
	if err != nil {
		s.writeOperationError(w, "create ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Success: true, Message: "Chat ticket created successfully"})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req protocol.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	err := s.gw.SendMessage(r.Context(), req.SessionID, req.Email, req.Message)
	if err != nil {
		s.writeOperationError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Success: true, Message: "Message sent successfully"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeFailure(w, http.StatusBadRequest, "Session ID required")
		return
	}

	msgs, closed, err := s.gw.FetchRecentAgentMessages(r.Context(), sessionID)
	if err != nil {
		s.writeOperationError(w, "fetch messages", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.MessagesResponse{Success: true, Messages: msgs, Closed: closed})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeFailure(w, http.StatusBadRequest, "Session ID required")
		return
	}

	msgs, err := s.gw.FetchFullHistory(r.Context(), sessionID)
	if err != nil {
		s.writeOperationError(w, "fetch history", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.HistoryResponse{Success: true, Messages: msgs})
}

func (s *Server) handleAgentReply(w http.ResponseWriter, r *http.Request) {
	var req protocol.AgentReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	err := s.gw.ReceiveAgentReply(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeOperationError(w, "agent reply", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Success: true, Message: "Reply recorded"})
}

func (s *Server) handleTicketClosed(w http.ResponseWriter, r *http.Request) {
	var req protocol.CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	err := s.gw.MarkClosed(r.Context(), req.SessionID)
	if err != nil {
		s.writeOperationError(w, "close ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Success: true, Message: "Ticket closure recorded"})
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientIP(r)) {
		writeFailure(w, http.StatusTooManyRequests,
			"Too many requests. Please wait a minute before submitting another rating.")
		return
	}

	var req protocol.RatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeFailure(w, http.StatusBadRequest, "Invalid rating. Please select 1-5 stars.")
		return
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		writeFailure(w, http.StatusBadRequest, "Please provide a comment with your rating.")
		return
	}
	if utf8.RuneCountInString(comment) > 500 {
		writeFailure(w, http.StatusBadRequest, "Comment is too long. Maximum 500 characters.")
		return
	}

	if s.ratings != nil {
		if err := s.ratings.NotifyRating(r.Context(), req.Rating, comment, time.Now().UTC()); err != nil {
			s.logger.Error("rating relay failed", "error", err)
			writeFailure(w, http.StatusInternalServerError, "Failed to submit rating. Please try again later.")
			return
		}
	} else {
		s.logger.Info("rating submitted (no webhook configured)", "rating", req.Rating)
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Success: true, Message: "Thank you for your rating!"})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.gw.ListTickets(r.Context())
	if err != nil {
		s.writeOperationError(w, "list tickets", err)
		return
	}
	open := r.URL.Query().Get("open") == "true"
	out := make([]map[string]any, 0, len(tickets))
	for _, t := range tickets {
		if open && t.Closed {
			continue
		}
		out = append(out, map[string]any{
			"sessionId": t.SessionID,
			"email":     t.Email,
			"createdAt": t.CreatedAt,
			"closed":    t.Closed,
			"messages":  len(t.Messages),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShowTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.gw.Ticket(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.writeOperationError(w, "show ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logring.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		minLevel.UnmarshalText([]byte(strings.ToUpper(lvl)))
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, limit)
	if entries == nil {
		entries = []logring.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// writeOperationError maps gateway errors onto HTTP statuses.
func (s *Server) writeOperationError(w http.ResponseWriter, op string, err error) {
	var verr *gateway.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFailure(w, http.StatusBadRequest, "Missing required fields")
	case errors.Is(err, ticket.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "Chat session not found")
	default:
		s.logger.Error("operation failed", "op", op, "error", err)
		writeFailure(w, http.StatusInternalServerError, "An error occurred")
	}
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.StatusResponse{Success: false, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
