// Package logring captures slog output in a bounded in-memory ring so the
// API can serve recent log lines without a log aggregator.
package logring

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring holds the most recent entries, overwriting the oldest once full.
type Ring struct {
	mu   sync.Mutex
	buf  []Entry
	next int
	full bool
}

// New creates a ring holding up to capacity entries.
func New(capacity int) *Ring {
	return &Ring{buf: make([]Entry, capacity)}
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Query returns entries at or above minLevel recorded after since, oldest
// first, keeping at most limit of the newest matches. A zero since matches
// everything; limit <= 0 means no cap.
func (r *Ring) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := 0
	count := r.next
	if r.full {
		oldest = r.next
		count = len(r.buf)
	}

	var out []Entry
	for i := range count {
		e := r.buf[(oldest+i)%len(r.buf)]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if levelOf(e.Level) < minLevel {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func levelOf(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Handler tees records into a Ring before delegating to an inner handler.
// The ring sees every level; the inner handler keeps its own filter.
type Handler struct {
	inner slog.Handler
	ring  *Ring
	attrs []slog.Attr
	group string
}

// NewHandler wraps inner so every record also lands in ring.
func NewHandler(inner slog.Handler, ring *Ring) *Handler {
	return &Handler{inner: inner, ring: ring}
}

func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	attrs := make(map[string]any, rec.NumAttrs()+len(h.attrs))
	put := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		v := a.Value.Resolve().Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		attrs[key] = v
	}
	for _, a := range h.attrs {
		put(a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		put(a)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.ring.add(Entry{
		Time:    rec.Time,
		Level:   rec.Level.String(),
		Message: rec.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, rec.Level) {
		return h.inner.Handle(ctx, rec)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		inner: h.inner.WithAttrs(attrs),
		ring:  h.ring,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		group: h.group,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &Handler{inner: h.inner.WithGroup(name), ring: h.ring, attrs: h.attrs, group: g}
}
