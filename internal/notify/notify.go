package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/fortyx-net/livechat/pkg/protocol"
)

// EventKind distinguishes the two things agents get told about.
type EventKind string

const (
	EventTicketCreated EventKind = "ticket-created"
	EventMessage       EventKind = "message"
)

// Event is the payload handed to notification channels.
type Event struct {
	Kind      EventKind
	SessionID string
	Email     string
	Text      string
	From      protocol.Role
	Timestamp time.Time
	// Preview is readable context for a URL in Text, attached by the
	// pipeline when link previews are enabled.
	Preview *LinkPreview
}

// Notifier delivers an event to one external channel. Implementations report
// failure via error; the pipeline decides what happens next.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Outcome is the result of a pipeline delivery attempt. It is logged for
// observability but never returned to the operation that triggered it.
type Outcome string

const (
	Delivered         Outcome = "delivered"
	FallbackDelivered Outcome = "fallback_delivered"
	Failed            Outcome = "failed"
)

// Pipeline tries the primary channel first and falls back to the secondary
// only when the primary did not confirm success. Either notifier may be nil.
type Pipeline struct {
	primary   Notifier
	fallback  Notifier
	previewer *LinkPreviewer
	logger    *slog.Logger
}

// NewPipeline builds a delivery pipeline.
func NewPipeline(primary, fallback Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{primary: primary, fallback: fallback, logger: logger}
}

// WithLinkPreviews enriches events whose text mentions a URL with a readable
// preview before delivery.
func (p *Pipeline) WithLinkPreviews(lp *LinkPreviewer) *Pipeline {
	p.previewer = lp
	return p
}

// Deliver attempts the event on the primary channel, then the fallback.
func (p *Pipeline) Deliver(ctx context.Context, ev Event) Outcome {
	if p.previewer != nil && ev.Preview == nil {
		ev.Preview = p.previewer.Preview(ctx, ev.Text)
	}

	if p.primary != nil {
		err := p.primary.Notify(ctx, ev)
		if err == nil {
			p.logger.Debug("notification delivered",
				"channel", p.primary.Name(), "kind", ev.Kind, "session", ev.SessionID)
			return Delivered
		}
		p.logger.Warn("primary notification failed",
			"channel", p.primary.Name(), "kind", ev.Kind, "session", ev.SessionID, "error", err)
	}

	if p.fallback != nil {
		err := p.fallback.Notify(ctx, ev)
		if err == nil {
			p.logger.Info("notification delivered via fallback",
				"channel", p.fallback.Name(), "kind", ev.Kind, "session", ev.SessionID)
			return FallbackDelivered
		}
		p.logger.Error("fallback notification failed",
			"channel", p.fallback.Name(), "kind", ev.Kind, "session", ev.SessionID, "error", err)
	}

	return Failed
}
