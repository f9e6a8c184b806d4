package transport

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/frictionwatch/envelope"
)

// Router fans out to all configured sinks. A failing sink does not stop the
// others; errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, e *envelope.Envelope) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("transport: send event failed", "event_type", e.EventType, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendScreenshot(ctx context.Context, s Screenshot) error {
	var firstErr error
	for _, sk := range r.sinks {
		if err := sk.SendScreenshot(ctx, s); err != nil {
			r.logger.Warn("transport: send screenshot failed", "event_id", s.EventID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shared wraps a sink used by several emitters. Close on the wrapper is a
// no-op; the owner closes the underlying sink once.
func Shared(s Sink) Sink { return shared{s} }

type shared struct{ Sink }

func (shared) Close() error { return nil }
