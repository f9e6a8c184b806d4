// Package transport delivers event envelopes to the ingestion collaborator.
//
// The Emitter builds envelopes and hands them to a Sink without waiting for
// delivery. Sinks: Beacon (HTTP, the production path), Stdout (JSON lines),
// Callback (in-process), Recorder (tests), and Router (fan-out).
package transport

import (
	"context"

	"github.com/hazyhaar/frictionwatch/envelope"
)

// Sink is the output interface. Send must not block the caller for longer
// than an enqueue; implementations that talk to the network do so in the
// background.
type Sink interface {
	Send(ctx context.Context, e *envelope.Envelope) error
	SendScreenshot(ctx context.Context, s Screenshot) error
	Close() error
}

// Screenshot is a captured image correlated with an event.
type Screenshot struct {
	ID        string `json:"id"`
	EventID   string `json:"eventId"`
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Format    string `json:"format"`
	Image     []byte `json:"image"`
}
