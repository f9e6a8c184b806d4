package transport

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/frictionwatch/envelope"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

type line struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

func (s *Stdout) Send(_ context.Context, e *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(line{Kind: "event", Data: e})
}

// SendScreenshot writes the screenshot metadata; the image bytes are
// omitted to keep lines readable.
func (s *Stdout) SendScreenshot(_ context.Context, shot Screenshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := shot
	meta.Image = nil
	return s.enc.Encode(line{Kind: "screenshot", Data: meta})
}

func (s *Stdout) Close() error { return nil }

// EventFunc is called for each envelope.
type EventFunc func(ctx context.Context, e *envelope.Envelope) error

// ScreenshotFunc is called for each screenshot.
type ScreenshotFunc func(ctx context.Context, s Screenshot) error

// Callback delivers envelopes through Go function calls, for embedding the
// engine in-process. Either handler may be nil.
type Callback struct {
	onEvent      EventFunc
	onScreenshot ScreenshotFunc
}

// NewCallback creates a Callback sink.
func NewCallback(onEvent EventFunc, onScreenshot ScreenshotFunc) *Callback {
	return &Callback{onEvent: onEvent, onScreenshot: onScreenshot}
}

func (c *Callback) Send(ctx context.Context, e *envelope.Envelope) error {
	if c.onEvent != nil {
		return c.onEvent(ctx, e)
	}
	return nil
}

func (c *Callback) SendScreenshot(ctx context.Context, s Screenshot) error {
	if c.onScreenshot != nil {
		return c.onScreenshot(ctx, s)
	}
	return nil
}

func (c *Callback) Close() error { return nil }

// Recorder keeps every envelope and screenshot in memory. The bridge uses
// it for per-page history; tests use it to assert on emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []*envelope.Envelope
	shots  []Screenshot
	closed bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, e *envelope.Envelope) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) SendScreenshot(_ context.Context, s Screenshot) error {
	r.mu.Lock()
	r.shots = append(r.shots, s)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded envelopes.
func (r *Recorder) Events() []*envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*envelope.Envelope(nil), r.events...)
}

// OfType returns recorded envelopes of type t.
func (r *Recorder) OfType(t envelope.Type) []*envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*envelope.Envelope
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []envelope.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]envelope.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

// Screenshots returns a copy of the recorded screenshots.
func (r *Recorder) Screenshots() []Screenshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Screenshot(nil), r.shots...)
}

// Reset drops recorded data.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events, r.shots = nil, nil
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
