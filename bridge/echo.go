package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/transport"
)

// echo is a collector for local runs: it validates what the beacon sends,
// logs it, and counts it. Nothing is stored.
type echo struct {
	logger *slog.Logger

	mu          sync.Mutex
	events      map[envelope.Type]int
	invalid     int
	screenshots int
}

// EchoStats are the echo collector counters.
type EchoStats struct {
	Events      map[envelope.Type]int `json:"events"`
	Invalid     int                   `json:"invalid"`
	Screenshots int                   `json:"screenshots"`
}

func newEcho(logger *slog.Logger) *echo {
	return &echo{logger: logger, events: make(map[envelope.Type]int)}
}

func (e *echo) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	d, err := envelope.Unmarshal(body)
	if err == nil {
		err = d.Validate()
	}
	if err != nil {
		e.mu.Lock()
		e.invalid++
		e.mu.Unlock()
		e.logger.Warn("bridge: echo rejected envelope", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e.mu.Lock()
	e.events[d.EventType]++
	e.mu.Unlock()
	e.logger.Info("bridge: event",
		"event_type", d.EventType,
		"event_id", d.EventID,
		"session_id", d.SessionID,
		"path", d.Path,
		"index", d.InteractionIndex,
		"data", string(d.RawData))
	w.WriteHeader(http.StatusAccepted)
}

func (e *echo) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	var shot transport.Screenshot
	if err := json.Unmarshal(body, &shot); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode screenshot: %w", err))
		return
	}
	if shot.EventID == "" || len(shot.Image) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: eventId or image", envelope.ErrMissingField))
		return
	}
	e.mu.Lock()
	e.screenshots++
	e.mu.Unlock()
	e.logger.Info("bridge: screenshot", "event_id", shot.EventID, "format", shot.Format, "bytes", len(shot.Image))
	w.WriteHeader(http.StatusAccepted)
}

func (e *echo) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, e.snapshot())
}

func (e *echo) snapshot() EchoStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	events := make(map[envelope.Type]int, len(e.events))
	for k, v := range e.events {
		events[k] = v
	}
	return EchoStats{Events: events, Invalid: e.invalid, Screenshots: e.screenshots}
}

// readBody reads the request body, inflating gzip-encoded bodies.
func readBody(r *http.Request) ([]byte, error) {
	var src io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
