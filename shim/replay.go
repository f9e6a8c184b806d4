package shim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hazyhaar/frictionwatch/host"
)

// Recording is a captured page view: the initial page and the records the
// script sent for it.
type Recording struct {
	Page    PageInit `json:"page"`
	Records []Record `json:"records"`
}

// ReadRecording decodes a recording from r.
func ReadRecording(r io.Reader) (*Recording, error) {
	var rec Recording
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, fmt.Errorf("shim: read recording: %w", err)
	}
	return &rec, nil
}

// Replay runs a recording through a fresh session on a fake clock that
// follows the record timestamps. Timers still pending after the last
// record fire after settle, then the page view is closed as an unload.
func Replay(rec *Recording, cfg Config, settle time.Duration) (Result, error) {
	start := time.Now()
	for _, r := range rec.Records {
		if r.T > 0 {
			start = r.Time()
			break
		}
	}
	clock := host.NewFakeClock(start)
	cfg.Clock = clock

	s, err := NewSession(rec.Page, cfg)
	if err != nil {
		return Result{}, err
	}
	res, err := s.Apply(rec.Records)
	if err != nil && !errors.Is(err, ErrClosed) {
		s.Close()
		return res, err
	}
	if settle > 0 && !s.Closed() {
		s.mu.Lock()
		clock.Advance(settle)
		s.mu.Unlock()
	}
	s.Close()
	return res, nil
}
