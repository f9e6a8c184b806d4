package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hazyhaar/frictionwatch/envelope"
)

// BeaconLimit is the largest payload the queued path accepts, matching the
// browser beacon quota.
const BeaconLimit = 64 << 10

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: beacon closed")

// Beacon POSTs envelopes to the collector. Send marshals and enqueues onto a
// bounded queue drained by one worker. Oversized payloads and payloads
// refused by a full queue go through a one-off background POST on a
// keep-alive client, gzip-compressed when enabled. At most MaxInFlight such
// POSTs run at once; beyond that payloads are dropped. Nothing is retried
// and delivery failures are logged at debug level only.
type Beacon struct {
	url           string
	screenshotURL string
	client        *http.Client
	logger        *slog.Logger
	limit         int
	gzip          bool
	drainTimeout  time.Duration

	queue    chan []byte
	inflight chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	stats beaconStats
}

type beaconStats struct {
	mu        sync.Mutex
	queued    int
	fallbacks int
	delivered int
	failed    int
	dropped   int
}

// BeaconStats reports delivery counters.
type BeaconStats struct {
	Queued    int `json:"queued"`
	Fallbacks int `json:"fallbacks"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

// BeaconOption configures a Beacon.
type BeaconOption func(*Beacon)

// WithBeaconLogger sets the logger.
func WithBeaconLogger(l *slog.Logger) BeaconOption {
	return func(b *Beacon) { b.logger = l }
}

// WithBeaconClient replaces the HTTP client.
func WithBeaconClient(c *http.Client) BeaconOption {
	return func(b *Beacon) { b.client = c }
}

// WithQueueSize sets the queue capacity. Default: 256.
func WithQueueSize(n int) BeaconOption {
	return func(b *Beacon) {
		if n > 0 {
			b.queue = make(chan []byte, n)
		}
	}
}

// WithMaxInFlight caps concurrent fallback POSTs. Default: 8.
func WithMaxInFlight(n int) BeaconOption {
	return func(b *Beacon) {
		if n > 0 {
			b.inflight = make(chan struct{}, n)
		}
	}
}

// WithPayloadLimit overrides BeaconLimit.
func WithPayloadLimit(n int) BeaconOption {
	return func(b *Beacon) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithGzip compresses fallback requests.
func WithGzip(on bool) BeaconOption {
	return func(b *Beacon) { b.gzip = on }
}

// WithScreenshotURL sets the upload endpoint for screenshots. Without it
// screenshots are dropped.
func WithScreenshotURL(u string) BeaconOption {
	return func(b *Beacon) { b.screenshotURL = u }
}

// WithDrainTimeout bounds how long Close waits for in-flight deliveries.
// Default: 2s.
func WithDrainTimeout(d time.Duration) BeaconOption {
	return func(b *Beacon) { b.drainTimeout = d }
}

// NewBeacon creates a Beacon targeting url and starts its worker.
func NewBeacon(url string, opts ...BeaconOption) *Beacon {
	b := &Beacon{
		url:          url,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       slog.Default(),
		limit:        BeaconLimit,
		drainTimeout: 2 * time.Second,
		queue:        make(chan []byte, 256),
		inflight:     make(chan struct{}, 8),
	}
	for _, o := range opts {
		o(b)
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *Beacon) Send(_ context.Context, e *envelope.Envelope) error {
	body, err := envelope.Marshal(e)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if len(body) > b.limit {
		b.fallback(b.url, body)
		return nil
	}
	select {
	case b.queue <- body:
		b.count(func(s *beaconStats) { s.queued++ })
	default:
		b.fallback(b.url, body)
	}
	return nil
}

// SendScreenshot uploads through the fallback path; images exceed the
// beacon quota.
func (b *Beacon) SendScreenshot(_ context.Context, s Screenshot) error {
	if b.screenshotURL == "" {
		b.logger.Debug("transport: screenshot dropped, no upload url", "event_id", s.EventID)
		return nil
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("transport: marshal screenshot: %w", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	b.fallback(b.screenshotURL, body)
	return nil
}

// Close stops accepting events and waits up to the drain timeout for queued
// and in-flight deliveries.
func (b *Beacon) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.drainTimeout):
		b.logger.Debug("transport: drain timeout, pending deliveries abandoned")
	}
	return nil
}

// Stats returns delivery counters.
func (b *Beacon) Stats() BeaconStats {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()
	return BeaconStats{
		Queued:    b.stats.queued,
		Fallbacks: b.stats.fallbacks,
		Delivered: b.stats.delivered,
		Failed:    b.stats.failed,
		Dropped:   b.stats.dropped,
	}
}

func (b *Beacon) count(f func(*beaconStats)) {
	b.stats.mu.Lock()
	f(&b.stats)
	b.stats.mu.Unlock()
}

func (b *Beacon) worker() {
	defer b.wg.Done()
	for body := range b.queue {
		b.post(b.url, body, false)
	}
}

// fallback must be called with b.mu read-held so that Close cannot start
// waiting before the goroutine is registered. When MaxInFlight POSTs are
// already running the payload is dropped.
func (b *Beacon) fallback(url string, body []byte) {
	select {
	case b.inflight <- struct{}{}:
	default:
		b.count(func(s *beaconStats) { s.dropped++ })
		b.logger.Debug("transport: fallback limit reached, payload dropped", "url", url, "bytes", len(body))
		return
	}
	b.count(func(s *beaconStats) { s.fallbacks++ })
	b.wg.Add(1)
	go func() {
		defer func() {
			<-b.inflight
			b.wg.Done()
		}()
		b.post(url, body, b.gzip)
	}()
}

func (b *Beacon) post(url string, body []byte, compress bool) {
	timeout := b.client.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	encoding := ""
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err == nil && zw.Close() == nil {
			body = buf.Bytes()
			encoding = "gzip"
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		b.fail(url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.fail(url, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.fail(url, fmt.Errorf("status %d", resp.StatusCode))
		return
	}
	b.count(func(s *beaconStats) { s.delivered++ })
}

func (b *Beacon) fail(url string, err error) {
	b.count(func(s *beaconStats) { s.failed++ })
	b.logger.Debug("transport: delivery failed", "url", url, "error", err)
}
