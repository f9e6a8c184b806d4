package friction

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/transport"
)

// Cross-frame message types.
const (
	MsgCaptureRequest  = "frictionwatch:capture-request"
	MsgCaptureResponse = "frictionwatch:capture-response"
)

// FrameMessage is the cross-frame capture contract. Image is base64 in
// JSON.
type FrameMessage struct {
	Type      string               `json:"type"`
	RequestID string               `json:"requestId"`
	Options   *host.CaptureOptions `json:"options,omitempty"`
	OK        bool                 `json:"ok"`
	Image     []byte               `json:"image,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// CaptureScreenshot renders the page and returns the image bytes.
func (e *Engine) CaptureScreenshot(ctx context.Context, opts host.CaptureOptions) ([]byte, error) {
	if e.env.Capturer == nil {
		return nil, ErrNoCapturer
	}
	if opts.Format == "" {
		opts.Format = "png"
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Capture.Timeout)
	defer cancel()
	img, err := e.env.Capturer.Capture(ctx, opts)
	if err != nil {
		e.logger.Warn("friction: capture failed", "error", err)
		return nil, fmt.Errorf("friction: capture: %w", err)
	}
	return img, nil
}

// TakeScreenshot captures the page after opts.Delay and sends the image to
// the sinks, correlated with eventID. It returns immediately.
func (e *Engine) TakeScreenshot(eventID string, opts host.CaptureOptions) {
	if e.env.Capturer == nil || e.closed {
		return
	}
	if opts.Delay <= 0 {
		e.launchCapture(eventID, opts)
		return
	}
	t := e.env.Clock.AfterFunc(opts.Delay, func() {
		e.do("capture", func(*page) { e.launchCapture(eventID, opts) })
	})
	if e.page != nil {
		e.page.timers = append(e.page.timers, t)
	}
}

// launchCapture snapshots the correlation fields on the engine thread and
// runs the capture in the background.
func (e *Engine) launchCapture(eventID string, opts host.CaptureOptions) {
	if e.closed {
		return
	}
	shot := transport.Screenshot{
		ID:        e.shotID(),
		EventID:   eventID,
		SiteID:    e.cfg.SiteID,
		SessionID: e.ids.SessionID(),
		URL:       e.env.Page.Info().URL,
		Timestamp: envelope.FormatTime(e.env.Clock.Now()),
		Format:    opts.Format,
	}
	if shot.Format == "" {
		shot.Format = "png"
	}
	e.captures.Add(1)
	go func() {
		defer e.captures.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("friction: capture panicked", "panic", fmt.Sprint(r))
			}
		}()
		img, err := e.CaptureScreenshot(context.Background(), opts)
		if err != nil {
			return
		}
		shot.Image = img
		e.em.SendScreenshot(context.Background(), shot)
	}()
}

// HandleFrameMessage processes a message received from another frame. A
// capture request from an allowed origin is answered asynchronously on the
// host MessagePort with a capture response.
func (e *Engine) HandleFrameMessage(ctx context.Context, origin string, data []byte) error {
	if !e.started || e.closed {
		return ErrNotStarted
	}
	var msg FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("friction: frame message: %w", err)
	}
	if msg.Type != MsgCaptureRequest {
		return nil
	}
	if !e.originAllowed(origin) {
		e.logger.Warn("friction: frame message rejected", "origin", origin)
		return fmt.Errorf("%w: %s", ErrOriginDenied, origin)
	}
	if e.env.Frames == nil {
		return fmt.Errorf("friction: frame message: no message port")
	}
	var opts host.CaptureOptions
	if msg.Options != nil {
		opts = *msg.Options
	}

	ctx = context.WithoutCancel(ctx)
	e.captures.Add(1)
	go func() {
		defer e.captures.Done()
		resp := FrameMessage{Type: MsgCaptureResponse, RequestID: msg.RequestID}
		img, err := e.CaptureScreenshot(ctx, opts)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
			resp.Image = img
		}
		out, err := json.Marshal(resp)
		if err != nil {
			e.logger.Warn("friction: encode frame response", "error", err)
			return
		}
		e.env.Frames.PostMessage(origin, out)
	}()
	return nil
}

func (e *Engine) originAllowed(origin string) bool {
	allowed := e.cfg.Capture.AllowedOrigins
	return slices.Contains(allowed, "*") || (origin != "" && slices.Contains(allowed, origin))
}
