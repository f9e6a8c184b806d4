package browserhost

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/frictionwatch/host"
)

// Capturer takes screenshots of a Rod page.
type Capturer struct {
	page *rod.Page
}

var _ host.Capturer = (*Capturer)(nil)

// NewCapturer returns a capturer for page.
func NewCapturer(page *rod.Page) *Capturer { return &Capturer{page: page} }

// Capture implements host.Capturer.
func (c *Capturer) Capture(ctx context.Context, opts host.CaptureOptions) ([]byte, error) {
	img, err := c.page.Context(ctx).Screenshot(opts.FullPage, screenshotRequest(opts))
	if err != nil {
		return nil, fmt.Errorf("browserhost: screenshot: %w", err)
	}
	return img, nil
}

func screenshotRequest(opts host.CaptureOptions) *proto.PageCaptureScreenshot {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if opts.Format == "jpeg" {
		req.Format = proto.PageCaptureScreenshotFormatJpeg
		if opts.Quality > 0 && opts.Quality <= 100 {
			q := opts.Quality
			req.Quality = &q
		}
	}
	return req
}
