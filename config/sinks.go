package config

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/frictionwatch/transport"
)

// BuildSink creates the configured sinks behind a Router. Stdout sinks
// write to w.
func (c *Config) BuildSink(w io.Writer, logger *slog.Logger) transport.Sink {
	if logger == nil {
		logger = slog.Default()
	}
	sinks := make([]transport.Sink, 0, len(c.Sinks))
	for _, s := range c.Sinks {
		switch s.Type {
		case SinkBeacon:
			sinks = append(sinks, transport.NewBeacon(s.URL,
				transport.WithBeaconLogger(logger),
				transport.WithBeaconClient(&http.Client{Timeout: c.Collector.Timeout}),
				transport.WithQueueSize(c.Collector.QueueSize),
				transport.WithPayloadLimit(c.Collector.PayloadLimit),
				transport.WithMaxInFlight(c.Collector.MaxInFlight),
				transport.WithGzip(c.Collector.Gzip),
				transport.WithScreenshotURL(c.Collector.ScreenshotURL),
				transport.WithDrainTimeout(c.Collector.DrainTimeout),
			))
		case SinkStdout:
			sinks = append(sinks, transport.NewStdout(w))
		}
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return transport.NewRouter(logger, sinks...)
}
