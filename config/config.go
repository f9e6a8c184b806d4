// Package config handles frictionwatch configuration from YAML files, with
// environment fallbacks for the collector URL and the bridge address.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/frictionwatch/friction"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/transport"
)

// Environment variables consulted when the file leaves a value empty.
const (
	EnvCollectorURL = "FRICTIONWATCH_COLLECTOR_URL"
	EnvBridgeAddr   = "FRICTIONWATCH_BRIDGE_ADDR"
	EnvSiteID       = "FRICTIONWATCH_SITE_ID"
)

// Config is the top-level frictionwatch configuration.
type Config struct {
	SiteID     string           `yaml:"site_id"`
	LogLevel   string           `yaml:"log_level"` // debug | info | warn | error
	Collector  CollectorConfig  `yaml:"collector"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Capture    CaptureConfig    `yaml:"capture"`
	Browser    BrowserConfig    `yaml:"browser"`
	Pages      []PageConfig     `yaml:"pages"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Storage    StorageConfig    `yaml:"storage"`
}

// CollectorConfig describes the ingestion endpoint used by beacon sinks.
type CollectorConfig struct {
	URL           string        `yaml:"url"`
	ScreenshotURL string        `yaml:"screenshot_url"`
	Gzip          bool          `yaml:"gzip"`
	QueueSize     int           `yaml:"queue_size"`
	PayloadLimit  int           `yaml:"payload_limit"`
	MaxInFlight   int           `yaml:"max_in_flight"` // concurrent fallback POSTs
	Timeout       time.Duration `yaml:"timeout"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // beacon | stdout
	URL  string `yaml:"url"`  // beacon; defaults to collector.url
}

// ThresholdsConfig tunes the analyzers. Zero values keep engine defaults.
type ThresholdsConfig struct {
	RageWindow       time.Duration `yaml:"rage_window"`
	RageRadius       float64       `yaml:"rage_radius"`
	RageMinClicks    int           `yaml:"rage_min_clicks"`
	MoveThrottle     time.Duration `yaml:"move_throttle"`
	MoveWindow       time.Duration `yaml:"move_window"`
	MoveRecent       time.Duration `yaml:"move_recent"`
	MoveMinSamples   int           `yaml:"move_min_samples"`
	MoveMinDistance  float64       `yaml:"move_min_distance"`
	MoveMinReversals int           `yaml:"move_min_reversals"`
	ScrollDebounce   time.Duration `yaml:"scroll_debounce"`
	Milestones       []int         `yaml:"milestones"`
	EscapeGrace      time.Duration `yaml:"escape_grace"`
	SessionIdle      time.Duration `yaml:"session_idle"`
}

// CaptureConfig controls screenshots.
type CaptureConfig struct {
	OnFriction     bool          `yaml:"on_friction"`
	Format         string        `yaml:"format"` // png | jpeg
	Quality        int           `yaml:"quality"`
	FullPage       bool          `yaml:"full_page"`
	Delay          time.Duration `yaml:"delay"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// BrowserConfig controls Chrome for the observe mode.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Headless         *bool    `yaml:"headless"`
	Stealth          bool     `yaml:"stealth"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	ViewportWidth    int      `yaml:"viewport_width"`
	ViewportHeight   int      `yaml:"viewport_height"`
}

// PageConfig is a page to open in observe mode.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// BridgeConfig controls the HTTP bridge.
type BridgeConfig struct {
	Addr        string        `yaml:"addr"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // page views without records are closed after this
	MaxPages    int           `yaml:"max_pages"`
	MaxBody     int64         `yaml:"max_body"`
	// AllowedOrigins lists page origins allowed to call the bridge from a
	// browser. Empty or "*" accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Echo mounts a validating collector on /v1/collect.
	Echo bool `yaml:"echo"`
}

// StorageConfig locates durable visitor storage.
type StorageConfig struct {
	Path string `yaml:"path"` // empty keeps visitors in memory
}

// Sink types.
const (
	SinkBeacon = "beacon"
	SinkStdout = "stdout"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// LoadFile reads a YAML configuration file, applies environment fallbacks
// and defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, os.Getenv)
}

// Parse decodes YAML data. getenv supplies environment fallbacks; nil
// disables them.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if getenv != nil {
		cfg.applyEnv(getenv)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with defaults and environment fallbacks
// applied, for runs without a file.
func Default(getenv func(string) string) *Config {
	var cfg Config
	if getenv != nil {
		cfg.applyEnv(getenv)
	}
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv(getenv func(string) string) {
	if c.SiteID == "" {
		c.SiteID = getenv(EnvSiteID)
	}
	if c.Collector.URL == "" {
		c.Collector.URL = getenv(EnvCollectorURL)
	}
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = getenv(EnvBridgeAddr)
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Collector.URL != "" && c.Collector.ScreenshotURL == "" {
		c.Collector.ScreenshotURL = strings.TrimSuffix(c.Collector.URL, "/") + "/screenshots"
	}
	if c.Collector.QueueSize <= 0 {
		c.Collector.QueueSize = 256
	}
	if c.Collector.PayloadLimit <= 0 {
		c.Collector.PayloadLimit = 64 << 10
	}
	if c.Collector.MaxInFlight <= 0 {
		c.Collector.MaxInFlight = 8
	}
	if c.Collector.Timeout <= 0 {
		c.Collector.Timeout = 10 * time.Second
	}
	if c.Collector.DrainTimeout <= 0 {
		c.Collector.DrainTimeout = 2 * time.Second
	}
	if len(c.Sinks) == 0 {
		if c.Collector.URL != "" {
			c.Sinks = []SinkConfig{{Type: SinkBeacon}}
		} else {
			c.Sinks = []SinkConfig{{Type: SinkStdout}}
		}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == SinkBeacon && c.Sinks[i].URL == "" {
			c.Sinks[i].URL = c.Collector.URL
		}
	}
	if c.Capture.Format == "" {
		c.Capture.Format = "png"
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 10 * time.Second
	}
	if c.Browser.Headless == nil {
		on := true
		c.Browser.Headless = &on
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1366
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 768
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page_%d", i+1)
		}
	}
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = "127.0.0.1:8790"
	}
	if c.Bridge.IdleTimeout <= 0 {
		c.Bridge.IdleTimeout = 30 * time.Minute
	}
	if c.Bridge.MaxPages <= 0 {
		c.Bridge.MaxPages = 1000
	}
	if c.Bridge.MaxBody <= 0 {
		c.Bridge.MaxBody = 4 << 20
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.SiteID == "" {
		return fmt.Errorf("%w: site_id is required", ErrInvalid)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case SinkBeacon:
			if s.URL == "" {
				return fmt.Errorf("%w: sinks[%d]: beacon needs a url (or collector.url)", ErrInvalid, i)
			}
		case SinkStdout:
		default:
			return fmt.Errorf("%w: sinks[%d]: unknown type %q", ErrInvalid, i, s.Type)
		}
	}
	switch c.Capture.Format {
	case "png", "jpeg":
	default:
		return fmt.Errorf("%w: capture.format %q", ErrInvalid, c.Capture.Format)
	}
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("%w: pages[%d]: url is required", ErrInvalid, i)
		}
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, s)
	}
	return l, nil
}

// Engine returns the engine thresholds.
func (t ThresholdsConfig) Engine() friction.Thresholds {
	return friction.Thresholds{
		RageWindow:       t.RageWindow,
		RageRadius:       t.RageRadius,
		RageMinClicks:    t.RageMinClicks,
		MoveThrottle:     t.MoveThrottle,
		MoveWindow:       t.MoveWindow,
		MoveRecent:       t.MoveRecent,
		MoveMinSamples:   t.MoveMinSamples,
		MoveMinDistance:  t.MoveMinDistance,
		MoveMinReversals: t.MoveMinReversals,
		ScrollDebounce:   t.ScrollDebounce,
		Milestones:       t.Milestones,
		EscapeGrace:      t.EscapeGrace,
		SessionIdle:      t.SessionIdle,
	}
}

// Engine returns the engine capture settings.
func (c CaptureConfig) Engine() friction.CaptureConfig {
	return friction.CaptureConfig{
		OnFriction: c.OnFriction,
		Options: host.CaptureOptions{
			Format:   c.Format,
			Quality:  c.Quality,
			FullPage: c.FullPage,
			Delay:    c.Delay,
		},
		AllowedOrigins: c.AllowedOrigins,
		Timeout:        c.Timeout,
	}
}

// EngineConfig returns the engine settings for sink.
func (c *Config) EngineConfig(sink transport.Sink, logger *slog.Logger) friction.Config {
	return friction.Config{
		SiteID:     c.SiteID,
		Sink:       sink,
		Thresholds: c.Thresholds.Engine(),
		Capture:    c.Capture.Engine(),
		Logger:     logger,
	}
}
