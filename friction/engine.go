// Package friction is the detection engine. It turns raw interaction input
// from a host page into engagement events and friction signals (rage and
// dead clicks, mouse thrashing, form abandonment, skipped required fields)
// and hands them to the transport.
//
// The engine reaches the page only through host capabilities. It is
// single-threaded: the host adapter must serialise every input call and
// every clock callback. Each analyzer runs isolated, so a failure in one
// never stops the others from seeing the same input.
package friction

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/friction/internal/click"
	"github.com/hazyhaar/frictionwatch/friction/internal/form"
	"github.com/hazyhaar/frictionwatch/friction/internal/motion"
	"github.com/hazyhaar/frictionwatch/friction/internal/removal"
	"github.com/hazyhaar/frictionwatch/friction/internal/scroll"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/identity"
	"github.com/hazyhaar/frictionwatch/transport"
)

// Thresholds tunes the analyzers. Zero values take the defaults noted.
type Thresholds struct {
	RageWindow    time.Duration // 500ms
	RageRadius    float64       // 50px
	RageMinClicks int           // 3

	MoveThrottle     time.Duration // 50ms
	MoveWindow       time.Duration // 2000ms
	MoveRecent       time.Duration // 1000ms
	MoveMinSamples   int           // 10
	MoveMinDistance  float64       // 500px
	MoveMinReversals int           // 4

	ScrollDebounce time.Duration // 500ms
	Milestones     []int         // 25, 50, 75, 90, 100

	EscapeGrace time.Duration // 300ms
	SessionIdle time.Duration // 30m
}

// CaptureConfig controls screenshots.
type CaptureConfig struct {
	// OnFriction takes a screenshot after every friction signal.
	OnFriction bool
	Options    host.CaptureOptions
	// AllowedOrigins may request captures through frame messages. "*"
	// allows any origin; empty allows none.
	AllowedOrigins []string
	Timeout        time.Duration // 10s
}

// Config configures an Engine.
type Config struct {
	SiteID     string
	Sink       transport.Sink
	Thresholds Thresholds
	Capture    CaptureConfig
	IDs        identity.Generator // default UUIDv7
	Logger     *slog.Logger
}

// Errors returned by New.
var (
	ErrNoSiteID     = errors.New("friction: site id is required")
	ErrMissingHost  = errors.New("friction: missing host capability")
	ErrNotStarted   = errors.New("friction: engine not started")
	ErrNoCapturer   = errors.New("friction: no capturer")
	ErrOriginDenied = errors.New("friction: origin not allowed")
)

// Stats are the friction counters of the current page view.
type Stats struct {
	RageClicks       int   `json:"rageClicks"`
	DeadClicks       int   `json:"deadClicks"`
	MouseThrashes    int   `json:"mouseThrashes"`
	FormAbandonments int   `json:"formAbandonments"`
	FieldSkips       int   `json:"fieldSkips"`
	Interactions     int   `json:"interactions"`
	MaxScrollDepth   int   `json:"maxScrollDepth"`
	TimeOnPage       int64 `json:"timeOnPage"`
}

// page is the per-page-view context. Navigation replaces it wholesale.
type page struct {
	startedAt    time.Time
	referrer     string
	visible      bool
	visibleSince time.Time
	visibleTotal time.Duration
	exitIntent   bool
	exited       bool
	stats        Stats

	clicks *click.Analyzer
	motion *motion.Analyzer
	scroll *scroll.Tracker
	forms  *form.Machine
	timers []host.Timer
}

// Engine observes one tab.
type Engine struct {
	cfg    Config
	env    host.Environment
	logger *slog.Logger
	ids    *identity.Manager
	em     *transport.Emitter
	policy *bluemonday.Policy
	shotID identity.Generator

	page       *page
	started    bool
	closed     bool
	releaseNav func()
	removals   *removal.Watcher

	captures sync.WaitGroup
}

// New validates the environment and returns an engine. Call Start to begin
// observing.
func New(env host.Environment, cfg Config) (*Engine, error) {
	if cfg.SiteID == "" {
		return nil, ErrNoSiteID
	}
	switch {
	case env.Clock == nil:
		return nil, fmt.Errorf("%w: clock", ErrMissingHost)
	case env.Document == nil:
		return nil, fmt.Errorf("%w: document", ErrMissingHost)
	case env.Page == nil:
		return nil, fmt.Errorf("%w: page", ErrMissingHost)
	case env.SessionStore == nil || env.DurableStore == nil:
		return nil, fmt.Errorf("%w: storage", ErrMissingHost)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: sink", ErrMissingHost)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDs == nil {
		cfg.IDs = identity.UUIDv7()
	}
	if cfg.Thresholds.EscapeGrace <= 0 {
		cfg.Thresholds.EscapeGrace = 300 * time.Millisecond
	}
	if cfg.Capture.Timeout <= 0 {
		cfg.Capture.Timeout = 10 * time.Second
	}

	ids := identity.New(env.Clock, env.SessionStore, env.DurableStore,
		identity.WithGenerator(cfg.IDs),
		identity.WithIdleTimeout(cfg.Thresholds.SessionIdle))

	e := &Engine{
		cfg:    cfg,
		env:    env,
		logger: cfg.Logger,
		ids:    ids,
		policy: bluemonday.StrictPolicy(),
		shotID: identity.Prefixed("shot_", cfg.IDs),
	}
	e.em = transport.NewEmitter(transport.EmitterConfig{
		SiteID:   cfg.SiteID,
		Identity: ids,
		Page:     env.Page,
		Clock:    env.Clock,
		Sink:     cfg.Sink,
		IDs:      cfg.IDs,
		Logger:   cfg.Logger,
	})
	return e, nil
}

// Start hooks navigation and removal notifications and emits the first
// pageview.
func (e *Engine) Start() {
	if e.started || e.closed {
		return
	}
	e.started = true
	e.page = e.newPage("")
	if e.env.Navigator != nil {
		e.releaseNav = e.env.Navigator.Intercept(e.onNavigate)
	}
	e.removals = removal.Watch(e.env.Mutations, e.onRemoved)
	e.emitPageView()
	e.logger.Debug("friction: started", "site_id", e.cfg.SiteID, "url", e.env.Page.Info().URL)
}

func (e *Engine) newPage(referrer string) *page {
	th := e.cfg.Thresholds
	p := &page{
		startedAt:    e.env.Clock.Now(),
		referrer:     referrer,
		visible:      true,
		visibleSince: e.env.Clock.Now(),
		clicks: click.New(click.Config{
			Window:    th.RageWindow,
			Radius:    th.RageRadius,
			MinClicks: th.RageMinClicks,
		}),
		motion: motion.New(motion.Config{
			Throttle:     th.MoveThrottle,
			Window:       th.MoveWindow,
			Recent:       th.MoveRecent,
			MinSamples:   th.MoveMinSamples,
			MinDistance:  th.MoveMinDistance,
			MinReversals: th.MoveMinReversals,
		}),
		forms: form.New(e.env.Document, e.env.Clock, e.emitFromAnalyzer),
	}
	p.scroll = scroll.New(e.env.Clock, scroll.Config{
		Milestones: th.Milestones,
		Debounce:   th.ScrollDebounce,
	}, func(s scroll.Summary) { e.onScrollSettled(p, s) })
	return p
}

func (p *page) stop() {
	p.scroll.Stop()
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
}

// do runs fn against the current page if the engine is live, isolating
// panics.
func (e *Engine) do(name string, fn func(p *page)) {
	if !e.started || e.closed {
		return
	}
	e.guard(name, func() { fn(e.page) })
}

// guard runs fn and turns a panic into a warning.
func (e *Engine) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("friction: handler failed", "handler", name, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// emit is the single exit for events. It keeps the form counters and
// triggers friction screenshots.
func (e *Engine) emit(typ envelope.Type, payload any) *envelope.Envelope {
	switch typ {
	case envelope.TypeFormAbandonment:
		e.page.stats.FormAbandonments++
	case envelope.TypeFormFieldSkip:
		e.page.stats.FieldSkips++
	}
	ev := e.em.Emit(typ, payload)
	if e.cfg.Capture.OnFriction && envelope.IsFriction(typ) {
		e.TakeScreenshot(ev.EventID, e.cfg.Capture.Options)
	}
	return ev
}

func (e *Engine) emitFromAnalyzer(typ envelope.Type, payload any) { e.emit(typ, payload) }

func (e *Engine) emitPageView() {
	info := e.env.Page.Info()
	ref := e.page.referrer
	if ref == "" {
		ref = info.Referrer
	}
	e.emit(envelope.TypePageView, envelope.PageView{
		Title:    info.Title,
		Path:     pathOf(info.URL),
		Referrer: ref,
	})
}

func (e *Engine) onRemoved(removed []host.Element) {
	e.do("removal", func(p *page) { removal.Abandon(removed, p.forms) })
}

// FrustrationStats returns the current page view's counters.
func (e *Engine) FrustrationStats() Stats {
	if e.page == nil {
		return Stats{}
	}
	s := e.page.stats
	s.MaxScrollDepth = e.page.scroll.MaxDepth()
	s.TimeOnPage = e.env.Clock.Now().Sub(e.page.startedAt).Milliseconds()
	return s
}

// Close releases host hooks, waits for in-flight screenshots and closes
// the transport. It does not flush; Unload does.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.releaseNav != nil {
		e.releaseNav()
	}
	if e.removals != nil {
		e.removals.Stop()
	}
	if e.page != nil {
		e.page.stop()
	}
	e.captures.Wait()
	return e.em.Close()
}
