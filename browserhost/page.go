package browserhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/frictionwatch/friction"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/identity"
	"github.com/hazyhaar/frictionwatch/shim"
	"github.com/hazyhaar/frictionwatch/storage"
	"github.com/hazyhaar/frictionwatch/transport"
)

// PageConfig describes a tab to observe.
type PageConfig struct {
	ID  string
	URL string

	// Engine configures every page view in the tab. Its Sink is shared and
	// is not closed by the page.
	Engine friction.Config
	// DurableStore keeps the visitor id. Default: a memory store.
	DurableStore host.Storage
	Logger       *slog.Logger
}

// Page is an observed tab. A full document load starts a new page view;
// in-document navigation is reported by the shim.
type Page struct {
	mgr      *Manager
	cfg      PageConfig
	tab      *rod.Page
	router   *rod.HijackRouter
	capturer *Capturer
	tabStore host.Storage
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}
	once   sync.Once

	mu      sync.Mutex
	session *shim.Session
	stopMsg context.CancelFunc
	closed  bool
}

// Open creates a tab, starts listening for shim records and navigates to
// the page URL. It returns once the first page view is attached.
func (m *Manager) Open(ctx context.Context, cfg PageConfig) (*Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browserhost: no active browser")
	}
	if cfg.ID == "" {
		cfg.ID = identity.Prefixed("tab_", identity.UUIDv7())()
	}
	if cfg.Logger == nil {
		cfg.Logger = m.cfg.Logger
	}
	if cfg.DurableStore == nil {
		cfg.DurableStore = storage.NewMemory()
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger
	}
	cfg.Engine.Sink = transport.Shared(cfg.Engine.Sink)
	logger := cfg.Logger.With("page_id", cfg.ID)

	var (
		tab *rod.Page
		err error
	)
	if m.cfg.Stealth {
		tab, err = stealth.Page(b)
	} else {
		tab, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browserhost: create tab: %w", err)
	}

	if err := tab.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		logger.Warn("browserhost: set viewport failed", "error", err)
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		mgr:      m,
		cfg:      cfg,
		tab:      tab,
		capturer: NewCapturer(tab),
		tabStore: storage.NewMemory(),
		logger:   logger,
		ctx:      pctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
	p.router = newBlocklist(m.cfg.ResourceBlocking).hijack(tab)

	if err := (proto.PageEnable{}).Call(tab); err != nil {
		cancel()
		if p.router != nil {
			p.router.Stop()
		}
		tab.Close()
		return nil, fmt.Errorf("browserhost: enable page domain: %w", err)
	}
	if err := (proto.RuntimeAddBinding{Name: shim.BindingName}).Call(tab); err != nil {
		logger.Warn("browserhost: addBinding failed (may already exist)", "error", err)
	}

	wait := tab.Context(pctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) { p.onBinding(e) },
		func(e *proto.PageLoadEventFired) { p.attach() },
	)
	go func() {
		wait()
		close(p.done)
	}()

	navCtx, navCancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer navCancel()
	if err := tab.Context(navCtx).Navigate(cfg.URL); err != nil {
		p.Close()
		return nil, fmt.Errorf("browserhost: navigate %s: %w", cfg.URL, err)
	}
	if err := tab.Context(navCtx).WaitLoad(); err != nil {
		logger.Warn("browserhost: wait load timeout", "url", cfg.URL, "error", err)
	}

	select {
	case <-p.ready:
	case <-navCtx.Done():
		p.Close()
		return nil, fmt.Errorf("browserhost: attach %s: %w", cfg.URL, navCtx.Err())
	}
	if err := m.track(p); err != nil {
		p.Close()
		return nil, err
	}
	logger.Info("browserhost: observing", "url", cfg.URL)
	return p, nil
}

// attach starts a page view on the freshly loaded document: the previous
// view is ended, the document is mirrored and the shim injected.
func (p *Page) attach() {
	p.mu.Lock()
	if p.session != nil {
		p.session.Close()
		p.stopMsg()
		p.session = nil
	}
	p.mu.Unlock()

	init, err := p.snapshot()
	if err != nil {
		p.logger.Warn("browserhost: snapshot failed", "error", err)
		return
	}
	sess, err := shim.NewSession(init, shim.Config{
		Engine:       p.cfg.Engine,
		TabStore:     p.tabStore,
		DurableStore: p.cfg.DurableStore,
		Capturer:     p.capturer,
		Logger:       p.logger,
	})
	if err != nil {
		p.logger.Warn("browserhost: start page view", "url", init.Info.URL, "error", err)
		return
	}

	mctx, stop := context.WithCancel(p.ctx)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		stop()
		sess.Close()
		return
	}
	p.session = sess
	p.stopMsg = stop
	p.mu.Unlock()
	go p.forwardMessages(mctx, sess)

	if _, err := p.tab.Eval(`cfg => { window.__frictionwatch_config = cfg }`, map[string]any{"flushMs": 50}); err != nil {
		p.logger.Warn("browserhost: set shim config", "error", err)
	}
	if _, err := p.tab.Eval("() => {\n" + shim.Script + "\n}"); err != nil {
		p.logger.Warn("browserhost: inject shim", "error", err)
	}
	p.logger.Debug("browserhost: page view attached", "url", init.Info.URL)
	p.once.Do(func() { close(p.ready) })
}

const snapshotJS = `() => {
	const d = document.documentElement;
	let tz = "";
	try { tz = Intl.DateTimeFormat().resolvedOptions().timeZone || ""; } catch (e) {}
	return JSON.stringify({
		html: d.outerHTML,
		info: {
			url: location.href,
			referrer: document.referrer,
			title: document.title,
			language: navigator.language || "",
			timezone: tz,
			userAgent: navigator.userAgent,
			screenWidth: screen.width,
			screenHeight: screen.height,
			viewportWidth: window.innerWidth,
			viewportHeight: window.innerHeight
		},
		metrics: {
			scrollY: window.scrollY,
			scrollHeight: Math.max(d.scrollHeight, document.body ? document.body.scrollHeight : 0),
			viewportHeight: window.innerHeight,
			viewportWidth: window.innerWidth
		}
	});
}`

func (p *Page) snapshot() (shim.PageInit, error) {
	res, err := p.tab.Eval(snapshotJS)
	if err != nil {
		return shim.PageInit{}, fmt.Errorf("browserhost: snapshot: %w", err)
	}
	return decodeSnapshot(res.Value.Str())
}

func decodeSnapshot(s string) (shim.PageInit, error) {
	var init shim.PageInit
	if err := json.Unmarshal([]byte(s), &init); err != nil {
		return shim.PageInit{}, fmt.Errorf("browserhost: decode snapshot: %w", err)
	}
	return init, nil
}

func (p *Page) onBinding(e *proto.RuntimeBindingCalled) {
	if e.Name != shim.BindingName {
		return
	}
	recs, err := shim.Decode([]byte(e.Payload))
	if err != nil {
		p.logger.Warn("browserhost: parse binding payload", "error", err)
		return
	}
	sess := p.current()
	if sess == nil {
		return
	}
	res, err := sess.Apply(recs)
	if err != nil && !errors.Is(err, shim.ErrClosed) {
		p.logger.Warn("browserhost: apply records", "error", err)
	}
	if res.Skipped > 0 {
		p.logger.Debug("browserhost: records skipped", "applied", res.Applied, "skipped", res.Skipped)
	}
}

// forwardMessages posts engine frame messages into the page, to the parent
// frame when the page is embedded.
func (p *Page) forwardMessages(ctx context.Context, sess *shim.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sess.Messages():
			_, err := p.tab.Context(ctx).Eval(`(origin, data) => {
				const target = window.parent !== window ? window.parent : window;
				target.postMessage(JSON.parse(data), origin);
			}`, m.Origin, string(m.Data))
			if err != nil {
				p.logger.Debug("browserhost: post frame message", "origin", m.Origin, "error", err)
			}
		}
	}
}

func (p *Page) current() *shim.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// ID returns the configured page id.
func (p *Page) ID() string { return p.cfg.ID }

// Session returns the current page view, or nil before the first load.
func (p *Page) Session() *shim.Session { return p.current() }

// Stats returns the friction counters of the current page view.
func (p *Page) Stats() friction.Stats {
	if s := p.current(); s != nil {
		return s.Stats()
	}
	return friction.Stats{}
}

// Close ends the current page view and closes the tab. It is idempotent.
func (p *Page) Close() error {
	p.mgr.forget(p)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.session != nil {
		p.session.Close()
		p.stopMsg()
		p.session = nil
	}
	p.mu.Unlock()

	p.cancel()
	if p.router != nil {
		if err := p.router.Stop(); err != nil {
			p.logger.Debug("browserhost: stop hijack router", "error", err)
		}
	}
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		p.logger.Debug("browserhost: event loop did not stop")
	}
	return p.tab.Close()
}
