package shim

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/frictionwatch/dom"
	"github.com/hazyhaar/frictionwatch/friction"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/storage"
)

// Script is the page-side shim. Hosts inject it after setting
// window.__frictionwatch_config or the __frictionwatch_binding binding.
//
//go:embed shim.js
var Script string

// BindingName is the CDP binding the script calls when present.
const BindingName = "__frictionwatch_binding"

// ErrClosed is returned by a Session after unload or Close.
var ErrClosed = errors.New("shim: session closed")

// Config configures a Session.
type Config struct {
	// Engine is passed to friction.New; its Sink is required.
	Engine friction.Config
	// Clock defaults to the real clock, with timer callbacks serialised
	// behind the session lock. A *host.FakeClock is advanced to each
	// record's timestamp instead (replay); its callbacks run inside Apply.
	Clock host.Clock
	// TabStore and DurableStore default to fresh memory stores.
	TabStore     host.Storage
	DurableStore host.Storage
	Capturer     host.Capturer
	// Outbox is the capacity of the frame message queue. Default 16.
	Outbox int
	Logger *slog.Logger
}

// Message is a frame message posted by the engine.
type Message struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Result summarises an Apply call.
type Result struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// Session mirrors one page view and drives its engine. All methods are
// safe for concurrent use; records are applied one at a time.
type Session struct {
	mu     sync.Mutex
	doc    *dom.Document
	win    *dom.Window
	hist   *dom.History
	engine *friction.Engine
	replay *host.FakeClock
	clock  host.Clock
	outbox chan Message
	logger *slog.Logger

	closed   bool
	lastSeen time.Time
	records  int
}

// NewSession parses the initial page and starts an engine on it.
func NewSession(init PageInit, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger
	}
	if cfg.TabStore == nil {
		cfg.TabStore = storage.NewMemory()
	}
	if cfg.DurableStore == nil {
		cfg.DurableStore = storage.NewMemory()
	}
	if cfg.Outbox <= 0 {
		cfg.Outbox = 16
	}
	markup := init.HTML
	if strings.TrimSpace(markup) == "" {
		markup = "<html><head></head><body></body></html>"
	}
	doc, err := dom.ParseString(markup)
	if err != nil {
		return nil, fmt.Errorf("shim: parse page: %w", err)
	}

	s := &Session{
		doc:    doc,
		win:    dom.NewWindow(init.Info),
		outbox: make(chan Message, cfg.Outbox),
		logger: cfg.Logger,
	}
	s.hist = dom.NewHistory(s.win)
	if init.Metrics != nil {
		s.setMetrics(*init.Metrics)
	}

	var clock host.Clock
	switch c := cfg.Clock.(type) {
	case nil:
		clock = lockedClock{base: host.RealClock(), mu: &s.mu}
	case *host.FakeClock:
		s.replay = c
		clock = c
	default:
		clock = lockedClock{base: c, mu: &s.mu}
	}
	s.clock = clock
	s.lastSeen = clock.Now()

	env := host.Environment{
		Clock:        clock,
		Document:     doc,
		Page:         s.win,
		SessionStore: cfg.TabStore,
		DurableStore: cfg.DurableStore,
		Mutations:    doc,
		Navigator:    s.hist,
		Capturer:     cfg.Capturer,
		Frames:       outbox(s.outbox),
	}
	eng, err := friction.New(env, cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("shim: %w", err)
	}
	s.engine = eng

	s.mu.Lock()
	eng.Start()
	s.mu.Unlock()
	return s, nil
}

// Apply applies records in order. Records that cannot be resolved against
// the mirror are skipped. An unload record closes the session.
func (s *Session) Apply(recs []Record) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res Result
	for _, r := range recs {
		if s.closed {
			return res, ErrClosed
		}
		if s.replay != nil && r.T > 0 {
			s.replay.Set(r.Time())
		}
		if s.apply(r) {
			res.Applied++
		} else {
			res.Skipped++
			s.logger.Debug("shim: record skipped", "type", r.Type, "xpath", r.XPath, "parent", r.Parent)
		}
		s.records++
		s.lastSeen = s.clock.Now()
	}
	return res, nil
}

func (s *Session) apply(r Record) bool {
	e := s.engine
	switch r.Type {
	case TypeClick:
		e.Click(r.X, r.Y, s.element(r.XPath))
	case TypeMove:
		e.MouseMove(r.X, r.Y)
	case TypeOut:
		e.MouseLeave(r.X, r.Y)
	case TypeScroll:
		if r.Metrics != nil {
			s.setMetrics(*r.Metrics)
		}
		e.Scroll()
	case TypeKey:
		e.KeyDown(r.Key)
	case TypeVisibility:
		e.VisibilityChange(r.Hidden)
	case TypeUnload:
		e.Unload()
		s.closed = true
	case TypeNav:
		if r.Value != "" {
			s.win.SetTitle(r.Value)
		}
		switch host.NavigationKind(r.Kind) {
		case host.NavigationReplace:
			s.hist.Replace(r.To)
		case host.NavigationPop:
			s.hist.Pop(r.To)
		default:
			s.hist.Push(r.To)
		}
	case TypeHash:
		s.win.SetURL(r.To)
		e.HashChange(r.From, r.To)
	case TypeMessage:
		if err := e.HandleFrameMessage(context.Background(), r.URL, []byte(r.Value)); err != nil {
			s.logger.Debug("shim: frame message", "origin", r.URL, "error", err)
			return false
		}
	case TypeInsert:
		parent := s.doc.ByXPath(r.Parent)
		if parent == nil {
			return false
		}
		nodes, err := s.doc.FragmentFor(parent, r.HTML)
		if err != nil {
			s.logger.Debug("shim: insert", "error", err)
			return false
		}
		for i, n := range nodes {
			parent.InsertAt(r.Index+i, n)
		}
	default:
		return s.applyToNode(r)
	}
	return true
}

// applyToNode handles records that need an existing node.
func (s *Session) applyToNode(r Record) bool {
	n := s.node(r)
	if n == nil {
		return false
	}
	e := s.engine
	switch r.Type {
	case TypeFocus:
		e.FocusIn(n)
	case TypeInput:
		setValue(n, r.Value)
	case TypeChange:
		setValue(n, r.Value)
		e.Change(n)
	case TypeSubmit:
		e.Submit(n)
	case TypeRemove:
		n.Remove()
	case TypeAttr:
		if r.Kind == "remove" {
			n.RemoveAttr(r.Key)
		} else {
			n.SetAttr(r.Key, r.Value)
		}
	case TypeFormVis:
		n.SetHidden(r.Hidden)
	default:
		return false
	}
	return true
}

// node resolves the record target: by xpath, or by parent and element
// index for nodes the page has already detached.
func (s *Session) node(r Record) *dom.Node {
	if r.XPath != "" {
		return s.doc.ByXPath(r.XPath)
	}
	if r.Parent == "" {
		return nil
	}
	parent := s.doc.ByXPath(r.Parent)
	if parent == nil {
		return nil
	}
	kids := parent.ElementChildren()
	if r.Index < 0 || r.Index >= len(kids) {
		return nil
	}
	return kids[r.Index]
}

// element returns the node at path as a host.Element, or a nil interface.
func (s *Session) element(path string) host.Element {
	if path == "" {
		return nil
	}
	if n := s.doc.ByXPath(path); n != nil {
		return n
	}
	return nil
}

func (s *Session) setMetrics(m Metrics) {
	if m.ViewportWidth > 0 {
		s.win.SetViewport(m.ViewportWidth, int(m.ViewportHeight))
	}
	s.win.SetScroll(host.ScrollMetrics{
		ScrollY:        m.ScrollY,
		ScrollHeight:   m.ScrollHeight,
		ViewportHeight: m.ViewportHeight,
	})
}

func setValue(n *dom.Node, v string) {
	if n.TagName() == "input" {
		if t, _ := n.Attr("type"); strings.EqualFold(t, "checkbox") || strings.EqualFold(t, "radio") {
			if v == "" {
				n.RemoveAttr("checked")
			} else {
				n.SetAttr("checked", "checked")
			}
			return
		}
	}
	n.SetValue(v)
}

// HandleMessage passes a frame message to the engine.
func (s *Session) HandleMessage(ctx context.Context, origin string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.engine.HandleFrameMessage(ctx, origin, data)
}

// Messages returns frame messages posted by the engine.
func (s *Session) Messages() <-chan Message { return s.outbox }

// Stats returns the current page view's counters.
func (s *Session) Stats() friction.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.FrustrationStats()
}

// Track emits a custom event.
func (s *Session) Track(name string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Track(name, data)
}

// Identify attaches userID to later events.
func (s *Session) Identify(userID string, traits map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Identify(userID, traits)
}

// IDs returns the session and visitor ids.
func (s *Session) IDs() (session, visitor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SessionID(), s.engine.VisitorID()
}

// URL returns the current page URL.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win.Info().URL
}

// LastSeen returns when the session last applied a record, on the
// session clock (record time during replay).
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Records returns the number of records received.
func (s *Session) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the page view as an unload would. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.engine.Unload()
}

// lockedClock runs timer callbacks under the session lock so that they
// never interleave with record application.
type lockedClock struct {
	base host.Clock
	mu   *sync.Mutex
}

func (c lockedClock) Now() time.Time { return c.base.Now() }

func (c lockedClock) AfterFunc(d time.Duration, f func()) host.Timer {
	return c.base.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		f()
	})
}

// outbox is the session's MessagePort. A full queue drops the message.
type outbox chan Message

func (o outbox) PostMessage(origin string, data []byte) {
	select {
	case o <- Message{Origin: origin, Data: data}:
	default:
	}
}
