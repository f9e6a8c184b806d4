// Package bridge serves the page shim over HTTP. A page posts its initial
// document to /v1/pages and gets its own mirrored DOM and friction engine
// (a shim.Session); it then streams raw records to that page view.
//
// Usage:
//
//	srv := bridge.New(bridge.Config{Engine: engineCfg, DB: db})
//	go srv.Run(ctx)
//	http.ListenAndServe(addr, srv.Handler())
package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/frictionwatch/friction"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/identity"
	"github.com/hazyhaar/frictionwatch/kit"
	"github.com/hazyhaar/frictionwatch/shim"
	"github.com/hazyhaar/frictionwatch/storage"
	"github.com/hazyhaar/frictionwatch/transport"
)

// Errors returned by the page registry.
var (
	ErrNotFound = errors.New("bridge: page not found")
	ErrFull     = errors.New("bridge: too many open pages")
)

// Config configures a Server.
type Config struct {
	// Engine is the template for every page engine. Its Sink is shared by
	// all pages and is not closed by the server.
	Engine friction.Config

	IdleTimeout    time.Duration // default 30m
	MaxPages       int           // default 1000
	MaxBody        int64         // default 4 MiB
	AllowedOrigins []string      // empty or "*" allows any origin
	// MessageTimeout bounds the wait for a frame message response.
	// Default: the engine capture timeout plus five seconds.
	MessageTimeout time.Duration

	// DB, when set, keeps tab and visitor storage in SQLite so ids survive
	// page reloads and bridge restarts.
	DB *sql.DB

	// Echo mounts the validating collector on /v1/collect.
	Echo bool

	PageIDs identity.Generator // default pg_<uuidv7>
	Clock   host.Clock         // default real clock; tests pass a fake
	Logger  *slog.Logger
}

// Server is the bridge. It is safe for concurrent use.
type Server struct {
	cfg    Config
	logger *slog.Logger
	mcp    *mcp.Server
	echo   *echo

	stats kit.Endpoint
	list  kit.Endpoint

	mu      sync.Mutex
	pages   map[string]*page
	opening int // slots reserved by Open calls in progress
}

type page struct {
	id      string
	session *shim.Session
	created time.Time
	cancel  context.CancelFunc

	mu       sync.Mutex
	waiters  map[string]chan shim.Message
	lastSeen time.Time // bridge clock
}

// PageInfo describes an open page view.
type PageInfo struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	SessionID string         `json:"sessionId"`
	VisitorID string         `json:"visitorId"`
	Created   time.Time      `json:"created"`
	LastSeen  time.Time      `json:"lastSeen"`
	Records   int            `json:"records"`
	Stats     friction.Stats `json:"stats"`
}

// New returns a server. Call Run to evict idle pages and Close on shutdown.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 4 << 20
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = cfg.Engine.Capture.Timeout + 5*time.Second
		if cfg.Engine.Capture.Timeout <= 0 {
			cfg.MessageTimeout = 15 * time.Second
		}
	}
	if cfg.PageIDs == nil {
		cfg.PageIDs = identity.Prefixed("pg_", identity.UUIDv7())
	}
	if cfg.Clock == nil {
		cfg.Clock = host.RealClock()
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		pages:  make(map[string]*page),
	}
	if cfg.Echo {
		s.echo = newEcho(cfg.Logger)
	}
	s.stats = endpoint(s.logger, "stats", s.statsEndpoint)
	s.list = endpoint(s.logger, "pages", s.pagesEndpoint)
	s.mcp = s.newMCPServer()
	return s
}

// endpoint wraps an operation shared by the HTTP routes and MCP tools.
func endpoint(logger *slog.Logger, name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(logger, name), kit.Recover(logger, name))(ep)
}

// OpenRequest opens a page view.
type OpenRequest struct {
	shim.PageInit
	// Tab and Visitor are opaque tokens the page keeps in sessionStorage and
	// localStorage. They select the stored session and visitor ids.
	Tab     string `json:"tab,omitempty"`
	Visitor string `json:"visitor,omitempty"`
}

// OpenResponse is returned by Open.
type OpenResponse struct {
	PageID    string `json:"pageId"`
	SessionID string `json:"sessionId"`
	VisitorID string `json:"visitorId"`
	Records   string `json:"records"` // path to post records to
}

// Open creates a page view and starts its engine.
func (s *Server) Open(req OpenRequest) (OpenResponse, error) {
	if err := s.reserve(); err != nil {
		return OpenResponse{}, err
	}
	admitted := false
	defer func() {
		if !admitted {
			s.mu.Lock()
			s.opening--
			s.mu.Unlock()
		}
	}()

	engine := s.cfg.Engine
	engine.Sink = transport.Shared(s.cfg.Engine.Sink)
	tab, durable := s.stores(req.Tab, req.Visitor)
	sess, err := shim.NewSession(req.PageInit, shim.Config{
		Engine:       engine,
		TabStore:     tab,
		DurableStore: durable,
		Logger:       s.logger,
	})
	if err != nil {
		return OpenResponse{}, err
	}

	now := s.cfg.Clock.Now()
	ctx, cancel := context.WithCancel(context.Background())
	p := &page{
		id:       s.cfg.PageIDs(),
		session:  sess,
		created:  now,
		cancel:   cancel,
		waiters:  make(map[string]chan shim.Message),
		lastSeen: now,
	}
	go p.dispatch(ctx, s.logger)

	s.mu.Lock()
	s.pages[p.id] = p
	s.opening--
	admitted = true
	s.mu.Unlock()

	sid, vid := sess.IDs()
	s.logger.Info("bridge: page opened", "page_id", p.id, "url", req.Info.URL, "session_id", sid)
	return OpenResponse{
		PageID:    p.id,
		SessionID: sid,
		VisitorID: vid,
		Records:   "/v1/pages/" + p.id + "/records",
	}, nil
}

// reserve claims a page slot, sweeping once when the registry is full.
func (s *Server) reserve() error {
	for swept := false; ; swept = true {
		s.mu.Lock()
		if len(s.pages)+s.opening < s.cfg.MaxPages {
			s.opening++
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		if swept {
			return ErrFull
		}
		s.Sweep()
	}
}

// stores returns the tab and durable stores for the page tokens. Without a
// database or a token the store is in memory and lives with the page.
func (s *Server) stores(tab, visitor string) (host.Storage, host.Storage) {
	var ts, ds host.Storage = storage.NewMemory(), storage.NewMemory()
	if s.cfg.DB == nil {
		return ts, ds
	}
	if tab != "" {
		ts = storage.NewKV(s.cfg.DB, "tab:"+tab, s.logger)
	}
	if visitor != "" {
		ds = storage.NewKV(s.cfg.DB, "visitor:"+visitor, s.logger)
	}
	return ts, ds
}

func (s *Server) get(id string) (*page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Remove ends the page view (flushing it as an unload) and forgets it.
func (s *Server) Remove(id string) error {
	s.mu.Lock()
	p, ok := s.pages[id]
	delete(s.pages, id)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	p.close()
	s.logger.Info("bridge: page closed", "page_id", id)
	return nil
}

// Pages lists open page views, oldest first.
func (s *Server) Pages() []PageInfo {
	s.mu.Lock()
	pages := make([]*page, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p)
	}
	s.mu.Unlock()

	out := make([]PageInfo, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Sweep closes pages that ended or have been idle longer than the idle
// timeout. It returns the number removed.
func (s *Server) Sweep() int {
	now := s.cfg.Clock.Now()
	var stale []*page
	s.mu.Lock()
	for id, p := range s.pages {
		if p.session.Closed() || now.Sub(p.seen()) > s.cfg.IdleTimeout {
			stale = append(stale, p)
			delete(s.pages, id)
		}
	}
	s.mu.Unlock()
	for _, p := range stale {
		p.close()
		s.logger.Debug("bridge: page evicted", "page_id", p.id)
	}
	return len(stale)
}

// Run sweeps idle pages until ctx is done.
func (s *Server) Run(ctx context.Context) {
	every := s.cfg.IdleTimeout / 4
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("bridge: idle pages evicted", "count", n)
			}
		}
	}
}

// Close ends every open page view. The shared sink stays open.
func (s *Server) Close() {
	s.mu.Lock()
	pages := s.pages
	s.pages = make(map[string]*page)
	s.mu.Unlock()
	for _, p := range pages {
		p.close()
	}
}

// MCP returns the server's MCP tool server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// touch records page activity at now.
func (p *page) touch(now time.Time) {
	p.mu.Lock()
	if now.After(p.lastSeen) {
		p.lastSeen = now
	}
	p.mu.Unlock()
}

func (p *page) seen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *page) close() {
	p.session.Close()
	p.cancel()
}

func (p *page) info() PageInfo {
	sid, vid := p.session.IDs()
	return PageInfo{
		ID:        p.id,
		URL:       p.session.URL(),
		SessionID: sid,
		VisitorID: vid,
		Created:   p.created,
		LastSeen:  p.seen(),
		Records:   p.session.Records(),
		Stats:     p.session.Stats(),
	}
}

// dispatch routes frame messages to the request waiting for them.
// Messages nobody waits for are dropped.
func (p *page) dispatch(ctx context.Context, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.session.Messages():
			var head friction.FrameMessage
			_ = json.Unmarshal(m.Data, &head)
			p.mu.Lock()
			ch, ok := p.waiters[head.RequestID]
			delete(p.waiters, head.RequestID)
			p.mu.Unlock()
			if !ok {
				logger.Debug("bridge: unclaimed frame message", "page_id", p.id, "request_id", head.RequestID)
				continue
			}
			ch <- m
		}
	}
}

// wait registers a waiter for requestID. The channel has room for one
// message so dispatch never blocks on it.
func (p *page) wait(requestID string) (<-chan shim.Message, func()) {
	ch := make(chan shim.Message, 1)
	p.mu.Lock()
	p.waiters[requestID] = ch
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.waiters, requestID)
		p.mu.Unlock()
	}
}
