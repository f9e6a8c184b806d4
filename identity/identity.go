// Package identity produces the session and visitor identifiers attached to
// every envelope.
//
// A session lives in tab-scoped storage and expires after 30 minutes without
// activity; reading it refreshes its activity stamp. A visitor id lives in
// durable storage and is minted once.
package identity

import (
	"encoding/json"
	"time"

	"github.com/hazyhaar/frictionwatch/host"
)

// Storage keys.
const (
	SessionKey = "fw_session"
	VisitorKey = "fw_visitor"
	UserKey    = "fw_user"
)

// DefaultIdle is the session inactivity timeout.
const DefaultIdle = 30 * time.Minute

type sessionRecord struct {
	ID             string `json:"id"`
	LastActivityAt int64  `json:"lastActivityAt"` // unix ms
}

// Manager reads and mints identifiers. It is not safe for concurrent use;
// the engine owns it on its single logical thread.
type Manager struct {
	clock   host.Clock
	tab     host.Storage
	durable host.Storage
	gen     Generator
	idle    time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithGenerator replaces the id generator (default UUIDv7).
func WithGenerator(g Generator) Option { return func(m *Manager) { m.gen = g } }

// WithIdleTimeout replaces the session inactivity timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// New returns a Manager over tab-scoped and durable storage.
func New(clock host.Clock, tab, durable host.Storage, opts ...Option) *Manager {
	m := &Manager{
		clock:   clock,
		tab:     tab,
		durable: durable,
		gen:     UUIDv7(),
		idle:    DefaultIdle,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SessionID returns the live session id, refreshing its activity stamp, or
// mints a new one when absent or idle for longer than the timeout.
func (m *Manager) SessionID() string {
	now := m.clock.Now()
	var rec sessionRecord
	if raw, ok := m.tab.Get(SessionKey); ok {
		if json.Unmarshal([]byte(raw), &rec) != nil {
			rec = sessionRecord{}
		}
	}
	last := time.UnixMilli(rec.LastActivityAt)
	if rec.ID == "" || now.Sub(last) >= m.idle {
		rec.ID = m.gen()
	}
	rec.LastActivityAt = now.UnixMilli()
	data, _ := json.Marshal(rec)
	m.tab.Set(SessionKey, string(data))
	return rec.ID
}

// VisitorID returns the durable visitor id, minting it on first use.
func (m *Manager) VisitorID() string {
	if id, ok := m.durable.Get(VisitorKey); ok && id != "" {
		return id
	}
	id := m.gen()
	m.durable.Set(VisitorKey, id)
	return id
}

// UserID returns the id set by Identify, or "".
func (m *Manager) UserID() string {
	id, _ := m.tab.Get(UserKey)
	return id
}

// SetUserID records the identified user for the rest of the tab's life.
func (m *Manager) SetUserID(id string) { m.tab.Set(UserKey, id) }
