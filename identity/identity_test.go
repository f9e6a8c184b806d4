package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/storage"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSessionID_StableWithinIdle(t *testing.T) {
	clock := host.NewFakeClock(t0)
	tab := storage.NewMemory()
	m := New(clock, tab, storage.NewMemory(), WithGenerator(Sequence("s")))

	first := m.SessionID()
	clock.Advance(29 * time.Minute)
	if got := m.SessionID(); got != first {
		t.Fatalf("session rotated after 29m: %s -> %s", first, got)
	}
	// Activity refreshed at 29m, so another 29m is still inside the window.
	clock.Advance(29 * time.Minute)

	// A reload: same tab storage, fresh manager.
	reloaded := New(clock, tab, storage.NewMemory(), WithGenerator(Sequence("other")))
	if got := reloaded.SessionID(); got != first {
		t.Errorf("session not stable across reload: %s -> %s", first, got)
	}
}

func TestSessionID_RotatesAfterIdle(t *testing.T) {
	clock := host.NewFakeClock(t0)
	m := New(clock, storage.NewMemory(), storage.NewMemory(), WithGenerator(Sequence("s")))

	first := m.SessionID()
	clock.Advance(30 * time.Minute)
	second := m.SessionID()
	if second == first {
		t.Fatalf("session not rotated after 30m gap")
	}
	if got := m.SessionID(); got != second {
		t.Errorf("new session unstable: %s -> %s", second, got)
	}
}

func TestSessionID_CorruptRecord(t *testing.T) {
	tab := storage.NewMemory()
	tab.Set(SessionKey, "{not json")
	m := New(host.NewFakeClock(t0), tab, storage.NewMemory(), WithGenerator(Sequence("s")))
	if got := m.SessionID(); got != "s-1" {
		t.Errorf("SessionID = %q, want a fresh id", got)
	}
}

func TestVisitorID_MintedOnce(t *testing.T) {
	durable := storage.NewMemory()
	clock := host.NewFakeClock(t0)

	a := New(clock, storage.NewMemory(), durable)
	id := a.VisitorID()
	if !Valid(id) {
		t.Fatalf("visitor id %q is not a UUID", id)
	}
	clock.Advance(72 * time.Hour)

	b := New(clock, storage.NewMemory(), durable)
	if got := b.VisitorID(); got != id {
		t.Errorf("visitor rotated: %s -> %s", id, got)
	}
}

func TestUserID(t *testing.T) {
	m := New(host.NewFakeClock(t0), storage.NewMemory(), storage.NewMemory())
	if m.UserID() != "" {
		t.Fatal("user id set before Identify")
	}
	m.SetUserID("u-42")
	if m.UserID() != "u-42" {
		t.Errorf("UserID = %q", m.UserID())
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("pg_", UUIDv7())()
	if !strings.HasPrefix(id, "pg_") || !Valid(strings.TrimPrefix(id, "pg_")) {
		t.Errorf("Prefixed id = %q", id)
	}
}
