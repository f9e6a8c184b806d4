package transport

import (
	"context"
	"log/slog"
	"net/url"
	"sync/atomic"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/identity"
)

// Identity supplies the ids stamped on every envelope.
type Identity interface {
	SessionID() string
	VisitorID() string
	UserID() string
}

// Emitter builds envelopes and hands them to a Sink. The interaction index
// is strictly increasing for the Emitter's lifetime and is not reset by
// in-page navigation.
type Emitter struct {
	siteID string
	ids    Identity
	page   host.Page
	clock  host.Clock
	sink   Sink
	newID  identity.Generator
	logger *slog.Logger

	index atomic.Uint64
}

// EmitterConfig holds the Emitter's collaborators.
type EmitterConfig struct {
	SiteID   string
	Identity Identity
	Page     host.Page
	Clock    host.Clock
	Sink     Sink
	IDs      identity.Generator // default UUIDv7
	Logger   *slog.Logger
}

// NewEmitter returns an Emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDs == nil {
		cfg.IDs = identity.UUIDv7()
	}
	return &Emitter{
		siteID: cfg.SiteID,
		ids:    cfg.Identity,
		page:   cfg.Page,
		clock:  cfg.Clock,
		sink:   cfg.Sink,
		newID:  cfg.IDs,
		logger: cfg.Logger,
	}
}

// Emit builds an envelope for typ and payload and sends it. It never
// returns a delivery result; the envelope is returned so callers can
// correlate follow-up work (screenshots) by event id.
func (em *Emitter) Emit(typ envelope.Type, payload any) *envelope.Envelope {
	info := em.page.Info()
	e := &envelope.Envelope{
		EventID:          em.newID(),
		SiteID:           em.siteID,
		SessionID:        em.ids.SessionID(),
		VisitorID:        em.ids.VisitorID(),
		UserID:           em.ids.UserID(),
		Timestamp:        envelope.FormatTime(em.clock.Now()),
		EventType:        typ,
		URL:              info.URL,
		Path:             pathOf(info.URL),
		Referrer:         info.Referrer,
		Title:            info.Title,
		DeviceType:       envelope.DeviceType(info.ViewportWidth),
		ScreenWidth:      info.ScreenWidth,
		ScreenHeight:     info.ScreenHeight,
		ViewportWidth:    info.ViewportWidth,
		ViewportHeight:   info.ViewportHeight,
		Language:         info.Language,
		Timezone:         info.Timezone,
		EventData:        payload,
		InteractionIndex: em.index.Add(1),
	}
	if err := em.sink.Send(context.Background(), e); err != nil {
		em.logger.Debug("transport: emit dropped", "event_type", typ, "error", err)
	}
	return e
}

// Index returns the last assigned interaction index.
func (em *Emitter) Index() uint64 { return em.index.Load() }

// SiteID returns the configured site id.
func (em *Emitter) SiteID() string { return em.siteID }

// SendScreenshot forwards a screenshot to the sink.
func (em *Emitter) SendScreenshot(ctx context.Context, s Screenshot) {
	if err := em.sink.SendScreenshot(ctx, s); err != nil {
		em.logger.Debug("transport: screenshot dropped", "event_id", s.EventID, "error", err)
	}
}

// Close closes the sink.
func (em *Emitter) Close() error { return em.sink.Close() }

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
