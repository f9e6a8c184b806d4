package friction

import (
	"net/url"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/host"
)

// onNavigate is registered with the host Navigator. An in-page navigation
// closes the current page view (navigation event, flush of live forms and
// counters) and opens a new one.
func (e *Engine) onNavigate(nav host.Navigation) {
	if nav.From == nav.To {
		return
	}
	e.do("navigation", func(p *page) {
		now := e.env.Clock.Now()
		e.emit(envelope.TypeNavigation, envelope.Navigation{
			From:               nav.From,
			To:                 nav.To,
			Type:               string(nav.Kind),
			TimeOnPreviousPage: now.Sub(p.startedAt).Milliseconds(),
		})
		e.flush(p, envelope.ReasonPageNavigation)
		p.stop()
		e.page = e.newPage(nav.From)
		e.emitPageView()
	})
}

// HashChange handles a fragment-only URL change. The page view continues.
func (e *Engine) HashChange(from, to string) {
	e.do("hashchange", func(*page) {
		e.emit(envelope.TypeHashChange, envelope.HashChange{From: from, To: to})
	})
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
