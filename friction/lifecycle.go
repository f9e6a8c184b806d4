package friction

import (
	"github.com/hazyhaar/frictionwatch/envelope"
)

// VisibilityChange handles the page becoming hidden or visible again.
// Hiding flushes live forms and counters as page_exit, since a hidden tab
// may never come back. Coming back re-arms pageexit so the next hide,
// navigation or unload reports the counters again.
func (e *Engine) VisibilityChange(hidden bool) {
	e.do("visibility", func(p *page) {
		now := e.env.Clock.Now()
		switch {
		case hidden && p.visible:
			p.visible = false
			p.visibleTotal += now.Sub(p.visibleSince)
			e.emit(envelope.TypeVisibility, envelope.Visibility{
				State:       "hidden",
				VisibleTime: p.visibleTotal.Milliseconds(),
			})
			e.flush(p, envelope.ReasonPageExit)
		case !hidden && !p.visible:
			p.visible = true
			p.visibleSince = now
			p.exited = false
			e.emit(envelope.TypeVisibility, envelope.Visibility{
				State:       "visible",
				VisibleTime: p.visibleTotal.Milliseconds(),
			})
		}
	})
}

// MouseLeave handles the pointer leaving the document. Leaving through the
// top edge reads as intent to close the tab; it is reported once per page
// view.
func (e *Engine) MouseLeave(x, y float64) {
	e.do("mouseleave", func(p *page) {
		if y > 0 || p.exitIntent {
			return
		}
		p.exitIntent = true
		e.emit(envelope.TypeExitIntent, envelope.ExitIntent{
			TimeOnPage:     e.env.Clock.Now().Sub(p.startedAt).Milliseconds(),
			MaxScrollDepth: p.scroll.MaxDepth(),
		})
	})
}

// Unload flushes the page view and closes the engine.
func (e *Engine) Unload() {
	e.do("unload", func(p *page) { e.flush(p, envelope.ReasonPageExit) })
	if err := e.Close(); err != nil {
		e.logger.Debug("friction: close transport", "error", err)
	}
}

// flush abandons live forms with reason and emits the page's counters.
// pageexit is sent once per exit: repeated flushes without the page
// becoming visible again only end forms.
func (e *Engine) flush(p *page, reason string) {
	e.guard("flush.forms", func() { p.forms.AbandonAll(reason) })
	if p.exited {
		return
	}
	p.exited = true

	now := e.env.Clock.Now()
	visible := p.visibleTotal
	if p.visible {
		visible += now.Sub(p.visibleSince)
	}
	e.emit(envelope.TypePageExit, envelope.PageExit{
		TimeOnPage:       now.Sub(p.startedAt).Milliseconds(),
		VisibleTime:      visible.Milliseconds(),
		MaxScrollDepth:   p.scroll.MaxDepth(),
		RageClicks:       p.stats.RageClicks,
		DeadClicks:       p.stats.DeadClicks,
		MouseThrashes:    p.stats.MouseThrashes,
		FormAbandonments: p.stats.FormAbandonments,
		FieldSkips:       p.stats.FieldSkips,
		Interactions:     p.stats.Interactions,
	})
}
