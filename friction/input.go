package friction

import (
	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/friction/internal/click"
	"github.com/hazyhaar/frictionwatch/friction/internal/elem"
	"github.com/hazyhaar/frictionwatch/friction/internal/scroll"
	"github.com/hazyhaar/frictionwatch/host"
)

// Click handles a click at viewport coordinates on target. Rage detection
// runs first; a click that completes a rage cluster is never also a dead
// click.
func (e *Engine) Click(x, y float64, target host.Element) {
	e.do("click", func(p *page) {
		now := e.env.Clock.Now()
		p.stats.Interactions++

		e.guard("click.event", func() {
			e.emit(envelope.TypeClick, envelope.Click{
				X:               x,
				Y:               y,
				ElementSelector: elem.Selector(target),
				ElementPath:     elem.Path(target),
				ElementText:     elem.Text(target),
				Interactive:     target != nil && elem.IsActuallyClickable(target),
				RageClicks:      p.stats.RageClicks,
				DeadClicks:      p.stats.DeadClicks,
			})
		})

		raged := false
		e.guard("click.rage", func() {
			r, ok := p.clicks.Rage(now, x, y, target)
			if !ok {
				return
			}
			raged = true
			p.stats.RageClicks++
			e.emit(envelope.TypeRageClick, envelope.RageClick{
				ClickCount:      r.Count,
				TimeWindow:      r.Window.Milliseconds(),
				X:               r.X,
				Y:               r.Y,
				ElementSelector: elem.Selector(r.Target),
				ElementPath:     elem.Path(r.Target),
				ElementText:     elem.Text(r.Target),
				TotalRageClicks: p.stats.RageClicks,
			})
		})

		if !raged && target != nil {
			e.guard("click.dead", func() {
				if !click.Dead(target) {
					return
				}
				p.stats.DeadClicks++
				e.emit(envelope.TypeDeadClick, envelope.DeadClick{
					X:               x,
					Y:               y,
					ElementSelector: elem.Selector(target),
					ElementPath:     elem.Path(target),
					ElementText:     elem.Text(target),
					TotalDeadClicks: p.stats.DeadClicks,
				})
			})
		}

		e.guard("form.cancel", func() { p.forms.CancelClick(target) })
	})
}

// MouseMove handles a pointer position.
func (e *Engine) MouseMove(x, y float64) {
	e.do("mousemove", func(p *page) {
		th, ok := p.motion.Move(e.env.Clock.Now(), x, y)
		if !ok {
			return
		}
		p.stats.MouseThrashes++
		e.emit(envelope.TypeMouseThrash, envelope.MouseThrash{
			TotalDistance:    th.Distance,
			DirectionChanges: th.Reversals,
			Duration:         th.Duration.Milliseconds(),
			MovementCount:    th.Samples,
		})
	})
}

// Scroll handles a scroll event; metrics are read from the host page.
func (e *Engine) Scroll() {
	e.do("scroll", func(p *page) {
		_, crossed := p.scroll.Update(e.env.Page.Scroll())
		for _, m := range crossed {
			e.emit(envelope.TypeScrollMilestone, envelope.ScrollMilestone{
				Depth:    m,
				MaxDepth: p.scroll.MaxDepth(),
			})
		}
	})
}

func (e *Engine) onScrollSettled(p *page, s scroll.Summary) {
	e.do("scroll.summary", func(cur *page) {
		if cur != p {
			return
		}
		e.emit(envelope.TypeScroll, envelope.Scroll{
			Depth:        s.Depth,
			MaxDepth:     s.MaxDepth,
			TimeToScroll: s.TimeToScroll.Milliseconds(),
		})
	})
}

// FocusIn handles focus entering target.
func (e *Engine) FocusIn(target host.Element) {
	e.do("focusin", func(p *page) {
		p.stats.Interactions++
		p.forms.Focus(target)
	})
}

// Change handles a committed value change on target. The host updates the
// element's value before calling.
func (e *Engine) Change(target host.Element) {
	e.do("change", func(p *page) {
		p.stats.Interactions++
		p.forms.Change(target)
	})
}

// Submit handles a submit event on form.
func (e *Engine) Submit(form host.Element) {
	e.do("submit", func(p *page) {
		p.stats.Interactions++
		p.forms.Submit(form)
	})
}

// KeyDown handles a key press. Escape schedules a check, after a grace
// delay, for tracked forms that were closed by it.
func (e *Engine) KeyDown(key string) {
	e.do("keydown", func(p *page) {
		p.stats.Interactions++
		if key != "Escape" || len(p.forms.Tracked()) == 0 {
			return
		}
		t := e.env.Clock.AfterFunc(e.cfg.Thresholds.EscapeGrace, func() {
			e.do("escape", func(cur *page) {
				if cur == p {
					cur.forms.AbandonHidden(envelope.ReasonEscapePressed)
				}
			})
		})
		p.timers = append(p.timers, t)
	})
}
