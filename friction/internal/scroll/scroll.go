// Package scroll tracks scroll depth for one page view: a monotonic
// high-water mark, first-crossing milestones, and a debounced summary once
// scrolling pauses.
package scroll

import (
	"math"
	"time"

	"github.com/hazyhaar/frictionwatch/host"
)

// DefaultMilestones are the depth percentages reported once each.
var DefaultMilestones = []int{25, 50, 75, 90, 100}

// Summary is delivered after scrolling pauses.
type Summary struct {
	Depth        int
	MaxDepth     int
	TimeToScroll time.Duration // page start to first scroll
}

// Config configures a Tracker.
type Config struct {
	Milestones []int         // ascending; default DefaultMilestones
	Debounce   time.Duration // default 500ms
}

// Tracker is not safe for concurrent use; the debounced callback is
// scheduled through the host clock and must be serialised by the caller's
// clock the same way as input.
type Tracker struct {
	cfg      Config
	clock    host.Clock
	onSettle func(Summary)

	start       time.Time
	firstScroll time.Time
	scrolled    bool
	depth       int
	max         int
	next        int // index of the next milestone to cross
	timer       host.Timer
}

// New returns a Tracker for a page view starting at clock.Now().
func New(clock host.Clock, cfg Config, onSettle func(Summary)) *Tracker {
	if len(cfg.Milestones) == 0 {
		cfg.Milestones = DefaultMilestones
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	return &Tracker{cfg: cfg, clock: clock, onSettle: onSettle, start: clock.Now()}
}

// Depth computes the scroll depth percentage; 100 when the page cannot
// scroll.
func Depth(m host.ScrollMetrics) int {
	scrollable := m.ScrollHeight - m.ViewportHeight
	if scrollable <= 0 {
		return 100
	}
	d := int(math.Round(m.ScrollY / scrollable * 100))
	return max(0, min(100, d))
}

// Update records a scroll position and returns the milestones crossed for
// the first time, ascending. It re-arms the debounce timer.
func (t *Tracker) Update(m host.ScrollMetrics) (depth int, crossed []int) {
	now := t.clock.Now()
	if !t.scrolled {
		t.scrolled, t.firstScroll = true, now
	}
	t.depth = Depth(m)
	if t.depth > t.max {
		t.max = t.depth
	}
	for t.next < len(t.cfg.Milestones) && t.max >= t.cfg.Milestones[t.next] {
		crossed = append(crossed, t.cfg.Milestones[t.next])
		t.next++
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(t.cfg.Debounce, t.settle)
	return t.depth, crossed
}

func (t *Tracker) settle() {
	t.timer = nil
	if t.onSettle != nil {
		t.onSettle(Summary{
			Depth:        t.depth,
			MaxDepth:     t.max,
			TimeToScroll: t.firstScroll.Sub(t.start),
		})
	}
}

// MaxDepth returns the high-water mark.
func (t *Tracker) MaxDepth() int { return t.max }

// Stop cancels a pending summary.
func (t *Tracker) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
