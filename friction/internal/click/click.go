// Package click detects rage clicks (spatially clustered bursts) and dead
// clicks (clicks on elements that look interactive but are not).
package click

import (
	"math"
	"time"

	"github.com/hazyhaar/frictionwatch/friction/internal/elem"
	"github.com/hazyhaar/frictionwatch/friction/internal/window"
	"github.com/hazyhaar/frictionwatch/host"
)

// Config holds rage-click thresholds.
type Config struct {
	Window    time.Duration // default 500ms
	Radius    float64       // default 50px
	MinClicks int           // default 3
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 500 * time.Millisecond
	}
	if c.Radius <= 0 {
		c.Radius = 50
	}
	if c.MinClicks <= 0 {
		c.MinClicks = 3
	}
}

type sample struct {
	window.Point
	target host.Element
}

// Rage describes a detected rage-click cluster.
type Rage struct {
	Count  int
	Window time.Duration // time from first to last click of the cluster
	X, Y   float64
	Target host.Element
}

// Analyzer keeps the recent clicks of one page view.
type Analyzer struct {
	cfg Config
	buf *window.Buffer[sample]
}

// New returns an Analyzer. Zero config fields take defaults.
func New(cfg Config) *Analyzer {
	cfg.applyDefaults()
	return &Analyzer{cfg: cfg, buf: window.New[sample](cfg.Window)}
}

// Rage records a click and reports a rage cluster when at least MinClicks
// clicks remain in the window, all within Radius of the first one. The
// buffer is cleared on detection so a new cluster starts from zero.
func (a *Analyzer) Rage(at time.Time, x, y float64, target host.Element) (Rage, bool) {
	a.buf.Add(at, sample{Point: window.Point{At: at, X: x, Y: y}, target: target})
	clicks := a.buf.Entries()
	if len(clicks) < a.cfg.MinClicks {
		return Rage{}, false
	}
	first := clicks[0]
	for _, c := range clicks[1:] {
		if math.Hypot(c.X-first.X, c.Y-first.Y) > a.cfg.Radius {
			return Rage{}, false
		}
	}
	r := Rage{
		Count:  len(clicks),
		Window: a.buf.Span(),
		X:      x,
		Y:      y,
		Target: target,
	}
	a.buf.Reset()
	return r, true
}

// Dead reports whether a click on target is a dead click.
func Dead(target host.Element) bool {
	return elem.LooksClickable(target) && !elem.IsActuallyClickable(target)
}

// Pending returns the number of buffered clicks.
func (a *Analyzer) Pending() int { return a.buf.Len() }

// Reset drops buffered clicks.
func (a *Analyzer) Reset() { a.buf.Reset() }
