// Package motion detects mouse thrashing: long, erratic pointer paths with
// frequent direction reversals.
package motion

import (
	"math"
	"time"

	"github.com/hazyhaar/frictionwatch/friction/internal/window"
)

// Config holds thrashing thresholds.
type Config struct {
	Throttle     time.Duration // minimum spacing between samples, default 50ms
	Window       time.Duration // buffer age, default 2000ms
	Recent       time.Duration // distance sub-window, default 1000ms
	MinSamples   int           // default 10
	MinDistance  float64       // px over Recent, default 500
	MinReversals int           // default 4
}

func (c *Config) applyDefaults() {
	if c.Throttle <= 0 {
		c.Throttle = 50 * time.Millisecond
	}
	if c.Window <= 0 {
		c.Window = 2000 * time.Millisecond
	}
	if c.Recent <= 0 {
		c.Recent = 1000 * time.Millisecond
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.MinDistance <= 0 {
		c.MinDistance = 500
	}
	if c.MinReversals <= 0 {
		c.MinReversals = 4
	}
}

// Thrash describes a detected thrashing episode.
type Thrash struct {
	Distance  float64 // path length over the recent sub-window
	Reversals int
	Duration  time.Duration // buffer span
	Samples   int
}

// Analyzer keeps the recent pointer samples of one page view.
type Analyzer struct {
	cfg      Config
	buf      *window.Buffer[window.Point]
	last     time.Time
	accepted bool
}

// New returns an Analyzer. Zero config fields take defaults.
func New(cfg Config) *Analyzer {
	cfg.applyDefaults()
	return &Analyzer{cfg: cfg, buf: window.New[window.Point](cfg.Window)}
}

// Move offers a pointer position. Samples closer than Throttle to the last
// accepted one are ignored. It reports thrashing and clears the buffer when
// both the distance and reversal thresholds are met.
func (a *Analyzer) Move(at time.Time, x, y float64) (Thrash, bool) {
	if a.accepted && at.Sub(a.last) < a.cfg.Throttle {
		return Thrash{}, false
	}
	a.accepted, a.last = true, at
	a.buf.Add(at, window.Point{At: at, X: x, Y: y})

	pts := a.buf.Entries()
	if len(pts) < a.cfg.MinSamples {
		return Thrash{}, false
	}
	dist := distance(a.buf.Since(at.Add(-a.cfg.Recent)))
	rev := reversals(pts)
	if dist <= a.cfg.MinDistance || rev < a.cfg.MinReversals {
		return Thrash{}, false
	}
	th := Thrash{
		Distance:  math.Round(dist),
		Reversals: rev,
		Duration:  a.buf.Span(),
		Samples:   len(pts),
	}
	a.buf.Reset()
	return th, true
}

// Pending returns the number of buffered samples.
func (a *Analyzer) Pending() int { return a.buf.Len() }

// Reset drops buffered samples and the throttle state.
func (a *Analyzer) Reset() {
	a.buf.Reset()
	a.accepted = false
}

func distance(pts []window.Point) float64 {
	var d float64
	for i := 1; i < len(pts); i++ {
		d += math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
	}
	return d
}

// reversals counts steps whose x or y direction flips relative to the last
// non-zero movement on that axis. A step flipping both axes counts once.
func reversals(pts []window.Point) int {
	var n int
	var lastDX, lastDY float64
	for i := 1; i < len(pts); i++ {
		dx := sign(pts[i].X - pts[i-1].X)
		dy := sign(pts[i].Y - pts[i-1].Y)
		flipped := (dx != 0 && lastDX != 0 && dx != lastDX) ||
			(dy != 0 && lastDY != 0 && dy != lastDY)
		if flipped {
			n++
		}
		if dx != 0 {
			lastDX = dx
		}
		if dy != 0 {
			lastDY = dy
		}
	}
	return n
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
