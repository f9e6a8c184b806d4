package dom

import (
	"sort"

	"github.com/hazyhaar/frictionwatch/host"
)

// Window holds page-level state for a Document: page info and scroll
// metrics. Fields are set by the test or mirror driving it.
type Window struct {
	info    host.PageInfo
	metrics host.ScrollMetrics
}

var _ host.Page = (*Window)(nil)

// NewWindow returns a Window with the given info and an unscrollable page.
func NewWindow(info host.PageInfo) *Window {
	h := float64(info.ViewportHeight)
	return &Window{
		info:    info,
		metrics: host.ScrollMetrics{ScrollHeight: h, ViewportHeight: h},
	}
}

func (w *Window) Info() host.PageInfo { return w.info }

func (w *Window) Scroll() host.ScrollMetrics { return w.metrics }

// SetScroll updates scroll metrics.
func (w *Window) SetScroll(m host.ScrollMetrics) { w.metrics = m }

// SetURL changes the current URL, as history navigation does.
func (w *Window) SetURL(url string) { w.info.URL = url }

// SetTitle changes the document title.
func (w *Window) SetTitle(title string) { w.info.Title = title }

// SetViewport changes the viewport size.
func (w *Window) SetViewport(width, height int) {
	w.info.ViewportWidth = width
	w.info.ViewportHeight = height
	w.metrics.ViewportHeight = float64(height)
}

// History implements host.Navigator for a Window. Push, Replace and Pop
// update the window URL and notify interceptors.
type History struct {
	win      *Window
	handlers map[int]func(host.Navigation)
	next     int
}

var _ host.Navigator = (*History)(nil)

// NewHistory returns a History bound to w.
func NewHistory(w *Window) *History {
	return &History{win: w, handlers: make(map[int]func(host.Navigation))}
}

func (h *History) Intercept(fn func(host.Navigation)) (release func()) {
	id := h.next
	h.next++
	h.handlers[id] = fn
	return func() { delete(h.handlers, id) }
}

// Push simulates history.pushState.
func (h *History) Push(url string) { h.navigate(host.NavigationPush, url) }

// Replace simulates history.replaceState.
func (h *History) Replace(url string) { h.navigate(host.NavigationReplace, url) }

// Pop simulates a popstate to url.
func (h *History) Pop(url string) { h.navigate(host.NavigationPop, url) }

func (h *History) navigate(kind host.NavigationKind, url string) {
	nav := host.Navigation{Kind: kind, From: h.win.info.URL, To: url}
	h.win.SetURL(url)
	ids := make([]int, 0, len(h.handlers))
	for id := range h.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := h.handlers[id]; ok {
			fn(nav)
		}
	}
}
