// Package removal watches the document for removed subtrees that take a
// tracked form with them, such as a dismissed modal.
package removal

import (
	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/friction/internal/elem"
	"github.com/hazyhaar/frictionwatch/host"
)

// Forms is the view of the form state machine the watcher needs.
type Forms interface {
	Tracked() []host.Element
	Abandon(form host.Element, reason string) bool
}

// Watcher forwards removal notifications to a handler.
type Watcher struct {
	stop func()
}

// Watch subscribes handle to removals from src. The handler runs on
// whatever goroutine src notifies from; callers serialise it.
func Watch(src host.MutationSource, handle func(removed []host.Element)) *Watcher {
	if src == nil {
		return &Watcher{stop: func() {}}
	}
	return &Watcher{stop: src.ObserveRemovals(handle)}
}

// Stop unsubscribes.
func (w *Watcher) Stop() { w.stop() }

// Abandon ends the record of every tracked form taken out of the document
// by a removal, and returns the number of abandonments emitted.
//
// The reason is form_removed when the form itself was removed, or when its
// dialog went with it (a dismissed modal removes the form's own UI). A form
// that disappears because some other ancestor region was removed, such as
// an SPA view being swapped, gets container_removed.
func Abandon(removed []host.Element, forms Forms) int {
	tracked := forms.Tracked()
	if len(tracked) == 0 {
		return 0
	}
	n := 0
	for _, node := range removed {
		for _, form := range tracked {
			var reason string
			switch {
			case form == node:
				reason = envelope.ReasonFormRemoved
			case !elem.Contains(node, form):
				continue
			case elem.Contains(node, elem.Closest(form, elem.IsDialog)):
				reason = envelope.ReasonFormRemoved
			default:
				reason = envelope.ReasonContainerRemoved
			}
			if forms.Abandon(form, reason) {
				n++
			}
		}
	}
	return n
}
