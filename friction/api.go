package friction

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/host"
)

// Limits on host-supplied data in custom and identify events.
const (
	maxStringLen = 1000
	maxDataDepth = 5
	maxDataKeys  = 100
)

// Track emits a custom event. Strings in data are sanitised; nesting deeper
// than five levels is dropped.
func (e *Engine) Track(name string, data map[string]any) {
	e.do("track", func(*page) {
		name = e.clean(name)
		if name == "" {
			e.logger.Debug("friction: track without name")
			return
		}
		e.emit(envelope.TypeCustom, envelope.Custom{Name: name, Data: e.cleanMap(data, 0)})
	})
}

// Identify stores userID for the tab session and emits an identify event.
// Later envelopes carry the user id.
func (e *Engine) Identify(userID string, traits map[string]any) {
	e.do("identify", func(*page) {
		userID = e.clean(userID)
		if userID == "" {
			return
		}
		e.ids.SetUserID(userID)
		e.emit(envelope.TypeIdentify, envelope.Identify{UserID: userID, Traits: e.cleanMap(traits, 0)})
	})
}

// SessionID returns the current session id, rotating it if idle.
func (e *Engine) SessionID() string { return e.ids.SessionID() }

// VisitorID returns the durable visitor id.
func (e *Engine) VisitorID() string { return e.ids.VisitorID() }

// ReportFormAbandonment ends the tracking record of form with reason
// ("manual" when empty). It reports whether an abandonment was emitted;
// untracked or untouched forms emit nothing.
func (e *Engine) ReportFormAbandonment(form host.Element, reason string) bool {
	if reason == "" {
		reason = envelope.ReasonManual
	}
	var ok bool
	e.do("report_abandonment", func(p *page) {
		ok = p.forms.Abandon(form, reason)
	})
	return ok
}

func (e *Engine) clean(s string) string {
	s = e.policy.Sanitize(s)
	if utf8.RuneCountInString(s) > maxStringLen {
		s = string([]rune(s)[:maxStringLen])
	}
	return s
}

func (e *Engine) cleanMap(m map[string]any, depth int) map[string]any {
	if len(m) == 0 || depth >= maxDataDepth {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxDataKeys {
		keys = keys[:maxDataKeys]
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		ck := e.clean(k)
		if ck == "" {
			continue
		}
		if v, ok := e.cleanValue(m[k], depth); ok {
			out[ck] = v
		}
	}
	return out
}

func (e *Engine) cleanValue(v any, depth int) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string:
		return e.clean(x), true
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x, true
	case map[string]any:
		if depth+1 >= maxDataDepth {
			return nil, false
		}
		return e.cleanMap(x, depth+1), true
	case []any:
		if depth+1 >= maxDataDepth {
			return nil, false
		}
		out := make([]any, 0, len(x))
		for _, item := range x {
			if cv, ok := e.cleanValue(item, depth+1); ok {
				out = append(out, cv)
			}
		}
		return out, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = e.clean(s)
		}
		return out, true
	default:
		return e.clean(fmt.Sprint(x)), true
	}
}
