package elem

import (
	"strings"
	"unicode"

	"github.com/hazyhaar/frictionwatch/host"
)

// Class fragments that suggest an element is meant to be clicked.
var affordanceMarkers = []string{
	"btn", "button", "link", "clickable", "cta", "card", "nav", "tab", "menu", "action",
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "menuitem": true, "tab": true, "checkbox": true,
}

// LooksClickable reports whether el signals interactivity visually: a
// pointer cursor, an interactive-sounding class, or being an image.
//
// Decorative elements styled with a pointer cursor satisfy this too; that
// is a known false-positive source for dead clicks.
func LooksClickable(el host.Element) bool {
	if el == nil {
		return false
	}
	if el.Cursor() == "pointer" || el.TagName() == "img" {
		return true
	}
	for _, c := range Classes(el) {
		lc := strings.ToLower(c)
		for _, m := range affordanceMarkers {
			if strings.Contains(lc, m) {
				return true
			}
		}
	}
	return false
}

// IsActuallyClickable reports whether el, or an ancestor, has structural
// interactive behavior.
func IsActuallyClickable(el host.Element) bool {
	return Closest(el, interactive) != nil
}

func interactive(el host.Element) bool {
	switch el.TagName() {
	case "button", "input", "select", "textarea", "label", "summary":
		return true
	case "a":
		if _, ok := el.Attr("href"); ok {
			return true
		}
	}
	if role, ok := el.Attr("role"); ok && interactiveRoles[strings.ToLower(role)] {
		return true
	}
	return el.HasClickHandler()
}

var cancelMarkers = []string{"cancel", "close", "dismiss", "back", "×", "✕"}

// CancelControl returns the control el belongs to (el or its closest
// button, link or role=button) when that control reads as a
// cancel/close/dismiss action, or nil.
func CancelControl(el host.Element) host.Element {
	ctl := Closest(el, func(e host.Element) bool {
		switch e.TagName() {
		case "button", "a":
			return true
		}
		r, _ := e.Attr("role")
		return r == "button"
	})
	if ctl == nil {
		ctl = el
	}
	if ctl == nil {
		return nil
	}
	if matchesCancel(ctl) {
		return ctl
	}
	return nil
}

func matchesCancel(el host.Element) bool {
	text := strings.ToLower(strings.TrimSpace(el.TextContent()))
	if len([]rune(text)) <= 40 && hasMarker(text) {
		return true
	}
	if _, ok := el.Attr("data-dismiss"); ok {
		return true
	}
	for _, attr := range []string{"aria-label", "title", "class", "id", "data-action"} {
		if v, ok := el.Attr(attr); ok && hasMarker(strings.ToLower(v)) {
			return true
		}
	}
	return false
}

// hasMarker matches whole words so that "feedback" or "closet" do not read
// as back or close.
func hasMarker(s string) bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '×' && r != '✕'
	})
	for _, w := range words {
		for _, m := range cancelMarkers {
			if w == m {
				return true
			}
		}
	}
	return false
}

// IsDialog reports whether el is a modal container.
func IsDialog(el host.Element) bool {
	if el.TagName() == "dialog" {
		return true
	}
	if r, _ := el.Attr("role"); r == "dialog" || r == "alertdialog" {
		return true
	}
	if m, _ := el.Attr("aria-modal"); m == "true" {
		return true
	}
	for _, c := range Classes(el) {
		if c == "modal" {
			return true
		}
	}
	return false
}

// Scope returns the nearest form or dialog enclosing el, or nil.
func Scope(el host.Element) host.Element {
	return Closest(el, func(e host.Element) bool { return e.TagName() == "form" || IsDialog(e) })
}
