// Package elem holds element heuristics shared by the analyzers: selectors,
// short paths and text for payloads, the two clickability predicates, and
// form field identity.
package elem

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/frictionwatch/host"
)

const (
	maxText      = 100
	maxPathDepth = 5
)

// Classes returns the class list.
func Classes(el host.Element) []string {
	v, _ := el.Attr("class")
	return strings.Fields(v)
}

// Selector renders tag#id.class1.class2 (at most two classes).
func Selector(el host.Element) string {
	if el == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(el.TagName())
	if id, ok := el.Attr("id"); ok && id != "" {
		b.WriteByte('#')
		b.WriteString(id)
	}
	for i, c := range Classes(el) {
		if i == 2 {
			break
		}
		b.WriteByte('.')
		b.WriteString(c)
	}
	return b.String()
}

// Path renders el and up to four ancestors joined with " > ", stopping at
// the first ancestor with an id.
func Path(el host.Element) string {
	var parts []string
	for cur := el; cur != nil && len(parts) < maxPathDepth; cur = cur.Parent() {
		parts = append(parts, Selector(cur))
		if id, ok := cur.Attr("id"); ok && id != "" && cur != el {
			break
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// Text returns the element's whitespace-collapsed text, truncated to 100
// runes.
func Text(el host.Element) string {
	if el == nil {
		return ""
	}
	return truncate(strings.Join(strings.Fields(el.TextContent()), " "), maxText)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Closest returns el or its nearest ancestor matching pred, or nil.
func Closest(el host.Element, pred func(host.Element) bool) host.Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if pred(cur) {
			return cur
		}
	}
	return nil
}

// Contains reports whether descendant is ancestor or lies inside it. It
// follows parent links only, so it works on detached subtrees.
func Contains(ancestor, descendant host.Element) bool {
	if ancestor == nil || descendant == nil {
		return false
	}
	for cur := descendant; cur != nil; cur = cur.Parent() {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Walk visits root and its descendants in document order. Returning false
// from fn stops the walk.
func Walk(root host.Element, fn func(host.Element) bool) bool {
	if root == nil {
		return true
	}
	if !fn(root) {
		return false
	}
	for _, c := range root.Children() {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}

// IndexAmong returns el's 1-based position among elements matching pred
// under root, or 0.
func IndexAmong(root, el host.Element, pred func(host.Element) bool) int {
	n, found := 0, 0
	Walk(root, func(cur host.Element) bool {
		if pred(cur) {
			n++
			if cur == el {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

func is(tag string) func(host.Element) bool {
	return func(el host.Element) bool { return el.TagName() == tag }
}

func itoa(n int) string { return strconv.Itoa(n) }
