// Package dom is an in-memory document model implementing the host
// capabilities. It is built from HTML with golang.org/x/net/html and can be
// mutated afterwards, which lets it serve both as a test fixture and as the
// mirror of a live page kept up to date from shim records.
package dom

import (
	"strings"

	"github.com/hazyhaar/frictionwatch/host"
)

// Node is an element or text node. Only element nodes are exposed through
// host.Element.
type Node struct {
	doc    *Document
	tag    string // "" for text nodes
	text   string // text nodes only
	attrs  map[string]string
	parent *Node
	kids   []*Node

	value        string
	valueSet     bool
	cursor       string
	clickHandler bool
	hidden       bool
}

var _ host.Element = (*Node)(nil)

func newElement(doc *Document, tag string) *Node {
	return &Node{doc: doc, tag: strings.ToLower(tag), attrs: make(map[string]string)}
}

func newText(doc *Document, text string) *Node {
	return &Node{doc: doc, text: text}
}

// IsText reports whether n is a text node.
func (n *Node) IsText() bool { return n.tag == "" }

func (n *Node) TagName() string { return n.tag }

func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.attrs[strings.ToLower(name)]
	return v, ok
}

// SetAttr sets an attribute.
func (n *Node) SetAttr(name, value string) {
	n.attrs[strings.ToLower(name)] = value
}

// RemoveAttr deletes an attribute.
func (n *Node) RemoveAttr(name string) {
	delete(n.attrs, strings.ToLower(name))
}

func (n *Node) Parent() host.Element {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// ParentNode returns the parent as a *Node, or nil.
func (n *Node) ParentNode() *Node { return n.parent }

func (n *Node) Children() []host.Element {
	var out []host.Element
	for _, k := range n.kids {
		if !k.IsText() {
			out = append(out, k)
		}
	}
	return out
}

// ElementChildren returns element children as *Node.
func (n *Node) ElementChildren() []*Node {
	var out []*Node
	for _, k := range n.kids {
		if !k.IsText() {
			out = append(out, k)
		}
	}
	return out
}

func (n *Node) TextContent() string {
	if n.IsText() {
		return n.text
	}
	var b strings.Builder
	n.writeText(&b)
	return b.String()
}

func (n *Node) writeText(b *strings.Builder) {
	for _, k := range n.kids {
		if k.IsText() {
			b.WriteString(k.text)
			continue
		}
		if k.tag == "script" || k.tag == "style" {
			continue
		}
		k.writeText(b)
	}
}

// Value returns the live value of input, textarea and select elements.
func (n *Node) Value() string {
	if n.valueSet {
		return n.value
	}
	switch n.tag {
	case "input":
		v, _ := n.Attr("value")
		return v
	case "textarea":
		return n.TextContent()
	case "select":
		return n.selectedOption()
	}
	return ""
}

func (n *Node) selectedOption() string {
	var first, selected string
	var found, haveFirst bool
	var walk func(*Node)
	walk = func(c *Node) {
		for _, k := range c.ElementChildren() {
			if k.tag == "option" {
				v, ok := k.Attr("value")
				if !ok {
					v = strings.TrimSpace(k.TextContent())
				}
				if !haveFirst {
					first, haveFirst = v, true
				}
				if _, sel := k.Attr("selected"); sel && !found {
					selected, found = v, true
				}
			}
			walk(k)
		}
	}
	walk(n)
	if found {
		return selected
	}
	return first
}

// SetValue sets the live value of a form control.
func (n *Node) SetValue(v string) {
	n.value = v
	n.valueSet = true
}

// Cursor returns the cursor set explicitly on n or in an inline style of n
// or its ancestors. CSS cursor is inherited.
func (n *Node) Cursor() string {
	for c := n; c != nil && !c.IsText(); c = c.parent {
		if c.cursor != "" {
			return c.cursor
		}
		if v := styleProperty(c.attrs["style"], "cursor"); v != "" {
			return v
		}
	}
	return "auto"
}

// SetCursor overrides the computed cursor, for mirrors that receive it from
// the live page.
func (n *Node) SetCursor(c string) { n.cursor = c }

func (n *Node) HasClickHandler() bool {
	if n.clickHandler {
		return true
	}
	_, ok := n.attrs["onclick"]
	return ok
}

// SetClickHandler marks n as having a click listener.
func (n *Node) SetClickHandler(v bool) { n.clickHandler = v }

func (n *Node) IsConnected() bool {
	for c := n; c != nil; c = c.parent {
		if c == n.doc.root {
			return true
		}
	}
	return false
}

// IsVisible reports whether n is connected and neither n nor an ancestor
// is hidden by the hidden attribute, display:none, or SetHidden.
func (n *Node) IsVisible() bool {
	if !n.IsConnected() {
		return false
	}
	for c := n; c != nil; c = c.parent {
		if c.hidden {
			return false
		}
		if _, ok := c.attrs["hidden"]; ok {
			return false
		}
		if styleProperty(c.attrs["style"], "display") == "none" {
			return false
		}
	}
	return true
}

// SetHidden toggles layout visibility independently of attributes.
func (n *Node) SetHidden(v bool) { n.hidden = v }

// AppendChild attaches child as the last child of n.
func (n *Node) AppendChild(child *Node) {
	n.InsertAt(len(n.ElementChildren()), child)
}

// InsertAt attaches child before the index-th element child of n. An
// index past the end appends.
func (n *Node) InsertAt(index int, child *Node) {
	if child.parent != nil {
		child.parent.detach(child)
	}
	child.parent = n
	pos := len(n.kids)
	seen := 0
	for i, k := range n.kids {
		if k.IsText() {
			continue
		}
		if seen == index {
			pos = i
			break
		}
		seen++
	}
	n.kids = append(n.kids, nil)
	copy(n.kids[pos+1:], n.kids[pos:])
	n.kids[pos] = child
}

// Remove detaches n from its parent and notifies removal observers.
func (n *Node) Remove() {
	if n.parent == nil {
		return
	}
	wasConnected := n.IsConnected()
	n.parent.detach(n)
	if wasConnected && !n.IsText() {
		n.doc.notifyRemoved([]host.Element{n})
	}
}

func (n *Node) detach(child *Node) {
	for i, k := range n.kids {
		if k == child {
			n.kids = append(n.kids[:i], n.kids[i+1:]...)
			break
		}
	}
	child.parent = nil
}

// Contains reports whether other is n or a descendant of n.
func (n *Node) Contains(other *Node) bool {
	for c := other; c != nil; c = c.parent {
		if c == n {
			return true
		}
	}
	return false
}

func styleProperty(style, prop string) string {
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), prop) {
			v = strings.TrimSpace(v)
			v = strings.TrimSuffix(v, "!important")
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}
