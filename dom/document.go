package dom

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/frictionwatch/host"
)

// Document is the root of an in-memory element tree. It is not safe for
// concurrent use; host adapters serialise access.
type Document struct {
	root      *Node
	observers map[int]func([]host.Element)
	nextObs   int
}

var (
	_ host.Document       = (*Document)(nil)
	_ host.MutationSource = (*Document)(nil)
)

// Parse builds a Document from a full HTML page.
func Parse(r io.Reader) (*Document, error) {
	parsed, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := &Document{observers: make(map[int]func([]host.Element))}
	for c := parsed.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			d.root = d.convert(c)
			break
		}
	}
	if d.root == nil {
		d.root = newElement(d, "html")
	}
	return d, nil
}

// ParseString is Parse for a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// MustParse parses s and panics on error. For fixtures.
func MustParse(s string) *Document {
	d, err := ParseString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) convert(src *html.Node) *Node {
	n := newElement(d, src.Data)
	for _, a := range src.Attr {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + a.Key
		}
		n.SetAttr(key, a.Val)
	}
	// <template> content lives outside the tree in browsers.
	if n.tag == "template" {
		return n
	}
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			child := d.convert(c)
			child.parent = n
			n.kids = append(n.kids, child)
		case html.TextNode:
			t := newText(d, c.Data)
			t.parent = n
			n.kids = append(n.kids, t)
		}
	}
	return n
}

// FragmentFor parses markup in the context of parent and returns detached
// element nodes owned by d.
func (d *Document) FragmentFor(parent *Node, markup string) ([]*Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: parent.tag}
	if ctx.Data == "" {
		ctx.Data = "body"
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	var out []*Node
	for _, c := range nodes {
		if c.Type == html.ElementNode {
			out = append(out, d.convert(c))
		}
	}
	return out, nil
}

// Root returns the <html> element.
func (d *Document) Root() host.Element { return d.root }

// RootNode returns the <html> element as a *Node.
func (d *Document) RootNode() *Node { return d.root }

// Body returns <body>, or nil.
func (d *Document) Body() host.Element {
	if b := d.BodyNode(); b != nil {
		return b
	}
	return nil
}

// BodyNode returns <body> as a *Node, or nil.
func (d *Document) BodyNode() *Node {
	for _, k := range d.root.ElementChildren() {
		if k.tag == "body" {
			return k
		}
	}
	return nil
}

// ElementByID returns the first element with the given id.
func (d *Document) ElementByID(id string) host.Element {
	if n := d.NodeByID(id); n != nil {
		return n
	}
	return nil
}

// NodeByID is ElementByID returning *Node.
func (d *Document) NodeByID(id string) *Node {
	var found *Node
	d.Walk(func(n *Node) bool {
		if v, ok := n.attrs["id"]; ok && v == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// ElementsByTag returns all connected elements with the given tag, in
// document order.
func (d *Document) ElementsByTag(tag string) []*Node {
	tag = strings.ToLower(tag)
	var out []*Node
	d.Walk(func(n *Node) bool {
		if n.tag == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Walk visits connected elements in document order until fn returns false.
func (d *Document) Walk(fn func(*Node) bool) {
	var walk func(*Node) bool
	walk = func(n *Node) bool {
		if !fn(n) {
			return false
		}
		for _, k := range n.ElementChildren() {
			if !walk(k) {
				return false
			}
		}
		return true
	}
	walk(d.root)
}

// ObserveRemovals registers fn for removal notifications.
func (d *Document) ObserveRemovals(fn func(removed []host.Element)) (stop func()) {
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() { delete(d.observers, id) }
}

func (d *Document) notifyRemoved(removed []host.Element) {
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := d.observers[id]; ok {
			fn(removed)
		}
	}
}
