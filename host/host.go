// Package host defines the capabilities the friction engine needs from the
// page it instruments. The engine never touches a browser directly: every
// read of the document, the clock, storage or navigation goes through these
// interfaces, so the same engine runs behind a rod-driven tab, an HTTP shim
// bridge, or a test fixture.
package host

import (
	"context"
	"time"
)

// Element is a node of the observed document. Implementations must return
// the same Element value for the same node so that callers can compare
// elements with ==.
type Element interface {
	// TagName is the lower-case tag name ("form", "input", ...).
	TagName() string
	// Attr returns an attribute value and whether it is present.
	Attr(name string) (string, bool)
	// Parent returns the parent element, or nil at the root or when detached.
	Parent() Element
	// Children returns element children in document order.
	Children() []Element
	// TextContent returns the concatenated text of the subtree.
	TextContent() string
	// Value returns the live value of form controls, "" otherwise.
	Value() string
	// Cursor returns the computed CSS cursor ("pointer", "auto", ...).
	Cursor() string
	// HasClickHandler reports whether a click listener is attached.
	HasClickHandler() bool
	// IsConnected reports whether the element is attached to the document.
	IsConnected() bool
	// IsVisible reports whether the element takes part in layout.
	IsVisible() bool
}

// Document gives access to the element tree.
type Document interface {
	// Root returns the document element (<html>).
	Root() Element
	// Body returns <body>, or nil.
	Body() Element
	// ElementByID returns the element with the given id, or nil.
	ElementByID(id string) Element
}

// PageInfo is the static description of the current page view.
type PageInfo struct {
	URL            string `json:"url"`
	Referrer       string `json:"referrer"`
	Title          string `json:"title"`
	Language       string `json:"language"`
	Timezone       string `json:"timezone"`
	UserAgent      string `json:"userAgent"`
	ScreenWidth    int    `json:"screenWidth"`
	ScreenHeight   int    `json:"screenHeight"`
	ViewportWidth  int    `json:"viewportWidth"`
	ViewportHeight int    `json:"viewportHeight"`
}

// ScrollMetrics is a snapshot of the page scroll position.
type ScrollMetrics struct {
	ScrollY        float64
	ScrollHeight   float64
	ViewportHeight float64
}

// Page exposes page-level state that changes over time.
type Page interface {
	Info() PageInfo
	Scroll() ScrollMetrics
}

// Storage is a string key/value store. Tab-scoped and durable storage use
// the same interface with different lifetimes. Implementations swallow
// their own errors: a storage failure must never reach the host page.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// MutationSource notifies about nodes removed from the document. The
// callback receives the removed subtree roots after removal.
type MutationSource interface {
	ObserveRemovals(fn func(removed []Element)) (stop func())
}

// NavigationKind distinguishes in-page navigation entry points.
type NavigationKind string

const (
	NavigationPush    NavigationKind = "pushState"
	NavigationReplace NavigationKind = "replaceState"
	NavigationPop     NavigationKind = "popstate"
)

// Navigation describes one in-page navigation.
type Navigation struct {
	Kind NavigationKind
	From string
	To   string
}

// Navigator is implemented once by the host to report in-page navigation,
// instead of the engine patching history functions itself.
type Navigator interface {
	Intercept(fn func(Navigation)) (release func())
}

// CaptureOptions controls a screenshot.
type CaptureOptions struct {
	Format   string        `json:"format,omitempty"`  // png | jpeg
	Quality  int           `json:"quality,omitempty"` // jpeg only
	FullPage bool          `json:"fullPage,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
}

// Capturer renders the current page to an image.
type Capturer interface {
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)
}

// MessagePort posts messages to a controlling frame.
type MessagePort interface {
	PostMessage(origin string, data []byte)
}

// Environment bundles the capabilities handed to an engine. Capturer and
// Frames are optional.
type Environment struct {
	Clock        Clock
	Document     Document
	Page         Page
	SessionStore Storage
	DurableStore Storage
	Mutations    MutationSource
	Navigator    Navigator
	Capturer     Capturer
	Frames       MessagePort
}
