// Package shim is the protocol between the page-side script and a Go
// engine. The script forwards raw interaction and mutation records; a
// Session applies them to a mirrored DOM and drives one friction engine.
package shim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/frictionwatch/host"
)

// Record types sent by the script.
const (
	TypeClick      = "click"
	TypeMove       = "move"
	TypeOut        = "out" // pointer left the document
	TypeScroll     = "scroll"
	TypeFocus      = "focus"
	TypeChange     = "change"
	TypeInput      = "input"
	TypeSubmit     = "submit"
	TypeKey        = "key"
	TypeVisibility = "visibility"
	TypeNav        = "nav"
	TypeHash       = "hash"
	TypeUnload     = "unload"
	TypeInsert     = "insert"
	TypeRemove     = "remove"
	TypeAttr       = "attr"
	TypeFormVis    = "formvis"
	TypeMessage    = "message" // frame message: url is the origin, value the data
)

// Metrics carries scroll and viewport dimensions.
type Metrics struct {
	ScrollY        float64 `json:"scrollY"`
	ScrollHeight   float64 `json:"scrollHeight"`
	ViewportHeight float64 `json:"viewportHeight"`
	ViewportWidth  int     `json:"viewportWidth,omitempty"`
}

// Record is one raw observation. Which fields are set depends on Type.
type Record struct {
	T       int64    `json:"t"` // unix milliseconds on the page
	Type    string   `json:"type"`
	XPath   string   `json:"xpath,omitempty"`
	X       float64  `json:"x,omitempty"`
	Y       float64  `json:"y,omitempty"`
	Key     string   `json:"key,omitempty"`
	Value   string   `json:"value,omitempty"`
	URL     string   `json:"url,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Hidden  bool     `json:"hidden,omitempty"`
	HTML    string   `json:"html,omitempty"`
	Index   int      `json:"index,omitempty"`
	Parent  string   `json:"parent,omitempty"`
	Metrics *Metrics `json:"metrics,omitempty"`
}

// Time returns the record timestamp, or the zero time when unset.
func (r Record) Time() time.Time {
	if r.T <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.T)
}

// Decode parses a payload holding a single record or an array of records.
func Decode(data []byte) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var recs []Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("shim: decode records: %w", err)
		}
		return recs, nil
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("shim: decode record: %w", err)
	}
	return []Record{r}, nil
}

// PageInit describes a page view when a session is opened.
type PageInit struct {
	HTML    string        `json:"html"`
	Info    host.PageInfo `json:"info"`
	Metrics *Metrics      `json:"metrics,omitempty"`
}
