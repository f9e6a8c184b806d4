// Package envelope defines the wire contract between the friction engine and
// the ingestion collaborator. Consumers import this package to decode what
// the transport posts.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is an event type from the ingestion catalog.
type Type string

const (
	TypePageView        Type = "pageview"
	TypeClick           Type = "click"
	TypeScroll          Type = "scroll"
	TypeScrollMilestone Type = "scroll_milestone"
	TypeRageClick       Type = "rage_click"
	TypeDeadClick       Type = "dead_click"
	TypeMouseThrash     Type = "mouse_thrash"
	TypeFormStart       Type = "form_start"
	TypeFormInteract    Type = "form_interact"
	TypeFormFieldSkip   Type = "form_field_skip"
	TypeFormSubmit      Type = "form_submit"
	TypeFormAbandonment Type = "form_abandonment"
	TypeVisibility      Type = "visibility"
	TypeExitIntent      Type = "exit_intent"
	TypeNavigation      Type = "navigation"
	TypeHashChange      Type = "hashchange"
	TypePageExit        Type = "pageexit"
	TypeCustom          Type = "custom"
	TypeIdentify        Type = "identify"
)

var catalog = map[Type]bool{
	TypePageView: true, TypeClick: true, TypeScroll: true, TypeScrollMilestone: true,
	TypeRageClick: true, TypeDeadClick: true, TypeMouseThrash: true,
	TypeFormStart: true, TypeFormInteract: true, TypeFormFieldSkip: true,
	TypeFormSubmit: true, TypeFormAbandonment: true, TypeVisibility: true,
	TypeExitIntent: true, TypeNavigation: true, TypeHashChange: true,
	TypePageExit: true, TypeCustom: true, TypeIdentify: true,
}

// Known reports whether t is in the catalog.
func Known(t Type) bool { return catalog[t] }

// IsFriction reports whether t is a friction signal.
func IsFriction(t Type) bool {
	switch t {
	case TypeRageClick, TypeDeadClick, TypeMouseThrash, TypeFormAbandonment, TypeFormFieldSkip:
		return true
	}
	return false
}

// Device classes.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// DeviceType classifies a viewport width.
func DeviceType(viewportWidth int) string {
	switch {
	case viewportWidth > 0 && viewportWidth < 768:
		return DeviceMobile
	case viewportWidth > 0 && viewportWidth < 1024:
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// TimeLayout is the timestamp format: RFC 3339, UTC, millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// Envelope is the unit posted to the ingestion endpoint.
type Envelope struct {
	EventID          string `json:"eventId"`
	SiteID           string `json:"siteId"`
	SessionID        string `json:"sessionId"`
	VisitorID        string `json:"visitorId"`
	UserID           string `json:"userId,omitempty"`
	Timestamp        string `json:"timestamp"`
	EventType        Type   `json:"eventType"`
	URL              string `json:"url"`
	Path             string `json:"path"`
	Referrer         string `json:"referrer"`
	Title            string `json:"title,omitempty"`
	DeviceType       string `json:"deviceType"`
	ScreenWidth      int    `json:"screenWidth"`
	ScreenHeight     int    `json:"screenHeight"`
	ViewportWidth    int    `json:"viewportWidth"`
	ViewportHeight   int    `json:"viewportHeight"`
	Language         string `json:"language"`
	Timezone         string `json:"timezone"`
	EventData        any    `json:"eventData"`
	InteractionIndex uint64 `json:"interactionIndex"`
}

// Validation errors.
var (
	ErrUnknownType  = errors.New("envelope: unknown event type")
	ErrMissingField = errors.New("envelope: missing required field")
)

// Validate checks the fields the collaborator relies on.
func (e *Envelope) Validate() error {
	if !Known(e.EventType) {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.EventType)
	}
	required := []struct{ name, v string }{
		{"siteId", e.SiteID},
		{"sessionId", e.SessionID},
		{"visitorId", e.VisitorID},
		{"timestamp", e.Timestamp},
		{"url", e.URL},
	}
	for _, r := range required {
		if r.v == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, r.name)
		}
	}
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return fmt.Errorf("envelope: timestamp: %w", err)
	}
	switch e.DeviceType {
	case DeviceMobile, DeviceTablet, DeviceDesktop:
	default:
		return fmt.Errorf("envelope: invalid deviceType %q", e.DeviceType)
	}
	if e.InteractionIndex == 0 {
		return fmt.Errorf("%w: interactionIndex", ErrMissingField)
	}
	return nil
}

// Marshal serialises an envelope to JSON.
func Marshal(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decoded is an envelope whose event data is kept raw.
type Decoded struct {
	Envelope
	RawData json.RawMessage `json:"-"`
}

// Unmarshal parses an envelope, keeping eventData as raw JSON in RawData
// and as a generic map in EventData.
func Unmarshal(data []byte) (*Decoded, error) {
	var wire struct {
		Envelope
		EventData json.RawMessage `json:"eventData"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal: %w", err)
	}
	d := &Decoded{Envelope: wire.Envelope, RawData: wire.EventData}
	if len(wire.EventData) > 0 && string(wire.EventData) != "null" {
		var m map[string]any
		if err := json.Unmarshal(wire.EventData, &m); err != nil {
			return nil, fmt.Errorf("envelope: eventData: %w", err)
		}
		d.EventData = m
	}
	return d, nil
}

// DecodeData unmarshals the raw event data into v.
func (d *Decoded) DecodeData(v any) error {
	if len(d.RawData) == 0 {
		return fmt.Errorf("%w: eventData", ErrMissingField)
	}
	return json.Unmarshal(d.RawData, v)
}
