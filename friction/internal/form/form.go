// Package form tracks form lifecycles: Untouched -> Tracking ->
// Submitted | Abandoned.
//
// A record is created on the first focus into a field, collects the fields
// the user moves through, reports required fields skipped on the way, and
// ends exactly once, on submit or abandonment. Abandonment is only reported
// when the user actually entered something.
package form

import (
	"math"
	"strings"
	"time"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/friction/internal/elem"
	"github.com/hazyhaar/frictionwatch/host"
)

// EmitFunc publishes an event.
type EmitFunc func(t envelope.Type, payload any)

// Record is the tracking state of one form.
type Record struct {
	Form      host.Element
	ID        string
	Name      string
	Action    string
	StartedAt time.Time

	fields    []string
	seen      map[string]bool
	touched   []host.Element
	lastField string
	lastLabel string
	skipped   map[host.Element]bool
}

// FieldsInteracted returns the field names in first-interaction order.
func (r *Record) FieldsInteracted() []string { return append([]string(nil), r.fields...) }

// Machine holds the live records of one page view.
type Machine struct {
	doc   host.Document
	clock host.Clock
	emit  EmitFunc

	records map[host.Element]*Record
	order   []*Record
}

// New returns a Machine.
func New(doc host.Document, clock host.Clock, emit EmitFunc) *Machine {
	return &Machine{
		doc:     doc,
		clock:   clock,
		emit:    emit,
		records: make(map[host.Element]*Record),
	}
}

// Focus handles focus entering target.
func (m *Machine) Focus(target host.Element) {
	if !elem.IsField(target) {
		return
	}
	form := elem.FormOf(m.doc, target)
	if form == nil {
		return
	}
	rec, ok := m.records[form]
	if !ok {
		rec = m.start(form, target)
	} else {
		m.checkSkip(rec, target)
	}
	m.touch(rec, target)
}

func (m *Machine) start(form, first host.Element) *Record {
	rec := &Record{
		Form:      form,
		ID:        elem.FormID(m.doc, form),
		Name:      attr(form, "name"),
		Action:    attr(form, "action"),
		StartedAt: m.clock.Now(),
		seen:      make(map[string]bool),
		skipped:   make(map[host.Element]bool),
	}
	m.records[form] = rec
	m.order = append(m.order, rec)

	fields := elem.Fields(form)
	required, filled := 0, 0
	for _, f := range fields {
		if elem.IsRequired(f) {
			required++
		}
		if elem.HasValue(f) {
			filled++
		}
	}
	m.emit(envelope.TypeFormStart, envelope.FormStart{
		FormID:             rec.ID,
		FormName:           rec.Name,
		FormAction:         rec.Action,
		FieldCount:         len(fields),
		RequiredFieldCount: required,
		FilledFieldCount:   filled,
		FillPercentage:     percent(filled, len(fields)),
		FirstField:         elem.FieldName(form, first),
	})
	return rec
}

// checkSkip reports the field right before target when it is required,
// empty and not sensitive. Each field is reported at most once per record.
func (m *Machine) checkSkip(rec *Record, target host.Element) {
	prev := elem.Preceding(rec.Form, target)
	if prev == nil || rec.skipped[prev] {
		return
	}
	if elem.IsSensitive(prev) || !elem.IsRequired(prev) || elem.HasValue(prev) {
		return
	}
	rec.skipped[prev] = true
	m.emit(envelope.TypeFormFieldSkip, envelope.FormFieldSkip{
		FormID:            rec.ID,
		SkippedField:      elem.FieldName(rec.Form, prev),
		SkippedFieldLabel: elem.FieldLabel(rec.Form, prev),
		SkippedFieldType:  elem.FieldType(prev),
		MovedToField:      elem.FieldName(rec.Form, target),
	})
}

func (m *Machine) touch(rec *Record, field host.Element) {
	name := elem.FieldName(rec.Form, field)
	if !rec.seen[name] {
		rec.seen[name] = true
		rec.fields = append(rec.fields, name)
		rec.touched = append(rec.touched, field)
	}
	rec.lastField = name
	rec.lastLabel = elem.FieldLabel(rec.Form, field)
}

// Change handles a committed value change on a tracked field.
func (m *Machine) Change(target host.Element) {
	if !elem.IsField(target) {
		return
	}
	form := elem.FormOf(m.doc, target)
	rec, ok := m.records[form]
	if form == nil || !ok {
		return
	}
	m.touch(rec, target)
	m.emit(envelope.TypeFormInteract, envelope.FormInteract{
		FormID:    rec.ID,
		FieldName: elem.FieldName(form, target),
		FieldType: elem.FieldType(target),
		HasValue:  elem.HasValue(target),
	})
}

// Submit handles a submit event on form.
func (m *Machine) Submit(form host.Element) {
	if form == nil {
		return
	}
	rec, ok := m.records[form]
	if !ok {
		m.emit(envelope.TypeFormSubmit, envelope.FormSubmit{
			FormID:     elem.FormID(m.doc, form),
			FormName:   attr(form, "name"),
			FormAction: attr(form, "action"),
		})
		return
	}
	m.remove(rec)
	m.emit(envelope.TypeFormSubmit, envelope.FormSubmit{
		FormID:                rec.ID,
		FormName:              rec.Name,
		FormAction:            rec.Action,
		Tracked:               true,
		FieldsInteractedCount: len(rec.fields),
		TimeToComplete:        m.clock.Now().Sub(rec.StartedAt).Milliseconds(),
	})
}

// Abandon ends the record of form with reason. It reports whether an
// abandonment was emitted. A form without a live record, or whose touched
// fields are all empty, emits nothing; in both cases the record is gone
// afterwards.
func (m *Machine) Abandon(form host.Element, reason string) bool {
	rec, ok := m.records[form]
	if !ok {
		return false
	}
	m.remove(rec)
	if !engaged(rec) {
		return false
	}
	fields := elem.Fields(rec.Form)
	filled := 0
	for _, f := range fields {
		if elem.HasValue(f) {
			filled++
		}
	}
	m.emit(envelope.TypeFormAbandonment, envelope.FormAbandonment{
		FormID:                rec.ID,
		FormName:              rec.Name,
		Reason:                reason,
		FieldsInteracted:      rec.FieldsInteracted(),
		FieldsInteractedCount: len(rec.fields),
		LastFieldInteracted:   rec.lastField,
		LastFieldLabel:        rec.lastLabel,
		TimeInForm:            m.clock.Now().Sub(rec.StartedAt).Milliseconds(),
		FillPercentage:        percent(filled, len(fields)),
	})
	return true
}

// AbandonAll abandons every live record, oldest first, and returns the
// number of abandonments emitted.
func (m *Machine) AbandonAll(reason string) int {
	n := 0
	for _, rec := range append([]*Record(nil), m.order...) {
		if m.Abandon(rec.Form, reason) {
			n++
		}
	}
	return n
}

// AbandonHidden abandons records whose form is detached or no longer
// visible.
func (m *Machine) AbandonHidden(reason string) int {
	n := 0
	for _, rec := range append([]*Record(nil), m.order...) {
		if !rec.Form.IsConnected() || !rec.Form.IsVisible() {
			if m.Abandon(rec.Form, reason) {
				n++
			}
		}
	}
	return n
}

// CancelClick abandons tracked forms scoped by a cancel/close control that
// target belongs to. The control's nearest form or dialog must be, or
// contain, the tracked form.
func (m *Machine) CancelClick(target host.Element) int {
	if len(m.order) == 0 || target == nil {
		return 0
	}
	ctl := elem.CancelControl(target)
	if ctl == nil {
		return 0
	}
	scope := elem.Scope(ctl)
	if scope == nil {
		return 0
	}
	n := 0
	for _, rec := range append([]*Record(nil), m.order...) {
		if elem.Contains(scope, rec.Form) {
			if m.Abandon(rec.Form, envelope.ReasonCancelClicked) {
				n++
			}
		}
	}
	return n
}

// Tracked returns the forms with a live record, oldest first.
func (m *Machine) Tracked() []host.Element {
	out := make([]host.Element, len(m.order))
	for i, r := range m.order {
		out[i] = r.Form
	}
	return out
}

// Record returns the live record of form, or nil.
func (m *Machine) Record(form host.Element) *Record { return m.records[form] }

func (m *Machine) remove(rec *Record) {
	delete(m.records, rec.Form)
	for i, r := range m.order {
		if r == rec {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// engaged reports whether any touched field holds a value now.
func engaged(rec *Record) bool {
	for _, f := range rec.touched {
		if elem.HasValue(f) {
			return true
		}
	}
	return false
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) * 100 / float64(total)))
}

func attr(el host.Element, name string) string {
	v, _ := el.Attr(name)
	return strings.TrimSpace(v)
}
