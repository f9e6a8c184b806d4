package elem

import (
	"strings"

	"github.com/hazyhaar/frictionwatch/host"
)

var nonFieldInputs = map[string]bool{
	"hidden": true, "submit": true, "button": true, "reset": true, "image": true,
}

// IsField reports whether el is a user-editable form control.
func IsField(el host.Element) bool {
	if el == nil {
		return false
	}
	switch el.TagName() {
	case "select", "textarea":
		return true
	case "input":
		return !nonFieldInputs[FieldType(el)]
	}
	return false
}

// FieldType is the input type ("text" by default), or the tag name for
// select and textarea.
func FieldType(el host.Element) string {
	if el.TagName() != "input" {
		return el.TagName()
	}
	t, _ := el.Attr("type")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "text"
	}
	return t
}

// FieldName identifies a field: name, then id, then type plus position.
func FieldName(form, el host.Element) string {
	if v, ok := el.Attr("name"); ok && v != "" {
		return v
	}
	if v, ok := el.Attr("id"); ok && v != "" {
		return v
	}
	return FieldType(el) + "_" + itoa(IndexAmong(form, el, IsField))
}

// FieldLabel finds a human label: label[for=id], an enclosing label,
// aria-label, placeholder, then the field name.
func FieldLabel(form, el host.Element) string {
	if id, ok := el.Attr("id"); ok && id != "" {
		var label string
		Walk(form, func(cur host.Element) bool {
			if cur.TagName() == "label" {
				if f, _ := cur.Attr("for"); f == id {
					label = Text(cur)
					return false
				}
			}
			return true
		})
		if label != "" {
			return label
		}
	}
	if l := Closest(el, is("label")); l != nil {
		if t := Text(l); t != "" {
			return t
		}
	}
	for _, a := range []string{"aria-label", "placeholder", "title"} {
		if v, ok := el.Attr(a); ok && strings.TrimSpace(v) != "" {
			return truncate(strings.TrimSpace(v), maxText)
		}
	}
	return FieldName(form, el)
}

// IsRequired reports the required attribute or aria-required="true".
func IsRequired(el host.Element) bool {
	if _, ok := el.Attr("required"); ok {
		return true
	}
	v, _ := el.Attr("aria-required")
	return v == "true"
}

var (
	sensitiveFragments = []string{
		"password", "passwd", "secret", "cvv", "cvc", "ccnum", "cardnumber", "creditcard", "iban",
	}
	// Short words only match as whole tokens: "pin" must not match "shipping".
	sensitiveTokens = map[string]bool{"pin": true, "ssn": true, "token": true, "card": true, "cc": true}
)

// IsSensitive reports fields whose content must never be inspected or
// reported: passwords and payment or secret fields.
func IsSensitive(el host.Element) bool {
	if FieldType(el) == "password" {
		return true
	}
	if ac, ok := el.Attr("autocomplete"); ok {
		ac = strings.ToLower(ac)
		if strings.HasPrefix(ac, "cc-") || strings.Contains(ac, "password") || ac == "one-time-code" {
			return true
		}
	}
	for _, a := range []string{"name", "id"} {
		v, _ := el.Attr(a)
		v = strings.ToLower(v)
		if v == "" {
			continue
		}
		for _, w := range sensitiveFragments {
			if strings.Contains(v, w) {
				return true
			}
		}
		for _, tok := range strings.FieldsFunc(v, func(r rune) bool { return r == '-' || r == '_' || r == '.' || r == '[' || r == ']' }) {
			if sensitiveTokens[tok] {
				return true
			}
		}
	}
	return false
}

// HasValue reports whether a field holds user input: checked state for
// checkboxes and radios, a non-blank value otherwise.
func HasValue(el host.Element) bool {
	switch FieldType(el) {
	case "checkbox", "radio":
		_, ok := el.Attr("checked")
		return ok
	}
	return strings.TrimSpace(el.Value()) != ""
}

// FormOf returns the form owning a field: the form named by its form
// attribute, else its closest form ancestor.
func FormOf(doc host.Document, el host.Element) host.Element {
	if el == nil {
		return nil
	}
	if id, ok := el.Attr("form"); ok && id != "" && doc != nil {
		if f := doc.ElementByID(id); f != nil && f.TagName() == "form" {
			return f
		}
	}
	return Closest(el.Parent(), is("form"))
}

// Fields returns the form's fields in document order.
func Fields(form host.Element) []host.Element {
	var out []host.Element
	Walk(form, func(cur host.Element) bool {
		if cur != form && IsField(cur) {
			out = append(out, cur)
		}
		return true
	})
	return out
}

// Preceding returns the field immediately before el in document order,
// or nil.
func Preceding(form, el host.Element) host.Element {
	fields := Fields(form)
	for i, f := range fields {
		if f == el {
			if i == 0 {
				return nil
			}
			return fields[i-1]
		}
	}
	return nil
}

// FormID identifies a form: id, then name, then form_N by position in the
// document.
func FormID(doc host.Document, form host.Element) string {
	if v, ok := form.Attr("id"); ok && v != "" {
		return v
	}
	if v, ok := form.Attr("name"); ok && v != "" {
		return v
	}
	if doc != nil {
		if n := IndexAmong(doc.Root(), form, is("form")); n > 0 {
			return "form_" + itoa(n)
		}
	}
	return "form"
}
