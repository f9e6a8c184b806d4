package elem

import (
	"testing"

	"github.com/hazyhaar/frictionwatch/dom"
	"github.com/hazyhaar/frictionwatch/host"
)

const page = `<html><body>
<div id="app">
  <div class="product-card"><span id="price">42</span></div>
  <span id="deco" style="cursor:pointer">*</span>
  <a id="more" href="/more"><span id="more-label">More</span></a>
  <div id="js" onclick="go()">Go</div>
  <div role="button" id="rb">Role</div>
  <img id="hero" src="x.png">
  <p id="plain">text</p>
</div>
<div class="modal" id="dlg">
  <form id="signup">
    <label for="email">Email address</label>
    <input id="email" name="email" required>
    <label>Phone <input name="phone" aria-required="true"></label>
    <input type="password" name="pw" required>
    <input name="shipping_address" placeholder="Street">
    <input type="hidden" name="csrf" value="t">
    <select name="plan"><option value="">-</option><option value="pro">Pro</option></select>
    <input type="checkbox" name="tos" required>
    <button type="button" class="btn-close" aria-label="Close dialog">x</button>
    <button type="submit">Sign up</button>
  </form>
</div>
<input id="outside" form="signup" name="promo">
</body></html>`

func doc(t *testing.T) *dom.Document {
	t.Helper()
	return dom.MustParse(page)
}

func TestClickability(t *testing.T) {
	d := doc(t)
	cases := []struct {
		id          string
		looks, acts bool
	}{
		{"price", false, false},
		{"deco", true, false},
		{"more-label", false, true},
		{"js", false, true},
		{"rb", false, true},
		{"hero", true, false},
		{"plain", false, false},
	}
	for _, tc := range cases {
		el := d.ElementByID(tc.id)
		if got := LooksClickable(el); got != tc.looks {
			t.Errorf("LooksClickable(#%s) = %v, want %v", tc.id, got, tc.looks)
		}
		if got := IsActuallyClickable(el); got != tc.acts {
			t.Errorf("IsActuallyClickable(#%s) = %v, want %v", tc.id, got, tc.acts)
		}
	}
	// The card marker is on the parent; the span itself carries no affordance.
	card := d.ElementByID("price").Parent()
	if !LooksClickable(card) {
		t.Error("product-card should look clickable")
	}
}

func TestSelectorPathText(t *testing.T) {
	d := doc(t)
	el := d.ElementByID("price")
	if got := Selector(el.Parent()); got != "div.product-card" {
		t.Errorf("Selector = %q", got)
	}
	if got := Path(el); got != "div#app > div.product-card > span#price" {
		t.Errorf("Path = %q", got)
	}
	if got := Text(d.ElementByID("more")); got != "More" {
		t.Errorf("Text = %q", got)
	}
}

func TestFields(t *testing.T) {
	d := doc(t)
	form := d.ElementByID("signup")
	fields := Fields(form)
	var names []string
	for _, f := range fields {
		names = append(names, FieldName(form, f))
	}
	want := []string{"email", "phone", "pw", "shipping_address", "plan", "tos"}
	if len(names) != len(want) {
		t.Fatalf("fields = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("fields = %v, want %v", names, want)
		}
	}

	email, phone := fields[0], fields[1]
	if FieldLabel(form, email) != "Email address" {
		t.Errorf("label for email = %q", FieldLabel(form, email))
	}
	if got := FieldLabel(form, phone); got != "Phone" {
		t.Errorf("label for phone = %q", got)
	}
	if got := FieldLabel(form, fields[3]); got != "Street" {
		t.Errorf("placeholder label = %q", got)
	}
	if !IsRequired(email) || !IsRequired(phone) || IsRequired(fields[3]) {
		t.Error("IsRequired mismatch")
	}
	if !IsSensitive(fields[2]) || IsSensitive(fields[3]) {
		t.Error("IsSensitive mismatch (password vs shipping)")
	}
	if Preceding(form, phone) != email || Preceding(form, email) != nil {
		t.Error("Preceding mismatch")
	}
	if HasValue(fields[4]) || HasValue(fields[5]) {
		t.Error("empty select/checkbox reported a value")
	}
}

func TestFormOfAndID(t *testing.T) {
	d := doc(t)
	form := d.ElementByID("signup")
	if FormOf(d, d.ElementByID("email")) != form {
		t.Error("FormOf(email) is not #signup")
	}
	if FormOf(d, d.ElementByID("outside")) != form {
		t.Error("form attribute not honoured")
	}
	if FormOf(d, d.ElementByID("price")) != nil {
		t.Error("FormOf outside a form should be nil")
	}
	if FormID(d, form) != "signup" {
		t.Errorf("FormID = %q", FormID(d, form))
	}
	anon := dom.MustParse(`<html><body><form></form><form></form></body></html>`)
	forms := anon.ElementsByTag("form")
	if got := FormID(anon, forms[1]); got != "form_2" {
		t.Errorf("anonymous FormID = %q", got)
	}
}

func TestCancelControlAndScope(t *testing.T) {
	d := doc(t)
	form := d.ElementByID("signup")
	var closeBtn, submit host.Element
	for _, b := range d.ElementsByTag("button") {
		if c, _ := b.Attr("class"); c == "btn-close" {
			closeBtn = b
		} else {
			submit = b
		}
	}
	if CancelControl(closeBtn) != closeBtn {
		t.Error("close button not recognised")
	}
	if CancelControl(submit) != nil {
		t.Error("submit button read as cancel")
	}
	if Scope(closeBtn) != form {
		t.Error("scope of close button should be the form")
	}
	if !IsDialog(d.ElementByID("dlg")) {
		t.Error(".modal not recognised as dialog")
	}
	if !Contains(d.ElementByID("dlg"), form) || Contains(form, d.ElementByID("dlg")) {
		t.Error("Contains mismatch")
	}
	fb := dom.MustParse(`<html><body><button class="feedback">Send feedback</button></body></html>`)
	if CancelControl(fb.ElementsByTag("button")[0]) != nil {
		t.Error("feedback matched the back marker")
	}
}
