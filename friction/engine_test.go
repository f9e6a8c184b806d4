package friction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/frictionwatch/dom"
	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/identity"
	"github.com/hazyhaar/frictionwatch/storage"
	"github.com/hazyhaar/frictionwatch/transport"
)

const shop = `<html><head><title>Shop</title></head><body>
<button id="buy">Buy</button>
<div id="promo" style="cursor:pointer">Summer sale</div>
<form id="checkout" name="checkout" action="/pay">
  <input id="a" name="a" required>
  <input id="b" name="b" required>
  <input id="c" name="c">
  <button type="submit" id="pay">Pay</button>
</form>
<div id="modal" class="modal" role="dialog">
  <form id="login"><input id="user" name="user"><input id="pass" type="password" name="pass"></form>
</div>
</body></html>`

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fakeCapturer struct {
	img []byte
	err error
}

func (f fakeCapturer) Capture(ctx context.Context, opts host.CaptureOptions) ([]byte, error) {
	return f.img, f.err
}

type chanPort chan []byte

func (c chanPort) PostMessage(origin string, data []byte) { c <- data }

type rig struct {
	doc   *dom.Document
	win   *dom.Window
	hist  *dom.History
	clock *host.FakeClock
	rec   *transport.Recorder
	port  chanPort
	logs  *syncBuffer
	e     *Engine
}

func newRig(t *testing.T, mutate func(*host.Environment, *Config)) *rig {
	t.Helper()
	r := &rig{
		doc:   dom.MustParse(shop),
		clock: host.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		rec:   &transport.Recorder{},
		port:  make(chanPort, 4),
		logs:  &syncBuffer{},
	}
	r.win = dom.NewWindow(host.PageInfo{
		URL:            "https://shop.test/cart",
		Referrer:       "https://search.test/",
		Title:          "Shop",
		ViewportWidth:  1280,
		ViewportHeight: 1000,
	})
	r.win.SetScroll(host.ScrollMetrics{ScrollHeight: 2000, ViewportHeight: 1000})
	r.hist = dom.NewHistory(r.win)

	env := host.Environment{
		Clock:        r.clock,
		Document:     r.doc,
		Page:         r.win,
		SessionStore: storage.NewMemory(),
		DurableStore: storage.NewMemory(),
		Mutations:    r.doc,
		Navigator:    r.hist,
		Capturer:     fakeCapturer{img: []byte("png-bytes")},
		Frames:       r.port,
	}
	cfg := Config{
		SiteID: "site-1",
		Sink:   r.rec,
		IDs:    identity.Sequence("ev"),
		Logger: slog.New(slog.NewTextHandler(r.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	if mutate != nil {
		mutate(&env, &cfg)
	}
	e, err := New(env, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.e = e
	e.Start()
	t.Cleanup(func() { e.Close() })
	return r
}

func (r *rig) el(id string) *dom.Node { return r.doc.NodeByID(id) }

func (r *rig) fill(id, v string) {
	n := r.el(id)
	r.e.FocusIn(n)
	n.SetValue(v)
	r.e.Change(n)
}

func (r *rig) types(from int) []envelope.Type {
	return r.rec.Types()[from:]
}

func TestNew_Validation(t *testing.T) {
	doc := dom.MustParse(shop)
	full := host.Environment{
		Clock:        host.NewFakeClock(time.Now()),
		Document:     doc,
		Page:         dom.NewWindow(host.PageInfo{URL: "https://x.test/"}),
		SessionStore: storage.NewMemory(),
		DurableStore: storage.NewMemory(),
	}
	sink := &transport.Recorder{}

	tests := []struct {
		name string
		env  func() host.Environment
		cfg  Config
		want error
	}{
		{"ok", func() host.Environment { return full }, Config{SiteID: "s", Sink: sink}, nil},
		{"no site", func() host.Environment { return full }, Config{Sink: sink}, ErrNoSiteID},
		{"no sink", func() host.Environment { return full }, Config{SiteID: "s"}, ErrMissingHost},
		{"no clock", func() host.Environment { e := full; e.Clock = nil; return e }, Config{SiteID: "s", Sink: sink}, ErrMissingHost},
		{"no storage", func() host.Environment { e := full; e.DurableStore = nil; return e }, Config{SiteID: "s", Sink: sink}, ErrMissingHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.env(), tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStart_PageView(t *testing.T) {
	r := newRig(t, nil)
	evs := r.rec.Events()
	if len(evs) != 1 || evs[0].EventType != envelope.TypePageView {
		t.Fatalf("events = %v, want one pageview", r.rec.Types())
	}
	ev := evs[0]
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	pv := ev.EventData.(envelope.PageView)
	if pv.Path != "/cart" || pv.Referrer != "https://search.test/" || pv.Title != "Shop" {
		t.Errorf("pageview = %+v", pv)
	}
	if ev.SiteID != "site-1" || ev.InteractionIndex != 1 || ev.DeviceType != envelope.DeviceDesktop {
		t.Errorf("envelope = %+v", ev)
	}
	r.e.Start()
	if n := len(r.rec.OfType(envelope.TypePageView)); n != 1 {
		t.Errorf("second Start emitted, pageviews = %d", n)
	}
}

func TestRageClick_Scenario(t *testing.T) {
	r := newRig(t, nil)
	buy := r.el("buy")

	r.e.Click(100, 100, buy)
	r.clock.Advance(100 * time.Millisecond)
	r.e.Click(110, 105, buy)
	r.clock.Advance(200 * time.Millisecond)
	r.e.Click(120, 95, buy)

	rages := r.rec.OfType(envelope.TypeRageClick)
	if len(rages) != 1 {
		t.Fatalf("rage_click = %d, want 1 (types %v)", len(rages), r.rec.Types())
	}
	rc := rages[0].EventData.(envelope.RageClick)
	if rc.ClickCount != 3 || rc.ElementSelector != "button#buy" || rc.TotalRageClicks != 1 {
		t.Errorf("rage_click = %+v", rc)
	}
	if n := len(r.rec.OfType(envelope.TypeClick)); n != 3 {
		t.Errorf("click = %d, want 3", n)
	}
	if n := len(r.rec.OfType(envelope.TypeDeadClick)); n != 0 {
		t.Errorf("dead_click = %d on a button", n)
	}
	if s := r.e.FrustrationStats(); s.RageClicks != 1 || s.Interactions != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestDeadClick(t *testing.T) {
	r := newRig(t, nil)
	r.e.Click(10, 10, r.el("promo"))

	dead := r.rec.OfType(envelope.TypeDeadClick)
	if len(dead) != 1 {
		t.Fatalf("dead_click = %d, want 1", len(dead))
	}
	d := dead[0].EventData.(envelope.DeadClick)
	if d.ElementSelector != "div#promo" || d.ElementText != "Summer sale" || d.TotalDeadClicks != 1 {
		t.Errorf("dead_click = %+v", d)
	}
}

func TestFieldSkip_Scenario(t *testing.T) {
	r := newRig(t, nil)
	r.fill("a", "Ada")
	r.e.FocusIn(r.el("b"))
	r.e.FocusIn(r.el("c"))

	skips := r.rec.OfType(envelope.TypeFormFieldSkip)
	if len(skips) != 1 {
		t.Fatalf("form_field_skip = %d, want 1 (types %v)", len(skips), r.rec.Types())
	}
	s := skips[0].EventData.(envelope.FormFieldSkip)
	if s.FormID != "checkout" || s.SkippedField != "b" || s.MovedToField != "c" {
		t.Errorf("form_field_skip = %+v", s)
	}
	if got := r.e.FrustrationStats().FieldSkips; got != 1 {
		t.Errorf("FieldSkips = %d, want 1", got)
	}
}

func TestModalRemoval_Scenario(t *testing.T) {
	r := newRig(t, nil)
	r.fill("user", "ada")
	r.el("modal").Remove()

	abandons := r.rec.OfType(envelope.TypeFormAbandonment)
	if len(abandons) != 1 {
		t.Fatalf("form_abandonment = %d, want 1", len(abandons))
	}
	a := abandons[0].EventData.(envelope.FormAbandonment)
	if a.Reason != envelope.ReasonFormRemoved || a.FormID != "login" || a.LastFieldInteracted != "user" {
		t.Errorf("form_abandonment = %+v", a)
	}

	r.e.Unload()
	if n := len(r.rec.OfType(envelope.TypeFormAbandonment)); n != 1 {
		t.Errorf("abandonment reported twice, total = %d", n)
	}
}

func TestScroll_Scenario(t *testing.T) {
	r := newRig(t, nil)
	for _, y := range []float64{100, 300, 600} {
		r.win.SetScroll(host.ScrollMetrics{ScrollY: y, ScrollHeight: 2000, ViewportHeight: 1000})
		r.e.Scroll()
		r.clock.Advance(100 * time.Millisecond)
	}

	var depths []int
	for _, ev := range r.rec.OfType(envelope.TypeScrollMilestone) {
		depths = append(depths, ev.EventData.(envelope.ScrollMilestone).Depth)
	}
	if len(depths) != 2 || depths[0] != 25 || depths[1] != 50 {
		t.Errorf("milestones = %v, want [25 50]", depths)
	}
	if n := len(r.rec.OfType(envelope.TypeScroll)); n != 0 {
		t.Fatalf("scroll summary before debounce: %d", n)
	}

	r.clock.Advance(500 * time.Millisecond)
	sums := r.rec.OfType(envelope.TypeScroll)
	if len(sums) != 1 {
		t.Fatalf("scroll = %d, want 1", len(sums))
	}
	if s := sums[0].EventData.(envelope.Scroll); s.Depth != 60 || s.MaxDepth != 60 {
		t.Errorf("scroll = %+v", s)
	}
}

func TestNavigation_FlushesAndResets(t *testing.T) {
	r := newRig(t, nil)
	r.fill("a", "Ada")
	r.e.Click(10, 10, r.el("promo"))
	before := len(r.rec.Events())
	lastIndex := r.rec.Events()[before-1].InteractionIndex

	r.clock.Advance(5 * time.Second)
	r.hist.Push("https://shop.test/checkout")

	got := r.types(before)
	want := []envelope.Type{
		envelope.TypeNavigation,
		envelope.TypeFormAbandonment,
		envelope.TypePageExit,
		envelope.TypePageView,
	}
	if len(got) != len(want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("types = %v, want %v", got, want)
		}
	}

	evs := r.rec.Events()[before:]
	nav := evs[0].EventData.(envelope.Navigation)
	if nav.From != "https://shop.test/cart" || nav.To != "https://shop.test/checkout" ||
		nav.Type != "pushState" || nav.TimeOnPreviousPage != 5000 {
		t.Errorf("navigation = %+v", nav)
	}
	if a := evs[1].EventData.(envelope.FormAbandonment); a.Reason != envelope.ReasonPageNavigation {
		t.Errorf("abandonment reason = %q", a.Reason)
	}
	exit := evs[2].EventData.(envelope.PageExit)
	if exit.DeadClicks != 1 || exit.FormAbandonments != 1 || exit.TimeOnPage != 5000 {
		t.Errorf("pageexit = %+v", exit)
	}
	pv := evs[3].EventData.(envelope.PageView)
	if pv.Path != "/checkout" || pv.Referrer != "https://shop.test/cart" {
		t.Errorf("pageview = %+v", pv)
	}
	for i, ev := range evs {
		if ev.InteractionIndex != lastIndex+uint64(i)+1 {
			t.Errorf("index[%d] = %d, want %d", i, ev.InteractionIndex, lastIndex+uint64(i)+1)
		}
	}
	if s := r.e.FrustrationStats(); s.DeadClicks != 0 || s.FormAbandonments != 0 || s.TimeOnPage != 0 {
		t.Errorf("stats not reset: %+v", s)
	}

	n := len(r.rec.Events())
	r.hist.Replace("https://shop.test/checkout")
	if len(r.rec.Events()) != n {
		t.Error("same-url navigation emitted events")
	}
}

func TestHashChange(t *testing.T) {
	r := newRig(t, nil)
	r.e.Click(10, 10, r.el("promo"))
	r.e.HashChange("https://shop.test/cart", "https://shop.test/cart#faq")

	hc := r.rec.OfType(envelope.TypeHashChange)
	if len(hc) != 1 || hc[0].EventData.(envelope.HashChange).To != "https://shop.test/cart#faq" {
		t.Fatalf("hashchange = %v", r.rec.Types())
	}
	if r.e.FrustrationStats().DeadClicks != 1 {
		t.Error("hashchange reset page stats")
	}
}

func TestVisibility(t *testing.T) {
	r := newRig(t, nil)
	r.fill("a", "Ada")
	r.clock.Advance(2 * time.Second)
	before := len(r.rec.Events())

	r.e.VisibilityChange(true)
	r.e.VisibilityChange(true)
	got := r.types(before)
	if len(got) != 3 || got[0] != envelope.TypeVisibility || got[1] != envelope.TypeFormAbandonment || got[2] != envelope.TypePageExit {
		t.Fatalf("types on hide = %v", got)
	}
	v := r.rec.Events()[before].EventData.(envelope.Visibility)
	if v.State != "hidden" || v.VisibleTime != 2000 {
		t.Errorf("visibility = %+v", v)
	}

	r.clock.Advance(10 * time.Second)
	r.e.VisibilityChange(false)
	vis := r.rec.OfType(envelope.TypeVisibility)
	if len(vis) != 2 {
		t.Fatalf("visibility = %d, want 2", len(vis))
	}
	if v := vis[1].EventData.(envelope.Visibility); v.State != "visible" || v.VisibleTime != 2000 {
		t.Errorf("visibility = %+v", v)
	}

	r.e.VisibilityChange(true)
	if n := len(r.rec.OfType(envelope.TypePageExit)); n != 2 {
		t.Errorf("pageexit = %d, want one per hide", n)
	}
}

func TestPageExit_AfterReturn(t *testing.T) {
	r := newRig(t, nil)
	r.e.VisibilityChange(true)
	r.e.VisibilityChange(false)

	r.e.Click(10, 10, r.el("promo"))
	r.clock.Advance(time.Second)
	r.e.Click(10, 10, r.el("promo"))
	r.fill("a", "Ada")
	before := len(r.rec.Events())

	r.hist.Push("https://shop.test/next")
	got := r.types(before)
	want := []envelope.Type{envelope.TypeNavigation, envelope.TypeFormAbandonment, envelope.TypePageExit, envelope.TypePageView}
	if !slices.Equal(got, want) {
		t.Fatalf("types on navigation = %v, want %v", got, want)
	}
	exits := r.rec.OfType(envelope.TypePageExit)
	if len(exits) != 2 {
		t.Fatalf("pageexit = %d, want 2", len(exits))
	}
	pe := exits[1].EventData.(envelope.PageExit)
	if pe.DeadClicks != 2 || pe.FormAbandonments != 1 {
		t.Errorf("pageexit after return = %+v", pe)
	}
}

func TestExitIntent_Once(t *testing.T) {
	r := newRig(t, nil)
	r.e.MouseLeave(400, 120)
	r.e.MouseLeave(400, 0)
	r.e.MouseLeave(400, -3)

	ex := r.rec.OfType(envelope.TypeExitIntent)
	if len(ex) != 1 {
		t.Fatalf("exit_intent = %d, want 1", len(ex))
	}
}

func TestEscape_AbandonsClosedDialog(t *testing.T) {
	r := newRig(t, nil)
	r.fill("user", "ada")

	r.e.KeyDown("Escape")
	r.el("modal").SetHidden(true)
	r.clock.Advance(299 * time.Millisecond)
	if n := len(r.rec.OfType(envelope.TypeFormAbandonment)); n != 0 {
		t.Fatalf("abandoned before grace delay")
	}
	r.clock.Advance(time.Millisecond)

	abandons := r.rec.OfType(envelope.TypeFormAbandonment)
	if len(abandons) != 1 {
		t.Fatalf("form_abandonment = %d, want 1", len(abandons))
	}
	if a := abandons[0].EventData.(envelope.FormAbandonment); a.Reason != envelope.ReasonEscapePressed {
		t.Errorf("reason = %q", a.Reason)
	}
}

func TestEscape_VisibleFormKept(t *testing.T) {
	r := newRig(t, nil)
	r.fill("user", "ada")
	r.e.KeyDown("Escape")
	r.clock.Advance(time.Second)
	if n := len(r.rec.OfType(envelope.TypeFormAbandonment)); n != 0 {
		t.Errorf("visible form abandoned on Escape")
	}
}

func TestSubmit(t *testing.T) {
	r := newRig(t, nil)
	r.fill("a", "Ada")
	r.clock.Advance(3 * time.Second)
	r.e.Submit(r.el("checkout"))

	subs := r.rec.OfType(envelope.TypeFormSubmit)
	if len(subs) != 1 {
		t.Fatalf("form_submit = %d", len(subs))
	}
	if s := subs[0].EventData.(envelope.FormSubmit); !s.Tracked || s.TimeToComplete != 3000 || s.FieldsInteractedCount != 1 {
		t.Errorf("form_submit = %+v", s)
	}
	r.e.Unload()
	if n := len(r.rec.OfType(envelope.TypeFormAbandonment)); n != 0 {
		t.Error("submitted form abandoned on unload")
	}
}

type panicky struct{ *dom.Node }

func (panicky) HasClickHandler() bool { panic("listener lookup failed") }

func TestHandlerPanic_OtherAnalyzersRun(t *testing.T) {
	r := newRig(t, nil)
	target := panicky{r.el("promo")}
	for i := 0; i < 3; i++ {
		r.e.Click(50, 50, target)
		r.clock.Advance(50 * time.Millisecond)
	}

	if n := len(r.rec.OfType(envelope.TypeClick)); n != 0 {
		t.Errorf("click = %d, want 0 (handler panics)", n)
	}
	if n := len(r.rec.OfType(envelope.TypeRageClick)); n != 1 {
		t.Errorf("rage_click = %d, want 1", n)
	}
	if !strings.Contains(r.logs.String(), "friction: handler failed") {
		t.Error("panic not logged")
	}

	r.e.Click(10, 10, r.el("promo"))
	if n := len(r.rec.OfType(envelope.TypeDeadClick)); n != 1 {
		t.Errorf("engine stopped after panic, dead_click = %d", n)
	}
}

func TestTrack_Sanitised(t *testing.T) {
	r := newRig(t, nil)
	r.e.Track("upgrade<b>!</b>", map[string]any{
		"plan":  "<script>alert(1)</script>Pro",
		"seats": 3,
		"tags":  []any{"<i>a</i>", true},
		"deep":  map[string]any{"l1": map[string]any{"l2": map[string]any{"l3": map[string]any{"l4": map[string]any{"l5": "x"}}}}},
	})
	r.e.Track("", nil)

	cs := r.rec.OfType(envelope.TypeCustom)
	if len(cs) != 1 {
		t.Fatalf("custom = %d, want 1", len(cs))
	}
	c := cs[0].EventData.(envelope.Custom)
	if c.Name != "upgrade!" || c.Data["plan"] != "Pro" || c.Data["seats"] != 3 {
		t.Errorf("custom = %+v", c)
	}
	if tags := c.Data["tags"].([]any); tags[0] != "a" || tags[1] != true {
		t.Errorf("tags = %v", tags)
	}
	raw, err := json.Marshal(c.Data["deep"])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "l5") {
		t.Errorf("depth limit not applied: %s", raw)
	}
}

func TestIdentify(t *testing.T) {
	r := newRig(t, nil)
	if ev := r.rec.Events()[0]; ev.UserID != "" {
		t.Fatalf("userId before identify = %q", ev.UserID)
	}
	r.e.Identify("u-42", map[string]any{"plan": "pro"})
	r.e.Track("after", nil)

	ids := r.rec.OfType(envelope.TypeIdentify)
	if len(ids) != 1 || ids[0].EventData.(envelope.Identify).UserID != "u-42" {
		t.Fatalf("identify = %v", r.rec.Types())
	}
	for _, ev := range r.rec.OfType(envelope.TypeCustom) {
		if ev.UserID != "u-42" {
			t.Errorf("custom userId = %q", ev.UserID)
		}
	}
	if r.e.SessionID() == "" || r.e.VisitorID() == "" || r.e.SessionID() == r.e.VisitorID() {
		t.Errorf("ids: session %q visitor %q", r.e.SessionID(), r.e.VisitorID())
	}
}

func TestReportFormAbandonment(t *testing.T) {
	r := newRig(t, nil)
	r.fill("a", "Ada")
	if !r.e.ReportFormAbandonment(r.el("checkout"), "") {
		t.Fatal("ReportFormAbandonment = false")
	}
	a := r.rec.OfType(envelope.TypeFormAbandonment)[0].EventData.(envelope.FormAbandonment)
	if a.Reason != envelope.ReasonManual {
		t.Errorf("reason = %q, want manual", a.Reason)
	}
	if r.e.ReportFormAbandonment(r.el("checkout"), "") {
		t.Error("second report emitted")
	}
}

func TestScreenshot_OnFriction(t *testing.T) {
	r := newRig(t, func(_ *host.Environment, c *Config) { c.Capture.OnFriction = true })
	r.e.Click(10, 10, r.el("promo"))
	if err := r.e.Close(); err != nil {
		t.Fatal(err)
	}

	shots := r.rec.Screenshots()
	if len(shots) != 1 {
		t.Fatalf("screenshots = %d, want 1", len(shots))
	}
	dead := r.rec.OfType(envelope.TypeDeadClick)[0]
	s := shots[0]
	if s.EventID != dead.EventID || string(s.Image) != "png-bytes" || s.Format != "png" || s.SiteID != "site-1" {
		t.Errorf("screenshot = %+v", s)
	}
	if !r.rec.Closed() {
		t.Error("sink not closed")
	}
}

func TestTakeScreenshot_Delay(t *testing.T) {
	r := newRig(t, nil)
	r.e.TakeScreenshot("ev-x", host.CaptureOptions{Format: "jpeg", Delay: time.Second})
	if r.clock.Pending() == 0 {
		t.Fatal("delayed capture not scheduled")
	}
	r.clock.Advance(time.Second)
	r.e.Close()
	shots := r.rec.Screenshots()
	if len(shots) != 1 || shots[0].Format != "jpeg" || shots[0].EventID != "ev-x" {
		t.Errorf("screenshots = %+v", shots)
	}
}

func TestCaptureScreenshot_Errors(t *testing.T) {
	r := newRig(t, func(env *host.Environment, _ *Config) { env.Capturer = nil })
	if _, err := r.e.CaptureScreenshot(context.Background(), host.CaptureOptions{}); !errors.Is(err, ErrNoCapturer) {
		t.Errorf("err = %v, want ErrNoCapturer", err)
	}

	boom := errors.New("target closed")
	r2 := newRig(t, func(env *host.Environment, _ *Config) { env.Capturer = fakeCapturer{err: boom} })
	if _, err := r2.e.CaptureScreenshot(context.Background(), host.CaptureOptions{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(r2.logs.String(), "friction: capture failed") {
		t.Error("capture failure not logged")
	}
}

func TestHandleFrameMessage(t *testing.T) {
	r := newRig(t, func(_ *host.Environment, c *Config) {
		c.Capture.AllowedOrigins = []string{"https://parent.test"}
	})
	req := []byte(`{"type":"frictionwatch:capture-request","requestId":"r1","options":{"format":"png"}}`)

	if err := r.e.HandleFrameMessage(context.Background(), "https://evil.test", req); !errors.Is(err, ErrOriginDenied) {
		t.Fatalf("err = %v, want ErrOriginDenied", err)
	}
	if err := r.e.HandleFrameMessage(context.Background(), "https://parent.test", []byte(`{"type":"other"}`)); err != nil {
		t.Fatalf("unrelated message: %v", err)
	}
	if err := r.e.HandleFrameMessage(context.Background(), "https://parent.test", req); err != nil {
		t.Fatalf("HandleFrameMessage: %v", err)
	}

	select {
	case raw := <-r.port:
		var resp FrameMessage
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Type != MsgCaptureResponse || resp.RequestID != "r1" || !resp.OK || string(resp.Image) != "png-bytes" {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no capture response")
	}
}

func TestUnload(t *testing.T) {
	r := newRig(t, nil)
	r.fill("a", "Ada")
	r.e.Unload()

	exits := r.rec.OfType(envelope.TypePageExit)
	if len(exits) != 1 {
		t.Fatalf("pageexit = %d", len(exits))
	}
	if a := r.rec.OfType(envelope.TypeFormAbandonment); len(a) != 1 ||
		a[0].EventData.(envelope.FormAbandonment).Reason != envelope.ReasonPageExit {
		t.Errorf("abandonment on unload = %v", a)
	}
	if !r.rec.Closed() {
		t.Error("transport not closed")
	}
	n := len(r.rec.Events())
	r.e.Click(10, 10, r.el("promo"))
	if len(r.rec.Events()) != n {
		t.Error("input handled after unload")
	}
}

func TestEnvelopesValidate(t *testing.T) {
	r := newRig(t, nil)
	r.fill("a", "Ada")
	r.e.Click(10, 10, r.el("promo"))
	r.e.MouseLeave(5, 0)
	r.hist.Push("https://shop.test/next")
	r.e.Unload()
	for _, ev := range r.rec.Events() {
		if err := ev.Validate(); err != nil {
			t.Errorf("%s: %v", ev.EventType, err)
		}
	}
}
