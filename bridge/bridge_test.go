package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/frictionwatch/envelope"
	"github.com/hazyhaar/frictionwatch/friction"
	"github.com/hazyhaar/frictionwatch/host"
	"github.com/hazyhaar/frictionwatch/shim"
	"github.com/hazyhaar/frictionwatch/storage"
	"github.com/hazyhaar/frictionwatch/transport"
)

const checkout = `<html><head><title>Checkout</title></head><body>
<span id="fake" class="btn">Continue</span>
<form id="pay"><input name="card" required><input name="zip"></form>
</body></html>`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server, *transport.Recorder) {
	t.Helper()
	rec := transport.NewRecorder()
	cfg := Config{
		Engine: friction.Config{SiteID: "shop", Sink: rec},
		Logger: quiet,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts, rec
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func openPage(t *testing.T, ts *httptest.Server, req OpenRequest) OpenResponse {
	t.Helper()
	if req.HTML == "" {
		req.HTML = checkout
	}
	if req.Info.URL == "" {
		req.Info = host.PageInfo{URL: "https://shop.test/checkout", Title: "Checkout", ViewportWidth: 1280, ViewportHeight: 800}
	}
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/pages", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: status %d: %s", resp.StatusCode, body)
	}
	var out OpenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHealthAndScript(t *testing.T) {
	_, ts, _ := newServer(t, nil)
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("healthz = %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, ts.URL+"/v1/shim.js", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), shim.BindingName) {
		t.Errorf("shim.js = %d, %d bytes", resp.StatusCode, len(body))
	}
}

func TestOpenRecordsStats(t *testing.T) {
	_, ts, rec := newServer(t, nil)
	page := openPage(t, ts, OpenRequest{})

	if !strings.HasPrefix(page.PageID, "pg_") || page.SessionID == "" || page.VisitorID == "" {
		t.Fatalf("open = %+v", page)
	}
	if page.Records != "/v1/pages/"+page.PageID+"/records" {
		t.Errorf("records path = %q", page.Records)
	}
	if n := len(rec.OfType(envelope.TypePageView)); n != 1 {
		t.Errorf("pageview = %d, want 1", n)
	}

	resp, body := do(t, http.MethodPost, ts.URL+page.Records,
		`[{"type":"click","xpath":"/html/body/span","x":10,"y":10},{"type":"click","xpath":"/html/body/nav[9]","x":1,"y":1},{"type":"focus","xpath":"/html/body/nav[9]"}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("records: %d %s", resp.StatusCode, body)
	}
	var res shim.Result
	json.Unmarshal(body, &res)
	if res.Applied != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/pages/"+page.PageID+"/stats", nil)
	var st StatsResponse
	if err := json.Unmarshal(body, &st); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", resp.StatusCode, body)
	}
	if st.Stats.DeadClicks != 1 || st.URL != "https://shop.test/checkout" {
		t.Errorf("stats = %+v", st)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/v1/pages", nil)
	var list PagesResponse
	json.Unmarshal(body, &list)
	if len(list.Pages) != 1 || list.Pages[0].ID != page.PageID || list.Pages[0].Records != 3 {
		t.Errorf("pages = %+v", list)
	}
}

func TestErrors(t *testing.T) {
	_, ts, _ := newServer(t, func(c *Config) { c.MaxBody = 512 })
	page := openPage(t, ts, OpenRequest{HTML: "<html><body></body></html>"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad json", http.MethodPost, "/v1/pages", `{"html":`, http.StatusBadRequest},
		{"no url", http.MethodPost, "/v1/pages", `{"html":"<p>x</p>"}`, http.StatusBadRequest},
		{"unknown page records", http.MethodPost, "/v1/pages/nope/records", `[]`, http.StatusNotFound},
		{"unknown page stats", http.MethodGet, "/v1/pages/nope/stats", nil, http.StatusNotFound},
		{"unknown page delete", http.MethodDelete, "/v1/pages/nope", nil, http.StatusNotFound},
		{"bad records", http.MethodPost, page.Records, `{"type":`, http.StatusBadRequest},
		{"too large", http.MethodPost, page.Records, `[{"type":"move","value":"` + strings.Repeat("x", 1024) + `"}]`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.want, body)
			}
			if !strings.Contains(string(body), `"error"`) {
				t.Errorf("body lacks error: %s", body)
			}
		})
	}
}

func TestMaxPages(t *testing.T) {
	srv, ts, _ := newServer(t, func(c *Config) { c.MaxPages = 1 })
	openPage(t, ts, OpenRequest{})
	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/pages", OpenRequest{PageInit: shim.PageInit{Info: host.PageInfo{URL: "https://shop.test/"}}})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second open = %d, want 503", resp.StatusCode)
	}
	if n := len(srv.Pages()); n != 1 {
		t.Errorf("pages = %d", n)
	}
}

func TestMaxPages_Concurrent(t *testing.T) {
	srv, _, _ := newServer(t, func(c *Config) { c.MaxPages = 3 })

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		opened   int
		rejected int
	)
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.Open(OpenRequest{PageInit: shim.PageInit{HTML: checkout, Info: host.PageInfo{URL: "https://shop.test/"}}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, ErrFull):
				rejected++
			default:
				t.Errorf("Open: %v", err)
			}
		}()
	}
	wg.Wait()
	if opened != 3 || rejected != 9 {
		t.Errorf("opened %d, rejected %d; want 3 and 9", opened, rejected)
	}
	if n := len(srv.Pages()); n != 3 {
		t.Errorf("pages = %d, want 3", n)
	}
}

func TestDeleteFlushes(t *testing.T) {
	_, ts, rec := newServer(t, nil)
	page := openPage(t, ts, OpenRequest{})
	do(t, http.MethodPost, ts.URL+page.Records, `[
		{"type":"focus","xpath":"/html/body/form/input[1]"},
		{"type":"change","xpath":"/html/body/form/input[1]","value":"4242"}
	]`)

	resp, _ := do(t, http.MethodDelete, ts.URL+"/v1/pages/"+page.PageID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	ab := rec.OfType(envelope.TypeFormAbandonment)
	if len(ab) != 1 || ab[0].EventData.(envelope.FormAbandonment).Reason != envelope.ReasonPageExit {
		t.Errorf("abandonment = %v", rec.Types())
	}
	if n := len(rec.OfType(envelope.TypePageExit)); n != 1 {
		t.Errorf("pageexit = %d", n)
	}
	if rec.Closed() {
		t.Error("closing one page closed the shared sink")
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/v1/pages/"+page.PageID+"/stats", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("stats after delete = %d", resp.StatusCode)
	}
}

func TestUnloadThenSweep(t *testing.T) {
	srv, ts, _ := newServer(t, nil)
	page := openPage(t, ts, OpenRequest{})

	if resp, body := do(t, http.MethodPost, ts.URL+page.Records, `[{"type":"unload"}]`); resp.StatusCode != http.StatusOK {
		t.Fatalf("unload = %d %s", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodPost, ts.URL+page.Records, `[{"type":"move","x":1,"y":1}]`); resp.StatusCode != http.StatusGone {
		t.Errorf("records after unload = %d, want 410", resp.StatusCode)
	}
	if n := srv.Sweep(); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
}

func TestSweepIdle(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := host.NewFakeClock(start)
	srv, ts, rec := newServer(t, func(c *Config) {
		c.Clock = clock
		c.IdleTimeout = time.Minute
	})
	page := openPage(t, ts, OpenRequest{})

	if n := srv.Sweep(); n != 0 {
		t.Fatalf("fresh page evicted: %d", n)
	}
	// Activity is measured on the bridge clock, not the wall clock.
	clock.Advance(50 * time.Second)
	do(t, http.MethodPost, ts.URL+page.Records, `[{"type":"move","x":1,"y":1}]`)
	clock.Advance(50 * time.Second)
	if n := srv.Sweep(); n != 0 {
		t.Fatalf("active page evicted: %d", n)
	}
	if info := srv.Pages()[0]; !info.LastSeen.Equal(start.Add(50 * time.Second)) {
		t.Errorf("last seen = %v, want %v", info.LastSeen, start.Add(50*time.Second))
	}

	clock.Advance(2 * time.Minute)
	if n := srv.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if len(srv.Pages()) != 0 || len(rec.OfType(envelope.TypePageExit)) != 1 {
		t.Errorf("pages = %d, types %v", len(srv.Pages()), rec.Types())
	}
}

func TestVisitorPersists(t *testing.T) {
	db := storage.OpenMemory(t)
	_, ts, _ := newServer(t, func(c *Config) { c.DB = db })

	a := openPage(t, ts, OpenRequest{Tab: "t1", Visitor: "v1"})
	b := openPage(t, ts, OpenRequest{Tab: "t1", Visitor: "v1"})
	c := openPage(t, ts, OpenRequest{Tab: "t2", Visitor: "v2"})

	if a.VisitorID != b.VisitorID || a.SessionID != b.SessionID {
		t.Errorf("same tokens gave %+v and %+v", a, b)
	}
	if c.VisitorID == a.VisitorID || c.SessionID == a.SessionID {
		t.Errorf("other tokens shared ids: %+v", c)
	}
	if a.PageID == b.PageID {
		t.Error("page ids collide")
	}
}

func TestCORS(t *testing.T) {
	_, ts, _ := newServer(t, func(c *Config) { c.AllowedOrigins = []string{"https://shop.test"} })

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/v1/pages", nil)
	req.Header.Set("Origin", "https://shop.test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://shop.test" {
		t.Errorf("preflight = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://evil.test")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin = %d, want 403", resp.StatusCode)
	}
}

func TestMessages(t *testing.T) {
	_, ts, _ := newServer(t, func(c *Config) {
		c.Engine.Capture.AllowedOrigins = []string{"https://admin.test"}
	})
	page := openPage(t, ts, OpenRequest{})
	url := ts.URL + "/v1/pages/" + page.PageID + "/messages"

	resp, body := do(t, http.MethodPost, url, MessageRequest{
		Origin: "https://admin.test",
		Data:   json.RawMessage(`{"type":"frictionwatch:capture-request","requestId":"r1"}`),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture request = %d %s", resp.StatusCode, body)
	}
	var m shim.Message
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatal(err)
	}
	var reply friction.FrameMessage
	json.Unmarshal(m.Data, &reply)
	if m.Origin != "https://admin.test" || reply.Type != friction.MsgCaptureResponse || reply.RequestID != "r1" || reply.OK || reply.Error == "" {
		t.Errorf("reply = %+v %+v", m, reply)
	}

	resp, _ = do(t, http.MethodPost, url, MessageRequest{
		Origin: "https://evil.test",
		Data:   json.RawMessage(`{"type":"frictionwatch:capture-request","requestId":"r2"}`),
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("denied origin = %d, want 403", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, url, MessageRequest{Origin: "https://admin.test", Data: json.RawMessage(`{"type":"ping"}`)})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("other message = %d, want 202", resp.StatusCode)
	}
}

func TestTrack(t *testing.T) {
	_, ts, rec := newServer(t, nil)
	page := openPage(t, ts, OpenRequest{})
	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/pages/"+page.PageID+"/track",
		TrackRequest{UserID: "u-9", Name: "coupon_applied", Data: map[string]any{"code": "<b>SAVE</b>"}})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("track = %d", resp.StatusCode)
	}
	custom := rec.OfType(envelope.TypeCustom)
	if len(custom) != 1 || custom[0].UserID != "u-9" {
		t.Fatalf("custom = %v", rec.Types())
	}
	if got := custom[0].EventData.(envelope.Custom).Data["code"]; got != "SAVE" {
		t.Errorf("data not sanitised: %v", got)
	}
	if n := len(rec.OfType(envelope.TypeIdentify)); n != 1 {
		t.Errorf("identify = %d", n)
	}
}

func TestEchoCollector(t *testing.T) {
	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	defer ts.Close()

	beacon := transport.NewBeacon(ts.URL+"/v1/collect",
		transport.WithGzip(true),
		transport.WithPayloadLimit(1),
		transport.WithBeaconLogger(quiet))
	srv := New(Config{
		Engine: friction.Config{SiteID: "shop", Sink: beacon},
		Echo:   true,
		Logger: quiet,
	})
	handler = srv.Handler()

	page := openPage(t, ts, OpenRequest{})
	do(t, http.MethodDelete, ts.URL+"/v1/pages/"+page.PageID, nil)
	beacon.Close()

	if st := beacon.Stats(); st.Delivered != 2 || st.Failed != 0 {
		t.Errorf("beacon = %+v", st)
	}
	_, body := do(t, http.MethodGet, ts.URL+"/v1/collect/stats", nil)
	var st EchoStats
	json.Unmarshal(body, &st)
	if st.Events[envelope.TypePageView] != 1 || st.Events[envelope.TypePageExit] != 1 || st.Invalid != 0 {
		t.Errorf("echo = %+v", st)
	}

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/collect", `{"eventType":"teleport"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid envelope = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/collect/screenshots", transport.Screenshot{EventID: "e1", Format: "png", Image: []byte{1, 2}})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("screenshot = %d", resp.StatusCode)
	}
	if st := srv.echo.snapshot(); st.Invalid != 1 || st.Screenshots != 1 {
		t.Errorf("echo = %+v", st)
	}
}

var testMCPImpl = &mcp.Implementation{Name: "frictionwatch-test", Version: "0.1.0"}

func mcpSession(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.MCP().Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func TestMCPTools(t *testing.T) {
	srv, _, _ := newServer(t, nil)
	open, err := srv.Open(OpenRequest{PageInit: shim.PageInit{
		HTML: checkout,
		Info: host.PageInfo{URL: "https://shop.test/checkout"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	session := mcpSession(t, srv)

	res := callTool(t, session, "frictionwatch_pages", map[string]any{})
	if res.IsError {
		t.Fatalf("pages tool error: %v", res.Content)
	}
	var pages PagesResponse
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &pages); err != nil {
		t.Fatal(err)
	}
	if len(pages.Pages) != 1 || pages.Pages[0].SessionID != open.SessionID {
		t.Errorf("pages = %+v", pages)
	}

	res = callTool(t, session, "frictionwatch_stats", map[string]any{"page_id": open.PageID})
	if res.IsError {
		t.Fatalf("stats tool error: %v", res.Content)
	}
	var st StatsResponse
	json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &st)
	if st.PageID != open.PageID || st.URL != "https://shop.test/checkout" {
		t.Errorf("stats = %+v", st)
	}

	if res := callTool(t, session, "frictionwatch_stats", map[string]any{"page_id": "missing"}); !res.IsError {
		t.Error("unknown page did not return a tool error")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEndpointLogging(t *testing.T) {
	logs := &lockedBuffer{}
	_, ts, _ := newServer(t, func(c *Config) {
		c.Logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})
	page := openPage(t, ts, OpenRequest{})

	resp, _ := do(t, http.MethodGet, ts.URL+"/v1/pages/"+page.PageID+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats = %d", resp.StatusCode)
	}
	out := logs.String()
	for _, want := range []string{"endpoint=stats", "transport=http", "page_id=" + page.PageID, "remote_addr=127.0.0.1:"} {
		if !strings.Contains(out, want) {
			t.Errorf("log lacks %q:\n%s", want, out)
		}
	}
}
