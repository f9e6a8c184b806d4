package browserhost

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Config names for the common CDP resource types. Any other name is
// matched against the CDP type itself ("xhr", "fetch", "script", ...).
var resourceAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blocklist holds lowercased CDP resource types. Documents are never
// blocked: the shim needs the page itself.
type blocklist map[string]bool

func newBlocklist(names []string) blocklist {
	b := make(blocklist, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if t, ok := resourceAliases[name]; ok {
			name = strings.ToLower(string(t))
		}
		if name != "" && name != "document" {
			b[name] = true
		}
	}
	return b
}

func (b blocklist) blocks(t proto.NetworkResourceType) bool {
	return b[strings.ToLower(string(t))]
}

// hijack fails blocked requests on page. It returns nil when nothing is
// blocked; otherwise the router must be stopped when the tab closes.
func (b blocklist) hijack(page *rod.Page) *rod.HijackRouter {
	if len(b) == 0 {
		return nil
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if b.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
