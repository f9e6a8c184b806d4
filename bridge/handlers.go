package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/frictionwatch/friction"
	"github.com/hazyhaar/frictionwatch/kit"
	"github.com/hazyhaar/frictionwatch/shim"
)

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		n := len(s.pages)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pages": n})
	})
	r.Get("/v1/shim.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		io.WriteString(w, shim.Script)
	})

	r.Route("/v1/pages", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleOpen)
		r.Route("/{pageID}", func(r chi.Router) {
			r.Use(s.pageContext)
			r.Post("/records", s.handleRecords)
			r.Get("/stats", s.handleStats)
			r.Post("/messages", s.handleMessage)
			r.Post("/track", s.handleTrack)
			r.Delete("/", s.handleClose)
		})
	})

	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil))

	if s.echo != nil {
		r.Route("/v1/collect", func(r chi.Router) {
			r.Post("/", s.echo.handleEvent)
			r.Post("/screenshots", s.echo.handleScreenshot)
			r.Get("/stats", s.echo.handleStats)
		})
	}
	return r
}

func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBody)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) pageContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithPageID(r.Context(), chi.URLParam(r, "pageID"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cors echoes allowed page origins. Instrumented pages post to the bridge
// from their own origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.originAllowed(origin) {
				writeError(w, http.StatusForbidden, fmt.Errorf("origin %q not allowed", origin))
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return len(s.cfg.AllowedOrigins) == 0 ||
		slices.Contains(s.cfg.AllowedOrigins, "*") ||
		slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if req.Info.URL == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("info.url is required"))
		return
	}
	resp, err := s.Open(req)
	if err != nil {
		s.logger.Warn("bridge: open page", "url", req.Info.URL, "error", err)
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	p, err := s.get(kit.GetPageID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, statusOf(err), fmt.Errorf("read body: %w", err))
		return
	}
	recs, err := shim.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p.touch(s.cfg.Clock.Now())
	res, err := p.session.Apply(recs)
	if errors.Is(err, shim.ErrClosed) {
		// The page unloaded; the registry forgets it on the next sweep.
		writeJSON(w, http.StatusGone, map[string]any{"applied": res.Applied, "skipped": res.Skipped, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp, err := s.stats(r.Context(), StatsRequest{PageID: kit.GetPageID(r.Context())})
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	resp, err := s.list(r.Context(), PagesRequest{})
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MessageRequest carries a frame message posted by another frame.
type MessageRequest struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// handleMessage forwards a frame message. Capture requests wait for the
// engine's response; other messages are accepted without a reply.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	p, err := s.get(kit.GetPageID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var req MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	var head friction.FrameMessage
	if err := json.Unmarshal(req.Data, &head); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode message: %w", err))
		return
	}

	var (
		reply <-chan shim.Message
		done  = func() {}
	)
	p.touch(s.cfg.Clock.Now())
	if head.Type == friction.MsgCaptureRequest {
		reply, done = p.wait(head.RequestID)
	}
	defer done()

	if err := p.session.HandleMessage(r.Context(), req.Origin, req.Data); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if reply == nil {
		writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.MessageTimeout)
	defer cancel()
	select {
	case m := <-reply:
		writeJSON(w, http.StatusOK, m)
	case <-ctx.Done():
		writeError(w, http.StatusGatewayTimeout, fmt.Errorf("no response for request %q", head.RequestID))
	}
}

// TrackRequest is a custom event or identify call from the page.
type TrackRequest struct {
	Name   string         `json:"name,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	UserID string         `json:"userId,omitempty"`
	Traits map[string]any `json:"traits,omitempty"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	p, err := s.get(kit.GetPageID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var req TrackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if p.session.Closed() {
		writeError(w, http.StatusGone, shim.ErrClosed)
		return
	}
	p.touch(s.cfg.Clock.Now())
	if req.UserID != "" {
		p.session.Identify(req.UserID, req.Traits)
	}
	if req.Name != "" {
		p.session.Track(req.Name, req.Data)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.Remove(kit.GetPageID(r.Context())); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func statusOf(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, shim.ErrClosed):
		return http.StatusGone
	case errors.Is(err, friction.ErrOriginDenied):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntax) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
