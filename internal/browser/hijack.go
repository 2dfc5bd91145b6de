package browser

import (
	"net/http"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"exambridge/internal/intercept"
	"exambridge/internal/logging"
)

// requestFlow exposes a hijacked request to the interceptor.
type requestFlow struct {
	h *rod.Hijack
}

func (f requestFlow) Method() string { return f.h.Request.Method() }
func (f requestFlow) URL() string    { return f.h.Request.URL().String() }
func (f requestFlow) Body() []byte   { return []byte(f.h.Request.Body()) }

func (f requestFlow) SetBody(b []byte) {
	f.h.Request.SetBody(b)
	// The outgoing request was built with the original length.
	f.h.Request.Req().ContentLength = int64(len(b))
}

// responseFlow exposes a loaded response to the interceptor. Method and URL
// are those of the request that produced it.
type responseFlow struct {
	h *rod.Hijack
}

func (f responseFlow) Method() string   { return f.h.Request.Method() }
func (f responseFlow) URL() string      { return f.h.Request.URL().String() }
func (f responseFlow) Body() []byte     { return []byte(f.h.Response.Body()) }
func (f responseFlow) SetBody(b []byte) { f.h.Response.SetBody(b) }

var (
	_ intercept.Flow = requestFlow{}
	_ intercept.Flow = responseFlow{}
)

// hijack installs a router on page that passes matching traffic through the
// interceptor. The router runs until Stop.
func (m *SessionManager) hijack(page *rod.Page, sessionID string) (*rod.HijackRouter, error) {
	router := page.HijackRequests()
	if err := router.Add(m.cfg.GetInterceptPattern(), "", m.handleHijack(page, sessionID)); err != nil {
		return nil, err
	}
	go router.Run()
	logging.Browser("session %s: intercepting %s", sessionID, m.cfg.GetInterceptPattern())
	return router, nil
}

func (m *SessionManager) handleHijack(page *rod.Page, sessionID string) func(*rod.Hijack) {
	return func(h *rod.Hijack) {
		if m.interceptor != nil {
			m.interceptor.OnRequest(requestFlow{h: h})
		}

		// The paused request carries no cookies; Chrome adds them later in its
		// network stack. The replay from Go needs the page's session cookies.
		cookies, err := page.Cookies([]string{h.Request.URL().String()})
		if err != nil {
			logging.BrowserWarn("session %s: read cookies for %s: %v", sessionID, h.Request.URL(), err)
		}
		attachCookies(h.Request.Req(), cookies)

		if err := h.LoadResponse(m.client, true); err != nil {
			logging.BrowserWarn("session %s: %s %s failed: %v",
				sessionID, h.Request.Method(), h.Request.URL(), err)
			h.Response.Fail(proto.NetworkErrorReasonFailed)
			return
		}

		if m.interceptor != nil {
			m.interceptor.OnResponse(responseFlow{h: h})
		}
		m.touch(sessionID)
	}
}

// attachCookies adds cookies to req unless the request already names them.
func attachCookies(req *http.Request, cookies []*proto.NetworkCookie) {
	have := make(map[string]bool)
	for _, c := range req.Cookies() {
		have[c.Name] = true
	}
	for _, c := range cookies {
		if c == nil || have[c.Name] {
			continue
		}
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		have[c.Name] = true
	}
}
