package httpc

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// UserAgent identifies harness requests in application logs
const UserAgent = "sessprobe"

// Httpc describes how harness HTTP clients are built.
// A zero value produces a plain resty client without a cookie jar.
type Httpc struct {
	BaseURL string
	Timeout time.Duration
	// Jar, when set, is shared by every request issued through the client.
	// Cookies set by response n are sent with request n+1.
	Jar http.CookieJar
	// NoRedirect makes the client return 3xx responses instead of following them
	NoRedirect bool
}

// New returns a resty.Client configured according to the receiver's settings
func (h *Httpc) New() *resty.Client {
	c := resty.New().SetHeader("User-Agent", UserAgent)
	if h.BaseURL != "" {
		c.SetBaseURL(strings.TrimRight(h.BaseURL, "/"))
	}
	if h.Timeout > 0 {
		c.SetTimeout(h.Timeout)
	}
	if h.Jar != nil {
		c.SetCookieJar(h.Jar)
	}
	if h.NoRedirect {
		c.SetRedirectPolicy(resty.NoRedirectPolicy())
	}
	return c
}

// NewSessionClient builds a client with a fresh cookie jar rooted at baseURL.
// The jar is returned so callers can inspect session cookies after each request.
func NewSessionClient(baseURL string, timeout time.Duration) (*resty.Client, http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create cookie jar: %w", err)
	}
	h := &Httpc{BaseURL: baseURL, Timeout: timeout, Jar: jar}
	return h.New(), jar, nil
}
