package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// DefaultMaxRedirects bounds how many Location hops Send will follow.
const DefaultMaxRedirects = 10

// The service signals planned downtime by redirecting to a marker page
// instead of answering the request. Following it further is pointless.
const unavailableMarker = "ServiceUnavailable"

var (
	ErrTooManyRedirects = errors.New("transport: too many redirects")
	ErrUnavailable      = errors.New("transport: service unavailable")
)

// Response is a fully drained HTTP response.
type Response struct {
	Code   int
	Reason string
	Body   []byte
}

// StatusError carries a non-2xx response so callers can inspect the body,
// e.g. for batch-level 400 diagnostics.
type StatusError struct {
	Response Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: server returned %d %s", e.Response.Code, e.Response.Reason)
}

// Config controls a Client. DumpWriter, when set, receives raw request and
// response payloads (replaces any ambient debug toggle).
type Config struct {
	BaseURL      string
	UserAgent    string
	MaxRedirects int
	TLS          *tls.Config
	DumpWriter   io.Writer
}

// Client is a persistent HTTPS client for one service host. It owns its
// underlying connection exclusively; reconnecting after a peer-side close is
// internal and the Client is not safe for concurrent use.
type Client struct {
	base         *url.URL
	hc           *http.Client
	userAgent    string
	maxRedirects int
	auth         string
	dump         io.Writer
}

// Open parses the base URL and prepares a client with a single reusable
// connection to the service host.
func Open(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: base URL %q missing scheme or host", cfg.BaseURL)
	}
	max := cfg.MaxRedirects
	if max <= 0 {
		max = DefaultMaxRedirects
	}
	tr := &http.Transport{
		TLSClientConfig:     cfg.TLS,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     2 * time.Minute,
	}
	return &Client{
		base: base,
		hc: &http.Client{
			Transport: tr,
			// Redirects are followed manually in Send so the hop count and
			// the unavailable marker can be enforced.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 5 * time.Minute,
		},
		userAgent:    cfg.UserAgent,
		maxRedirects: max,
		dump:         cfg.DumpWriter,
	}, nil
}

// SetAuthorization installs the Authorization header value used on every
// subsequent request. An empty value removes it.
func (c *Client) SetAuthorization(v string) { c.auth = v }

// Send issues one request against ref (resolved relative to the base URL),
// following redirects and retrying once after a dropped connection. Non-2xx,
// non-redirect responses are returned as a *StatusError.
func (c *Client) Send(ctx context.Context, method, ref string, body []byte, contentType string) (*Response, error) {
	u, err := c.base.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", ref, err)
	}
	for hop := 0; ; hop++ {
		if hop > c.maxRedirects {
			return nil, ErrTooManyRedirects
		}
		resp, raw, err := c.roundTrip(ctx, method, u, body, contentType)
		if err != nil {
			return nil, err
		}
		if loc := redirectTarget(resp); loc != "" {
			next, err := u.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("transport: bad redirect target %q: %w", loc, err)
			}
			if strings.Contains(next.Path, unavailableMarker) {
				return nil, ErrUnavailable
			}
			u = next
			continue
		}
		out := &Response{Code: resp.StatusCode, Reason: reasonPhrase(resp), Body: raw}
		if resp.StatusCode/100 != 2 {
			return nil, &StatusError{Response: *out}
		}
		return out, nil
	}
}

// roundTrip performs a single exchange, transmitting non-GET/POST verbs as
// POST with a method-override header for intermediaries that block them. A
// request that fails because the peer closed the persistent connection is
// retried once on a fresh connection.
func (c *Client) roundTrip(ctx context.Context, method string, u *url.URL, body []byte, contentType string) (*http.Response, []byte, error) {
	wireMethod, override := method, ""
	if method != http.MethodGet && method != http.MethodPost {
		wireMethod, override = http.MethodPost, method
	}
	for attempt := 0; ; attempt++ {
		var rd io.Reader = http.NoBody
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, wireMethod, u.String(), rd)
		if err != nil {
			return nil, nil, fmt.Errorf("transport: build request: %w", err)
		}
		if body == nil {
			// Zero content-length is still transmitted for body-less POSTs.
			req.ContentLength = 0
		}
		req.Header.Set("User-Agent", c.userAgent)
		if override != "" {
			req.Header.Set("X-HTTP-Method-Override", override)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.auth != "" {
			req.Header.Set("Authorization", c.auth)
		}
		if c.dump != nil {
			fmt.Fprintf(c.dump, ">> %s %s\n%s\n", wireMethod, u, body)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			if attempt == 0 && droppedConn(err) {
				c.hc.CloseIdleConnections()
				continue
			}
			return nil, nil, fmt.Errorf("transport: %s %s: %w", method, u, err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("transport: read response: %w", err)
		}
		if c.dump != nil {
			fmt.Fprintf(c.dump, "<< %s\n%s\n", resp.Status, raw)
		}
		return resp, raw, nil
	}
}

// droppedConn reports whether err looks like the server tearing down our
// persistent connection rather than a real protocol failure.
func droppedConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func redirectTarget(resp *http.Response) string {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location")
	}
	return ""
}

// reasonPhrase strips the numeric code from a status line like "201 Created".
func reasonPhrase(resp *http.Response) string {
	_, reason, ok := strings.Cut(resp.Status, " ")
	if !ok {
		return resp.Status
	}
	return reason
}
