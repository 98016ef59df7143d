// Package transport provides the HTTP handle shared by a session and the
// devices it tracks.
//
// A Handle owns its own cookie jar, so the sign-in performed on one handle is
// visible to every later request on it. A handle is released exactly once;
// requests on a released handle fail with ErrReleased.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"
)

// ErrReleased is returned by requests on a handle that has been released
var ErrReleased = errors.New("transport handle released")

// ErrBodyTooLarge is returned when a response body exceeds maxBodySize
var ErrBodyTooLarge = errors.New("response body too large")

// maxBodySize caps how much of a response body is read
const maxBodySize = 4 << 20

// Options configure a new handle
type Options struct {
	// Timeout bounds each request; zero means no per-request timeout
	Timeout time.Duration
	// UserAgent is sent with every request
	UserAgent string
	// Verbose logs every request and its outcome
	Verbose bool
	// RoundTripper overrides the default transport (tests)
	RoundTripper http.RoundTripper
}

// DefaultUserAgent mimics a desktop browser; the portal rejects bare clients
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0)"

// Handle is a cookie-carrying HTTP client with an explicit lifetime
type Handle struct {
	client    *http.Client
	userAgent string
	verbose   bool

	mu       sync.Mutex
	released bool
}

// New creates a handle with an empty cookie jar
func New(opts Options) (*Handle, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	rt := opts.RoundTripper
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	return &Handle{
		client: &http.Client{
			Jar:       jar,
			Transport: rt,
			Timeout:   opts.Timeout,
		},
		userAgent: ua,
		verbose:   opts.Verbose,
	}, nil
}

// Released reports whether Release has been called
func (h *Handle) Released() bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Release closes idle connections and invalidates the handle. It is safe to
// call more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()

	h.client.CloseIdleConnections()
}

// PostForm posts url-encoded form values and returns the decoded body
func (h *Handle) PostForm(ctx context.Context, target string, form url.Values) (string, error) {
	body, _, err := h.do(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	return body, err
}

// Get fetches target and returns the decoded body
func (h *Handle) Get(ctx context.Context, target string) (string, error) {
	body, _, err := h.do(ctx, http.MethodGet, target, nil)
	return body, err
}

// Probe fetches target and returns the status code and body without treating
// non-2xx responses as errors
func (h *Handle) Probe(ctx context.Context, target string) (int, string, error) {
	body, status, err := h.do(ctx, http.MethodGet, target, nil)
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, body, nil
	}
	return status, body, err
}

// StatusError reports a non-2xx response
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

func (h *Handle) do(ctx context.Context, method, target string, payload io.Reader) (string, int, error) {
	if h.Released() {
		return "", 0, ErrReleased
	}

	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		// Surface cancellation as the bare context error
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}
		return "", 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", resp.StatusCode, ctxErr
		}
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if len(raw) > maxBodySize {
		return "", resp.StatusCode, fmt.Errorf("%w: %s over %d bytes", ErrBodyTooLarge, target, maxBodySize)
	}

	reader, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode body: %w", err)
	}

	if h.verbose {
		log.Printf("%s %s -> %d (%d bytes, %s)", method, target, resp.StatusCode, len(data), time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(data), resp.StatusCode, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	return string(data), resp.StatusCode, nil
}
