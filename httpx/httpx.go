package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/byte4ever/fnhost"
)

// DefaultMaxResponseBytes caps how much of an upstream body is read.
const DefaultMaxResponseBytes = 10 << 20

type (
	// Request is a buffered inbound HTTP request. Path is relative to the
	// route prefix and always starts with "/".
	Request struct {
		Query  url.Values
		Header http.Header
		Method string
		Path   string
		Body   []byte
	}

	// Response is the handler's reply.
	Response struct {
		Header     http.Header
		Body       []byte
		StatusCode int
	}
)

// ErrorClass tells the retry loop how to treat an HTTP status code.
type ErrorClass int

const (
	// Success means the request succeeded (e.g. 2xx).
	Success ErrorClass = iota
	// Transient means the error is retriable (e.g. 429, 503).
	Transient
	// Permanent means the error is non-retriable (e.g. 400).
	Permanent
)

// Classifier maps an HTTP status code to an ErrorClass.
//
// Pattern: Strategy: caller injects classification logic
// without modifying the adapter.
type Classifier func(statusCode int) ErrorClass

// DefaultClassifier treats 1xx-3xx as success, 408, 429 and 5xx as
// transient and every other 4xx as permanent.
func DefaultClassifier(code int) ErrorClass {
	switch {
	case code < http.StatusBadRequest:
		return Success
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return Transient
	default:
		return Permanent
	}
}

// StatusError is returned when the Classifier marks a status
// code as Transient or Permanent. The upstream headers and body
// are kept so they can be relayed to the caller.
type StatusError struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// Error returns a human-readable description of the status
// error.
func (e *StatusError) Error() string {
	return "http status " + strconv.Itoa(e.StatusCode)
}

// Forwarder is an [fnhost.Handler] that relays requests to an upstream
// base URL.
//
// Pattern: Adapter: bridges net/http and the dispatcher by translating
// HTTP status codes into retryable and non-retryable errors.
type Forwarder struct {
	hc       *http.Client
	base     *url.URL
	cl       Classifier
	maxBytes int64
}

// NewForwarder creates a Forwarder for base. A nil hc uses
// http.DefaultClient and a nil cl uses [DefaultClassifier].
func NewForwarder(base string, hc *http.Client, cl Classifier) (*Forwarder, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("httpx: upstream url: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httpx: upstream url %q is not absolute", base)
	}

	if hc == nil {
		hc = http.DefaultClient
	}

	if cl == nil {
		cl = DefaultClassifier
	}

	return &Forwarder{hc: hc, base: u, cl: cl, maxBytes: DefaultMaxResponseBytes}, nil
}

// Invoke sends req upstream. Transient statuses return a *StatusError,
// permanent ones a *StatusError marked with [fnhost.NonRetryable].
// Transport errors are returned as-is and retried.
func (f *Forwarder) Invoke(ctx context.Context, req *Request) (*Response, error) {
	target := *f.base
	target.Path = strings.TrimSuffix(f.base.Path, "/") + req.Path
	target.RawQuery = req.Query.Encode()

	hreq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fnhost.NonRetryable(fmt.Errorf("httpx: build request: %w", err))
	}

	for k, vs := range req.Header {
		if hopByHop(k) {
			continue
		}

		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	hresp, err := f.hc.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("httpx: forward: %w", err)
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(hresp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("httpx: read upstream body: %w", err)
	}

	switch f.cl(hresp.StatusCode) {
	case Transient:
		return nil, &StatusError{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: body}
	case Permanent:
		return nil, fnhost.NonRetryable(&StatusError{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: body})
	default:
		return &Response{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: body}, nil
	}
}

func hopByHop(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer",
		"Transfer-Encoding", "Upgrade", "Content-Length":
		return true
	}

	return false
}
