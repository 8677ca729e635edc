package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/byte4ever/fnhost"
)

// DefaultMaxBodyBytes caps buffered request bodies.
const DefaultMaxBodyBytes = 10 << 20

// RequestIDHeader carries the request ID on every response.
const RequestIDHeader = "X-Request-ID"

// Function keys are read from the header first, then the query string.
const (
	FunctionKeyHeader = "X-Functions-Key"
	FunctionKeyParam  = "code"
)

// ErrUnauthorized is returned to callers presenting no valid function key.
var ErrUnauthorized = errors.New("missing or invalid function key")

// Dispatcher is the part of [fnhost.Dispatcher] the HTTP handler needs.
type Dispatcher interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
	HealthStatus() fnhost.Status
	Config() fnhost.Config
}

// Options configures [NewHandler].
type Options struct {
	// Registry backs GET /readyz. Without it the route is not mounted.
	Registry *fnhost.Registry
	// MaxBodyBytes caps the buffered request body. Zero means
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// RetryAfter is advertised on overload and throttling rejections.
	// Zero means one second. Unhealthy rejections advertise the health
	// check interval.
	RetryAfter time.Duration
	// FunctionKeys, when not empty, are the keys accepted on the dispatch
	// route. Health and readiness stay anonymous.
	FunctionKeys []string
	// Version and Environment are reported by the liveness route.
	Version     string
	Environment string
}

// Liveness is the body of GET /{routePrefix}/health.
type Liveness struct {
	Timestamp   time.Time     `json:"timestamp"`
	Status      string        `json:"status"`
	Version     string        `json:"version,omitempty"`
	Environment string        `json:"environment,omitempty"`
	Dispatcher  fnhost.Status `json:"dispatcher"`
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// NewHandler returns a router serving d under /{routePrefix}/*, its
// liveness status at /{routePrefix}/health and, when a registry is given,
// readiness at /readyz. With FunctionKeys set, only the dispatch route
// requires a key.
func NewHandler(d Dispatcher, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}

	h := &handler{d: d, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)

	if opts.Registry != nil {
		r.Method(http.MethodGet, "/readyz", fnhost.ReadinessHandler(opts.Registry))
	}

	routes := func(r chi.Router) {
		r.Get("/health", h.health)
		r.With(h.requireKey).HandleFunc("/*", h.dispatch)
	}

	prefix := strings.Trim(d.Config().HTTP.RoutePrefix, "/")
	if prefix == "" {
		routes(r)
	} else {
		r.Route("/"+prefix, routes)
	}

	return r
}

type handler struct {
	d    Dispatcher
	opts Options
}

func (h *handler) dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err)
			return
		}

		writeJSONError(w, r, http.StatusBadRequest, "bad_body", err)

		return
	}

	req := &Request{
		Method: r.Method,
		Path:   "/" + chi.URLParam(r, "*"),
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	}

	// Keys are for this host only.
	req.Query.Del(FunctionKeyParam)
	req.Header.Del(FunctionKeyHeader)

	resp, err := h.d.Handle(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	for k, vs := range resp.Header {
		if hopByHop(k) {
			continue
		}

		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	code := resp.StatusCode
	if code == 0 {
		code = http.StatusOK
	}

	w.WriteHeader(code)
	_, _ = w.Write(resp.Body)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	status := h.d.HealthStatus()

	w.Header().Set("Content-Type", "application/json")

	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	//nolint:errcheck // best-effort JSON encoding to HTTP response
	_ = json.NewEncoder(w).Encode(Liveness{
		Status:      status.State,
		Timestamp:   time.Now().UTC(),
		Version:     h.opts.Version,
		Environment: h.opts.Environment,
		Dispatcher:  status,
	})
}

// requireKey rejects requests without one of the configured function keys.
func (h *handler) requireKey(next http.Handler) http.Handler {
	if len(h.opts.FunctionKeys) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(FunctionKeyHeader)
		if key == "" {
			key = r.URL.Query().Get(FunctionKeyParam)
		}

		if !h.validKey(key) {
			writeJSONError(w, r, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *handler) validKey(key string) bool {
	if key == "" {
		return false
	}

	ok := false
	for _, k := range h.opts.FunctionKeys {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			ok = true
		}
	}

	return ok
}

// writeError maps dispatcher errors to status codes.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *StatusError

	switch {
	case errors.Is(err, fnhost.ErrRejected):
		after := h.opts.RetryAfter
		if errors.Is(err, fnhost.ErrUnhealthy) {
			after = h.d.Config().HealthMonitor.Interval
		}

		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(after.Round(time.Second)/time.Second))))
		writeJSONError(w, r, http.StatusServiceUnavailable, "rejected", err)

	case errors.Is(err, fnhost.ErrTimeout):
		writeJSONError(w, r, http.StatusGatewayTimeout, "timeout", err)

	case fnhost.IsNonRetryable(err) && errors.As(err, &se):
		relay(w, se)

	case fnhost.IsNonRetryable(err):
		writeJSONError(w, r, http.StatusBadRequest, "non_retryable", err)

	case errors.Is(err, fnhost.ErrRetriesExhausted):
		writeJSONError(w, r, http.StatusBadGateway, "retries_exhausted", err)

	case errors.Is(err, context.Canceled):
		// The client is gone; nobody reads the body.
		w.WriteHeader(http.StatusServiceUnavailable)

	default:
		writeJSONError(w, r, http.StatusInternalServerError, "internal", err)
	}
}

// relay copies a permanent upstream failure to the caller unchanged.
func relay(w http.ResponseWriter, se *StatusError) {
	for k, vs := range se.Header {
		if hopByHop(k) {
			continue
		}

		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	w.WriteHeader(se.StatusCode)
	_, _ = w.Write(se.Body)
}

func writeJSONError(w http.ResponseWriter, r *http.Request, code int, kind string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	//nolint:errcheck // best-effort JSON encoding to HTTP response
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     err.Error(),
		Code:      kind,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// echoRequestID copies chi's request ID to the response headers.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(RequestIDHeader, id)
		}

		next.ServeHTTP(w, r)
	})
}
