package httpx

import (
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/nicktill/tinyevents/pkg/event"
)

// DefaultEventName is the event tracked for every request.
const DefaultEventName = "http_request"

// DistinctIDHeader carries the caller's distinct id when Options.Identify is unset.
const DistinctIDHeader = "X-Distinct-ID"

// Tracker records track events. *sdk.Client satisfies it.
type Tracker interface {
	Track(accountID, distinctID, eventName string, props event.Properties) error
}

// Options configures the middleware
type Options struct {
	// EventName defaults to DefaultEventName.
	EventName string

	// Identify returns the account and distinct id of a request. By default
	// the distinct id comes from DistinctIDHeader, or the client address.
	Identify func(r *http.Request) (accountID, distinctID string)

	// Logger receives tracking failures, which never affect the response.
	Logger *slog.Logger
}

// Middleware returns HTTP middleware that tracks one event per request with
// the method, normalized path, status code and duration.
//
// Usage:
//
//	client, _ := sdk.New(consumer)
//	defer client.Close()
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	handler := httpx.Middleware(client, httpx.Options{})(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(tracker Tracker, opts Options) func(http.Handler) http.Handler {
	if opts.EventName == "" {
		opts.EventName = DefaultEventName
	}
	if opts.Identify == nil {
		opts.Identify = defaultIdentify
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			accountID, distinctID := opts.Identify(r)
			props := event.Properties{
				"method":      r.Method,
				"path":        normalizePath(r.URL.Path),
				"status":      rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				event.KeyIP:   clientIP(r),
			}
			if err := tracker.Track(accountID, distinctID, opts.EventName, props); err != nil {
				logger.Warn("failed to track request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func defaultIdentify(r *http.Request) (string, string) {
	if id := r.Header.Get(DistinctIDHeader); id != "" {
		return "", id
	}
	return "", clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var (
	uuidSegment    = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numericSegment = regexp.MustCompile(`/\d+(/|$)`)
)

// normalizePath collapses ids so one route maps to one path value.
// Examples:
//   - /api/users/123 → /api/users/{id}
//   - /posts/456/comments → /posts/{id}/comments
//   - /api/users/550e8400-e29b-41d4-a716-446655440000 → /api/users/{id}
func normalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	// Run twice: adjacent ids share the separating slash.
	for i := 0; i < 2; i++ {
		path = numericSegment.ReplaceAllString(path, "/{id}$1")
	}
	return path
}
