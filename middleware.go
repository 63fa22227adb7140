package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/brandur/neoadmin/internal/util/stringutil"
)

//
// CanonicalLogLineMiddleware
//

type CanonicalLogLineMiddleware struct {
	// A channel over which log data is sent as it's generated, if the channel
	// is set. This is intended for testing purposes so that we can verify log
	// data being generated.
	logDataChan chan map[string]any

	logger *logrus.Logger
}

func (m *CanonicalLogLineMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxContainer := ContextContainerFrom(r.Context())
		requestStart := time.Now()

		next.ServeHTTP(w, r)

		duration := PrettyDuration(time.Since(requestStart))

		var routeStr string
		route := mux.CurrentRoute(r)
		if route != nil {
			pathTemplate, _ := route.GetPathTemplate()
			routeStr = pathTemplate
		}

		routeOrPath := routeStr
		if routeOrPath == "" {
			routeOrPath = r.URL.Path
		}

		logData := map[string]any{
			"authenticated": ctxContainer.Authenticated,
			"content_type":  r.Header.Get("Content-Type"),
			"duration":      duration,
			"http_method":   r.Method,
			"http_path":     r.URL.Path,
			"http_route":    routeStr,
			"ip":            m.getIP(r).String(),
			"navigation":    ctxContainer.Navigation,
			"query_string":  stringutil.SampleLong(r.URL.RawQuery),
			"request_id":    ctxContainer.RequestID,
			"status":        ctxContainer.StatusCode,
			"user_agent":    r.UserAgent(),
		}

		if m.logDataChan != nil {
			m.logDataChan <- logData
		}

		m.logger.WithFields(logrus.Fields(logData)).
			Infof("canonical_log_line %s %s -> %v (%s)", r.Method, routeOrPath, ctxContainer.StatusCode, duration)
	})
}

func (m *CanonicalLogLineMiddleware) getIP(r *http.Request) net.IP {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		// `X-Forwarded-For` may contain a number of IP addresses, with the
		// original client in the leftmost position, and each intermediary proxy
		// following. In these cases, just include the original IP so that we
		// can aggregate on it from logging.
		ips := strings.Split(forwardedFor, ",")
		return net.ParseIP(strings.TrimSpace(ips[0]))
	}

	ipStr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return nil
	}

	return net.ParseIP(ipStr)
}

// PrettyDuration exists for the simple purpose of making a duration more useful
// when it's emitted to a JSON log or as a string.
//
// A duration will normally produce a string like "42.334µs" which is somewhat
// useful for humans, but not friendly for machine ingestion or aggregation.
// This standardizes the way we spit out durations in the log line to give us a
// normal seconds fraction like "0.000042" instead.
type PrettyDuration time.Duration

func (d PrettyDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d PrettyDuration) String() string {
	return fmt.Sprintf(`%05fs`, time.Duration(d).Seconds())
}

//
// ContextContainerMiddleware
//

// Internal type so that we can produce a guaranteed unique global context
// value.
type contextContainerContextKey struct{}

// ContextContainer is a type embedded to context that facilitates access to
// various values.
type ContextContainer struct {
	// Whether the session was authenticated when the response was produced.
	// Only set for requests that went through an endpoint.
	Authenticated bool

	// Kind of navigation ("app" or "full") that a response was turned into, if
	// any.
	Navigation string

	RequestID  string
	StatusCode int
}

func ContextContainerFrom(ctx context.Context) *ContextContainer {
	return ctx.Value(contextContainerContextKey{}).(*ContextContainer)
}

// ContextContainerMiddleware embeds a context early in the request stack, which
// can be used to set various values along a request's lifecycle that can then
// be introspected by entities including other middleware.
type ContextContainerMiddleware struct{}

func (m *ContextContainerMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, contextContainerContextKey{}, &ContextContainer{
			RequestID: uuid.NewString(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

//
// InspectableWriterMiddleware
//

// InspectableWriter wraps a response writer to track the status code that was
// written, so that it's available to middleware like the canonical log line
// even when the response was produced outside of an endpoint (like a guard
// redirect).
type InspectableWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (w *InspectableWriter) Write(b []byte) (int, error) {
	if w.StatusCode == 0 {
		w.StatusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b) //nolint:wrapcheck
}

func (w *InspectableWriter) WriteHeader(statusCode int) {
	if w.StatusCode == 0 {
		w.StatusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

type InspectableWriterMiddleware struct{}

func NewInspectableWriterMiddleware() *InspectableWriterMiddleware {
	return &InspectableWriterMiddleware{}
}

func (m *InspectableWriterMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inspectableWriter := &InspectableWriter{ResponseWriter: w}

		next.ServeHTTP(inspectableWriter, r)

		if inspectableWriter.StatusCode == 0 {
			inspectableWriter.StatusCode = http.StatusOK
		}

		if ctxContainer, ok := r.Context().Value(contextContainerContextKey{}).(*ContextContainer); ok {
			ctxContainer.StatusCode = inspectableWriter.StatusCode
		}
	})
}
