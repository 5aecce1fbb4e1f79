package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. The span is named
// "METHOD /route/{pattern}" once chi has matched the route so span names
// stay low-cardinality.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			if pattern := routePattern(r); pattern != "" {
				span := trace.SpanFromContext(r.Context())
				span.SetName(spanName(r))
				span.SetAttributes(attribute.String("http.route", pattern))
			}
		})
		// otelhttp renames the span with the formatter after the handler
		// returns whenever r.Pattern is set, which chi does on routing.
		return otelhttp.NewHandler(named, "http.request",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return spanName(r)
			}),
		)
	}
}

func spanName(r *http.Request) string {
	if pattern := routePattern(r); pattern != "" {
		return r.Method + " " + pattern
	}
	return r.Method + " " + r.URL.Path
}

// routePattern is the full pattern chi matched, including parent routers.
// It is empty before routing.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
