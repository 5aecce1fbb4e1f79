package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs one structured line per request and attaches a
// request-scoped logger to the context, retrievable with zerolog.Ctx.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With().
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(reqLogger.WithContext(r.Context())))

			ev := reqLogger.Info()
			if ww.statusCode >= http.StatusInternalServerError {
				ev = reqLogger.Error()
			}
			ev.Int("status", ww.statusCode).
				Str("route", routePattern(r)).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
