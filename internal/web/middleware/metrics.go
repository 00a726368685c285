package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/JonMunkholm/livpulse/internal/web"

// Metrics records request counts and latencies per route pattern on the
// global MeterProvider. Build it after the provider is installed.
func Metrics() func(http.Handler) http.Handler {
	meter := otel.Meter(instrumentationName)

	requests, err := meter.Int64Counter("livpulse_http_requests_total",
		metric.WithDescription("HTTP requests by route and status"))
	if err != nil {
		slog.Warn("http metrics disabled", "error", err)
		return func(next http.Handler) http.Handler { return next }
	}
	latency, err := meter.Float64Histogram("livpulse_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"), metric.WithUnit("s"))
	if err != nil {
		slog.Warn("http metrics disabled", "error", err)
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrap(w)
			next.ServeHTTP(ww, r)

			// Unmatched paths share one label to bound cardinality.
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(ww.status)),
			)
			requests.Add(r.Context(), 1, attrs)
			latency.Record(r.Context(), time.Since(start).Seconds(), attrs)
		})
	}
}
