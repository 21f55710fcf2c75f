package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BookSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "book_searches_total",
			Help: "Total number of book listing queries by ranking mode",
		},
		[]string{"mode"}, // "proximity", "filter", "nearby"
	)

	GeocodeLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_lookups_total",
			Help: "Total number of reverse geocoding lookups by result",
		},
		[]string{"result"}, // "ok", "no_result", "error", "skipped"
	)

	MediaOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_operations_total",
			Help: "Total number of media host operations",
		},
		[]string{"op", "result"},
	)

	MailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_deliveries_total",
			Help: "Total number of outbound mails by transport and result",
		},
		[]string{"transport", "result"},
	)
)

// RecordHTTPRequest records a completed request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBookSearch counts a listing query.
func RecordBookSearch(mode string) {
	BookSearches.WithLabelValues(mode).Inc()
}

// RecordGeocode counts a reverse geocoding lookup.
func RecordGeocode(result string) {
	GeocodeLookups.WithLabelValues(result).Inc()
}

// RecordMediaOperation counts an upload or delete against the media host.
func RecordMediaOperation(op string, err error) {
	MediaOperations.WithLabelValues(op, resultLabel(err)).Inc()
}

// RecordMailDelivery counts an outbound mail attempt.
func RecordMailDelivery(transport string, err error) {
	MailDeliveries.WithLabelValues(transport, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
