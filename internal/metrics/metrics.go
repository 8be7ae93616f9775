package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdeck_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskdeck_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdeck_scans_total",
			Help: "Scheduler scan runs by scan kind and outcome",
		},
		[]string{"scan", "outcome"},
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskdeck_scan_duration_seconds",
			Help:    "Wall time of a full scheduler scan",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"scan"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdeck_notifications_total",
			Help: "Notification deliveries by event type and ledger status",
		},
		[]string{"type", "status"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskdeck_telegram_send_duration_seconds",
			Help:    "Latency of a single Telegram send, queueing included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	dedupeHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdeck_dedupe_hits_total",
			Help: "Deliveries suppressed by the notification ledger",
		},
		[]string{"type"},
	)

	timezoneErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdeck_timezone_errors_total",
			Help: "Candidates skipped because the stored timezone failed to load",
		},
		[]string{"scan"},
	)

	botUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdeck_bot_updates_total",
			Help: "Incoming Telegram updates by kind",
		},
		[]string{"kind"},
	)

	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskdeck_bot_commands_total",
			Help: "Handled bot commands by name",
		},
		[]string{"command"},
	)

	botThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskdeck_bot_throttled_total",
			Help: "Updates rejected by the per-chat rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskdeck_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskdeck_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordScan records one scheduler scan run
func RecordScan(scan, outcome string, duration time.Duration) {
	scansTotal.WithLabelValues(scan, outcome).Inc()
	scanDuration.WithLabelValues(scan).Observe(duration.Seconds())
}

// RecordNotification records a ledger append by event type and status
func RecordNotification(eventType, status string) {
	notificationsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordSendDuration records how long one Telegram send took
func RecordSendDuration(duration time.Duration) {
	sendDuration.Observe(duration.Seconds())
}

// RecordDedupeHit records a delivery suppressed by an existing ledger row
func RecordDedupeHit(eventType string) {
	dedupeHits.WithLabelValues(eventType).Inc()
}

// RecordTimezoneError records a candidate skipped over a bad timezone
func RecordTimezoneError(scan string) {
	timezoneErrors.WithLabelValues(scan).Inc()
}

// RecordBotUpdate records an incoming Telegram update
func RecordBotUpdate(kind string) {
	botUpdatesTotal.WithLabelValues(kind).Inc()
}

// RecordBotCommand records a handled command
func RecordBotCommand(command string) {
	botCommandsTotal.WithLabelValues(command).Inc()
}

// RecordBotThrottled records an update dropped by the per-chat limiter
func RecordBotThrottled() {
	botThrottledTotal.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
