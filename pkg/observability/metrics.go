package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth attempt results
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth metrics
	AuthAttemptsTotal         *prometheus.CounterVec
	RateLimitRejectionsTotal  *prometheus.CounterVec
	TokenExchangesTotal       *prometheus.CounterVec
	PageGuardRedirectsTotal   *prometheus.CounterVec
	PasswordHashDuration      prometheus.Histogram

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBWaitCount         prometheus.Gauge

	// Business metrics
	UsersTotal  prometheus.Gauge
	OnlineUsers prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutorhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutorhub_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorhub_auth_attempts_total",
				Help: "Authentication attempts by action and result",
			},
			[]string{"action", "result"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorhub_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		TokenExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorhub_token_exchanges_total",
				Help: "External identity token exchanges by result",
			},
			[]string{"result"},
		),
		PageGuardRedirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorhub_page_guard_redirects_total",
				Help: "Page navigations redirected by the page guard",
			},
			[]string{"target"},
		),
		PasswordHashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tutorhub_password_hash_duration_seconds",
				Help:    "Time spent hashing or comparing passwords",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tutorhub_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tutorhub_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tutorhub_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		UsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tutorhub_users_total",
				Help: "Registered users as of the last stats query",
			},
		),
		OnlineUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tutorhub_online_users",
				Help: "Users active in the last five minutes as of the last stats query",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthAttemptsTotal,
		m.RateLimitRejectionsTotal,
		m.TokenExchangesTotal,
		m.PageGuardRedirectsTotal,
		m.PasswordHashDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBWaitCount,
		m.UsersTotal,
		m.OnlineUsers,
	)

	return m
}

// RecordAuthAttempt counts an auth attempt. Safe on a nil receiver.
func (m *Metrics) RecordAuthAttempt(action, result string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(action, result).Inc()
}

// RecordRateLimited counts a rate limit rejection. Safe on a nil receiver.
func (m *Metrics) RecordRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(route).Inc()
}

// RecordTokenExchange counts an identity bridge exchange. Safe on a nil receiver.
func (m *Metrics) RecordTokenExchange(result string) {
	if m == nil {
		return
	}
	m.TokenExchangesTotal.WithLabelValues(result).Inc()
}

// RecordRedirect counts a page guard redirect. Safe on a nil receiver.
func (m *Metrics) RecordRedirect(target string) {
	if m == nil {
		return
	}
	m.PageGuardRedirectsTotal.WithLabelValues(target).Inc()
}

// ObservePasswordHash records bcrypt latency. Safe on a nil receiver.
func (m *Metrics) ObservePasswordHash(d time.Duration) {
	if m == nil {
		return
	}
	m.PasswordHashDuration.Observe(d.Seconds())
}

// SetUserCounts updates the user gauges. Safe on a nil receiver.
func (m *Metrics) SetUserCounts(total, online int) {
	if m == nil {
		return
	}
	m.UsersTotal.Set(float64(total))
	m.OnlineUsers.Set(float64(online))
}

// UpdateDBStats copies connection pool stats into the database gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the matched mux route template so ids in paths do not
// explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
