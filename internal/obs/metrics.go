package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Punch engine metrics.
var (
	punchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "punch_outcomes_total",
			Help: "Punch attempts by kind, outcome and rejection reason.",
		},
		[]string{"kind", "outcome", "reason"},
	)

	sessionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_requests_total",
			Help: "Outbound API requests by final result.",
		},
		[]string{"result"},
	)

	sessionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_token_refreshes_total",
			Help: "Access token refresh exchanges by result.",
		},
		[]string{"result"},
	)

	ledgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_appends_total",
			Help: "Offline ledger appends by result.",
		},
		[]string{"result"},
	)

	replayUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_replay_uploaded_total",
		Help: "Pending ledger entries uploaded to the audit endpoint.",
	})
)

// Development server HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

var initOnce sync.Once

// Init registers all metrics with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			punchOutcomes, sessionRequests, sessionRefreshes, ledgerAppends, replayUploads,
			httpInFlight, httpRequestsTotal, httpRequestDuration,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObservePunch(kind, outcome, reason string) {
	punchOutcomes.WithLabelValues(kind, outcome, reason).Inc()
}

func ObserveSessionRequest(result string) {
	sessionRequests.WithLabelValues(result).Inc()
}

func ObserveRefresh(result string) {
	sessionRefreshes.WithLabelValues(result).Inc()
}

func ObserveLedgerAppend(ok bool) {
	if ok {
		ledgerAppends.WithLabelValues("ok").Inc()
		return
	}
	ledgerAppends.WithLabelValues("failed").Inc()
}

func ObserveReplayUploaded(n int) {
	replayUploads.Add(float64(n))
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath keeps label cardinality bounded: known routes pass through,
// query strings are dropped and anything else collapses to "other".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	switch p {
	case "/", "/metrics", "/healthz",
		"/v1/auth/login", "/v1/auth/refresh",
		"/v1/attendance/punch", "/v1/attendance/today", "/v1/attendance/audit":
		return p
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
