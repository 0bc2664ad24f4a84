// Package metrics records tracking and HTTP metrics with Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
)

// Recorder implements usecase.Metrics using Prometheus.
// Symbols come from request paths and are not used as labels; series are bounded by timeframe.
type Recorder struct {
	gatherer prometheus.Gatherer

	backfills       *prometheus.CounterVec
	backfillLatency *prometheus.HistogramVec
	ingested        *prometheus.CounterVec
	subFailures     *prometheus.CounterVec
	activeSubs      prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

var _ usecase.Metrics = (*Recorder)(nil)

// New creates a Recorder registered on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Recorder {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	f := promauto.With(reg)

	return &Recorder{
		gatherer: gatherer,
		backfills: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candles_backfill_total",
				Help: "Total number of EnsureRange calls by result",
			},
			[]string{"timeframe", "result"},
		),
		backfillLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "candles_backfill_duration_seconds",
				Help:    "Duration of EnsureRange calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"timeframe", "result"},
		),
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candles_ingested_total",
				Help: "Total number of ingested candles by outcome",
			},
			[]string{"timeframe", "outcome"},
		),
		subFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "candles_subscription_failures_total",
				Help: "Total number of live subscriptions that ended with an error",
			},
			[]string{"timeframe"},
		),
		activeSubs: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "candles_active_subscriptions",
				Help: "Current number of live subscriptions",
			},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method", "class"},
		),
	}
}

// ObserveBackfill records one EnsureRange call.
func (r *Recorder) ObserveBackfill(_ string, tf timeframe.TimeFrame, fetched bool, d time.Duration) {
	result := "hit"
	if fetched {
		result = "fetched"
	}
	r.backfills.WithLabelValues(tf.String(), result).Inc()
	r.backfillLatency.WithLabelValues(tf.String(), result).Observe(d.Seconds())
}

// IncIngested records one ingested candle.
func (r *Recorder) IncIngested(_ string, tf timeframe.TimeFrame, inserted bool) {
	outcome := "duplicate"
	if inserted {
		outcome = "inserted"
	}
	r.ingested.WithLabelValues(tf.String(), outcome).Inc()
}

// IncSubscriptionFailure records a failed subscription task.
func (r *Recorder) IncSubscriptionFailure(_ string, tf timeframe.TimeFrame) {
	r.subFailures.WithLabelValues(tf.String()).Inc()
}

// SetActiveSubscriptions sets the live subscription gauge.
func (r *Recorder) SetActiveSubscriptions(n int) {
	r.activeSubs.Set(float64(n))
}

// Handler exposes the registry the recorder was created with.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by route template.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Unmatched routes share one label to keep cardinality low
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		r.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(status)).Inc()
		r.httpLatency.WithLabelValues(route, c.Request.Method, statusClass(status)).Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
