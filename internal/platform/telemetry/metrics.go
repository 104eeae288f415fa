// Package telemetry holds the Prometheus metrics of the TrialFlow server.
// Every method is safe to call on a nil *Metrics, so components can be
// built without metrics in tests and in the CLI.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trialflow"

type Metrics struct {
	burdenTotal  *prometheus.CounterVec
	burdenScore  *prometheus.HistogramVec
	emailTotal   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		burdenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "burden",
			Name:      "calculations_total",
			Help:      "Burden scores computed, by request source and category",
		}, []string{"source", "category"}),
		burdenScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "burden",
			Name:      "overall_score",
			Help:      "Distribution of overall burden scores",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}, []string{"source"}),
		emailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "emails_total",
			Help:      "Outbound emails by template and delivery status",
		}, []string{"template", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.burdenTotal, m.burdenScore, m.emailTotal, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) ObserveScore(source, category string, score int) {
	if m == nil {
		return
	}
	m.burdenTotal.WithLabelValues(source, category).Inc()
	m.burdenScore.WithLabelValues(source).Observe(float64(score))
}

func (m *Metrics) ObserveEmail(template, status string) {
	if m == nil {
		return
	}
	m.emailTotal.WithLabelValues(template, status).Inc()
}

// Middleware records request count and latency labelled by the matched
// route template rather than the raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the metrics of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
