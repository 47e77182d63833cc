// Package observability records Prometheus metrics for submissions.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"formpost/internal/core"
	"formpost/internal/submit"
)

// PrometheusObserver implements submit.Observer.
type PrometheusObserver struct {
	submissions  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	requestBytes *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
}

var _ submit.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the submission metrics with reg. A nil reg
// uses prometheus.DefaultRegisterer, which promhttp.Handler serves.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formpost_submissions_total",
			Help: "Multipart submissions by target host, HTTP status class and error type",
		}, []string{"host", "status_class", "error_type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formpost_submission_duration_seconds",
			Help:    "Time from dial to fully read response",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"host"}),
		requestBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formpost_submission_request_bytes",
			Help:    "Encoded multipart body size",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"host"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "formpost_submissions_in_flight",
			Help: "Submissions currently waiting on the upstream",
		}, []string{"host"}),
	}

	reg.MustRegister(o.submissions, o.duration, o.requestBytes, o.inFlight)
	return o
}

// SubmissionStarted implements submit.Observer.
func (o *PrometheusObserver) SubmissionStarted(info submit.Info) {
	o.inFlight.WithLabelValues(info.Host).Inc()
	o.requestBytes.WithLabelValues(info.Host).Observe(float64(info.RequestBytes))
}

// SubmissionFinished implements submit.Observer.
func (o *PrometheusObserver) SubmissionFinished(info submit.Info, statusCode int, duration time.Duration, err error) {
	o.inFlight.WithLabelValues(info.Host).Dec()
	o.duration.WithLabelValues(info.Host).Observe(duration.Seconds())

	errorType := ""
	if err != nil {
		errorType = string(core.TypeOf(err))
	}
	o.submissions.WithLabelValues(info.Host, StatusClass(statusCode), errorType).Inc()
}

// StatusClass maps 201 to "2xx". Zero (no response) maps to "none".
func StatusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "none"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}
