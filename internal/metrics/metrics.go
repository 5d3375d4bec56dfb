package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"secuflow/pkg/models"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	analyses        *prometheus.CounterVec
	recordsAnalyzed prometheus.Histogram
	incidents       *prometheus.CounterVec
	explanations    *prometheus.CounterVec
	templateLookups *prometheus.CounterVec
	ruleMatches     *prometheus.CounterVec
}

// New registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secuflow",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})
	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "secuflow",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	m.analyses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secuflow",
		Name:      "analyses_total",
		Help:      "Analysis runs by outcome",
	}, []string{"status"})
	m.recordsAnalyzed = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "secuflow",
		Name:      "records_analyzed",
		Help:      "Records in the analyzed window",
		Buckets:   []float64{0, 10, 50, 100, 200, 500, 1000, 5000},
	})
	m.incidents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secuflow",
		Name:      "incidents_total",
		Help:      "Incidents raised by severity",
	}, []string{"severity"})
	m.explanations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secuflow",
		Name:      "explanations_total",
		Help:      "Explanation attempts by provider and status",
	}, []string{"provider", "status"})
	m.templateLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secuflow",
		Name:      "template_lookups_total",
		Help:      "Template lookups by outcome",
	}, []string{"status"})
	m.ruleMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secuflow",
		Name:      "sigma_rule_matches_total",
		Help:      "Records matched per Sigma rule",
	}, []string{"rule_id"})

	m.registry.MustRegister(
		m.requests, m.requestDuration, m.analyses, m.recordsAnalyzed,
		m.incidents, m.explanations, m.templateLookups, m.ruleMatches,
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveAnalysis records one analysis run.
func (m *Metrics) ObserveAnalysis(report models.Report, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.analyses.WithLabelValues("error").Inc()
		return
	}
	m.analyses.WithLabelValues("ok").Inc()
	m.recordsAnalyzed.Observe(float64(report.Summary.TotalEventsAnalyzed))
	for _, inc := range report.Incidents {
		m.incidents.WithLabelValues(string(inc.Severity)).Inc()
	}
	for _, hit := range report.RuleMatches {
		m.ruleMatches.WithLabelValues(hit.RuleID).Add(float64(hit.Count))
	}
}

// ObserveExplanation records one explainer attempt.
func (m *Metrics) ObserveExplanation(provider, status string) {
	if m == nil {
		return
	}
	m.explanations.WithLabelValues(provider, status).Inc()
}

// ObserveTemplateLookup records one template lookup.
func (m *Metrics) ObserveTemplateLookup(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.templateLookups.WithLabelValues(status).Inc()
}
