// Package metrics exposes audit pipeline telemetry through Prometheus.
// A nil *Recorder is valid and records nothing, so callers never need to
// guard their instrumentation sites.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder registers and updates the service's Prometheus metrics.
type Recorder struct {
	registry       *prom.Registry
	auditsStarted  prom.Counter
	auditOutcomes  *prom.CounterVec
	phaseDuration  *prom.HistogramVec
	llmCalls       *prom.CounterVec
	llmTokens      *prom.CounterVec
	findingsStored prom.Counter
	activeAudits   prom.Gauge
}

// NewRecorder constructs a Recorder on reg; a nil reg gets a fresh registry
// with the standard process and Go collectors.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}

	r := &Recorder{registry: reg}
	r.auditsStarted = prom.NewCounter(prom.CounterOpts{
		Namespace: "codewatch",
		Name:      "audits_started_total",
		Help:      "Audits picked up by the runner",
	})
	r.auditOutcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "codewatch",
		Name:      "audit_outcomes_total",
		Help:      "Terminal audit statuses",
	}, []string{"status"})
	r.phaseDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "codewatch",
		Name:      "audit_phase_duration_seconds",
		Help:      "Duration of each pipeline phase",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"phase"})
	r.llmCalls = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "codewatch",
		Name:      "llm_calls_total",
		Help:      "LLM calls by purpose and result",
	}, []string{"purpose", "result"})
	r.llmTokens = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "codewatch",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed by direction",
	}, []string{"direction"})
	r.findingsStored = prom.NewCounter(prom.CounterOpts{
		Namespace: "codewatch",
		Name:      "findings_stored_total",
		Help:      "Findings persisted across all audits",
	})
	r.activeAudits = prom.NewGauge(prom.GaugeOpts{
		Namespace: "codewatch",
		Name:      "active_audits",
		Help:      "Audit tasks currently running",
	})
	reg.MustRegister(r.auditsStarted, r.auditOutcomes, r.phaseDuration,
		r.llmCalls, r.llmTokens, r.findingsStored, r.activeAudits)
	return r
}

// Handler serves the registry over HTTP.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) AuditStarted() {
	if r == nil {
		return
	}
	r.auditsStarted.Inc()
	r.activeAudits.Inc()
}

func (r *Recorder) AuditFinished(status string) {
	if r == nil {
		return
	}
	r.auditOutcomes.WithLabelValues(status).Inc()
	r.activeAudits.Dec()
}

func (r *Recorder) ObservePhase(phase string, d time.Duration) {
	if r == nil {
		return
	}
	r.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (r *Recorder) LLMCall(purpose string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.llmCalls.WithLabelValues(purpose, result).Inc()
}

func (r *Recorder) AddTokens(input, output int) {
	if r == nil {
		return
	}
	r.llmTokens.WithLabelValues("input").Add(float64(input))
	r.llmTokens.WithLabelValues("output").Add(float64(output))
}

func (r *Recorder) FindingsStored(n int) {
	if r == nil {
		return
	}
	r.findingsStored.Add(float64(n))
}
