package boachat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes sync loop counters. A nil *Metrics records nothing.
type Metrics struct {
	Polls          *prometheus.CounterVec
	Backoffs       prometheus.Counter
	BackoffSeconds prometheus.Histogram
	ActiveLoops    prometheus.Gauge
	Ingested       *prometheus.CounterVec
	SendFailures   prometheus.Counter
	Refreshes      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boachat",
			Name:      "polls_total",
			Help:      "Long polls completed, by result.",
		}, []string{"result"}),
		Backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boachat",
			Name:      "poll_backoffs_total",
			Help:      "Times a poll loop backed off after a failure.",
		}),
		BackoffSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "boachat",
			Name:      "poll_backoff_seconds",
			Help:      "Backoff delays applied by poll loops.",
			Buckets:   []float64{1, 4, 9, 16, 25, 30},
		}),
		ActiveLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boachat",
			Name:      "poll_loops_active",
			Help:      "Poll loops currently running.",
		}),
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boachat",
			Name:      "events_ingested_total",
			Help:      "Events merged into room ledgers, by outcome.",
		}, []string{"outcome"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boachat",
			Name:      "send_failures_total",
			Help:      "Messages whose post failed.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boachat",
			Name:      "credential_refreshes_total",
			Help:      "Credential refresh attempts, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Polls, m.Backoffs, m.BackoffSeconds, m.ActiveLoops, m.Ingested, m.SendFailures, m.Refreshes)
	}
	return m
}

func (m *Metrics) poll(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) backoff(d time.Duration) {
	if m == nil {
		return
	}
	m.Backoffs.Inc()
	m.BackoffSeconds.Observe(d.Seconds())
}

func (m *Metrics) loopStarted() {
	if m != nil {
		m.ActiveLoops.Inc()
	}
}

func (m *Metrics) loopStopped() {
	if m != nil {
		m.ActiveLoops.Dec()
	}
}

func (m *Metrics) ingested(res IngestResult) {
	if m == nil {
		return
	}
	m.Ingested.WithLabelValues("added").Add(float64(res.Added))
	m.Ingested.WithLabelValues("confirmed").Add(float64(res.Confirmed))
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) refresh(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Refreshes.WithLabelValues(result).Inc()
}
