package poller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts polling activity for the /metrics endpoint.
type Metrics struct {
	Polls        *prometheus.CounterVec
	PollFailures *prometheus.CounterVec
	Bursts       prometheus.Counter
}

// NewMetrics builds and registers the poller counters. reg may be nil for
// tests that do not scrape.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_status_polls_total",
			Help: "Status polls issued, by concern.",
		}, []string{"concern"}),
		PollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewatch_status_poll_failures_total",
			Help: "Status polls that failed and kept the last-known view.",
		}, []string{"concern"}),
		Bursts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipewatch_burst_refreshes_total",
			Help: "Burst refresh sequences triggered by mutating commands.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Polls, m.PollFailures, m.Bursts)
	}
	return m
}
