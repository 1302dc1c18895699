package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus registry and the auth47 meters.
// A nil *Metrics records nothing.
type Metrics struct {
	Registry               *prometheus.Registry
	ChallengesIssued       prometheus.Counter
	Authentications        *prometheus.CounterVec
	AuthenticationDuration prometheus.Histogram
}

// NewMetrics creates a custom registry with the auth47 metrics and the
// standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	issued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth47_challenges_issued_total",
		Help: "Total number of challenges issued.",
	})

	auths := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth47_authentications_total",
		Help: "Total number of proof submissions by result.",
	}, []string{"result"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth47_authentication_duration_seconds",
		Help:    "Time spent verifying a proof.",
		Buckets: prometheus.DefBuckets,
	})

	reg.MustRegister(
		issued, auths, duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry:               reg,
		ChallengesIssued:       issued,
		Authentications:        auths,
		AuthenticationDuration: duration,
	}
}

// ChallengeIssued counts one issued challenge
func (m *Metrics) ChallengeIssued() {
	if m == nil {
		return
	}
	m.ChallengesIssued.Inc()
}

// Authentication records the outcome of one proof submission
func (m *Metrics) Authentication(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(result).Inc()
	m.AuthenticationDuration.Observe(elapsed.Seconds())
}
