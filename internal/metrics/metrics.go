// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "glytch"

// Outcome label values shared by the counters
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
	OutcomeError    = "error"

	// OutcomeNoSession counts completes arriving with no attempt to act on,
	// typically a retry after the attempt was already consumed or rejected
	OutcomeNoSession = "no_session"
)

// Metrics holds the counters the services increment, one per protocol step
type Metrics struct {
	Prepare  *prometheus.CounterVec
	Complete *prometheus.CounterVec
	Login    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Prepare: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "prepare_total",
			Help:      "Binding challenges prepared, by outcome.",
		}, []string{"outcome"}),
		Complete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "complete_total",
			Help:      "Binding completions, by outcome.",
		}, []string{"outcome"}),
		Login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "github",
			Name:      "login_total",
			Help:      "GitHub OAuth callbacks, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Prepare, m.Complete, m.Login)
	return m
}
