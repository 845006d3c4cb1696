// Package metrics records launcher lifecycle metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives lifecycle events from the orchestrator.
type Collector interface {
	// StateTransition records a service state change.
	StateTransition(from, to string)
	// OperationDuration records how long a start or stop took.
	OperationDuration(op string, d time.Duration, err error)
	// CredentialRotated counts password rotations.
	CredentialRotated()
	// Ports records the negotiated ports.
	Ports(web, db int)
}

type noopCollector struct{}

func (noopCollector) StateTransition(from, to string)                         {}
func (noopCollector) OperationDuration(op string, d time.Duration, err error) {}
func (noopCollector) CredentialRotated()                                      {}
func (noopCollector) Ports(web, db int)                                       {}

// NewNoop returns a collector that discards everything.
func NewNoop() Collector {
	return noopCollector{}
}

// Prometheus keeps its own registry so tests and multiple launchers in one
// process do not collide on the default one.
type Prometheus struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	rotations   prometheus.Counter
	ports       *prometheus.GaugeVec
}

// NewPrometheus creates a collector under namespace ("standalone" if empty).
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "standalone"
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of service state transitions",
		},
		[]string{"from_state", "to_state"},
	)
	p.durations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of start and stop operations",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation", "status"},
	)
	p.rotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_rotations_total",
		Help:      "Total number of database password rotations",
	})
	p.ports = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "port",
			Help:      "Port currently assigned to each service",
		},
		[]string{"service"},
	)

	p.registry.MustRegister(p.transitions, p.durations, p.rotations, p.ports)
	return p
}

func (p *Prometheus) StateTransition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) OperationDuration(op string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.durations.WithLabelValues(op, status).Observe(d.Seconds())
}

func (p *Prometheus) CredentialRotated() {
	p.rotations.Inc()
}

func (p *Prometheus) Ports(web, db int) {
	p.ports.WithLabelValues("web").Set(float64(web))
	p.ports.WithLabelValues("database").Set(float64(db))
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
