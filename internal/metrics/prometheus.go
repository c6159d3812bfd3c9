package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by Prometheus.
//
// Metrics are registered lazily on first use so that constructing a
// collector that is never exercised leaves the registry untouched.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	connections prometheus.Gauge
	identifies  prometheus.Counter
	broadcasts  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	dropped     prometheus.Counter
	heartbeats  *prometheus.CounterVec
	rosterSize  *prometheus.HistogramVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector. A nil reg falls back to
// prometheus.DefaultRegisterer; an empty namespace to "viewing".
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "viewing"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.connections = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "push",
			Name:      "connections",
			Help:      "Currently attached push connections.",
		})
		p.identifies = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "push",
			Name:      "identifies_total",
			Help:      "Identity bindings received, including re-identifies.",
		})
		p.broadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "push",
			Name:      "broadcasts_total",
			Help:      "Room broadcasts by event kind.",
		}, []string{"kind"})
		p.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Events queued to connections by event kind.",
		}, []string{"kind"})
		p.dropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "push",
			Name:      "dropped_events_total",
			Help:      "Events dropped because a connection outbox was full.",
		})
		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "poll",
			Name:      "heartbeats_total",
			Help:      "Poll heartbeats by result (ok, error).",
		}, []string{"result"})
		p.rosterSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      "roster_size",
			Help:      "Size of returned rosters by backend.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
		}, []string{"backend"})

		p.reg.MustRegister(
			p.connections,
			p.identifies,
			p.broadcasts,
			p.deliveries,
			p.dropped,
			p.heartbeats,
			p.rosterSize,
		)
	})
}

func (p *Prometheus) ConnectionOpened() {
	p.ensureRegistered()
	p.connections.Inc()
}

func (p *Prometheus) ConnectionClosed() {
	p.ensureRegistered()
	p.connections.Dec()
}

func (p *Prometheus) Identified() {
	p.ensureRegistered()
	p.identifies.Inc()
}

func (p *Prometheus) Broadcast(kind string, recipients int) {
	p.ensureRegistered()
	p.broadcasts.WithLabelValues(kind).Inc()
	p.deliveries.WithLabelValues(kind).Add(float64(recipients))
}

func (p *Prometheus) EventDropped() {
	p.ensureRegistered()
	p.dropped.Inc()
}

func (p *Prometheus) Heartbeat(result string) {
	p.ensureRegistered()
	p.heartbeats.WithLabelValues(result).Inc()
}

func (p *Prometheus) RosterSize(backend string, size int) {
	p.ensureRegistered()
	p.rosterSize.WithLabelValues(backend).Observe(float64(size))
}
