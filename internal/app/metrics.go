package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "one2many"

// Provision results.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	provisions *prometheus.CounterVec
	stops      prometheus.Counter
	engine     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	presenter  prometheus.Gauge
	viewers    prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		provisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provisions_total",
			Help:      "Endpoint provisioning attempts by role and result.",
		}, []string{"role", "result"}),
		stops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_stops_total",
			Help:      "Session stop requests handled.",
		}),
		engine: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "engine_connections_total",
			Help:      "Media engine connections opened and closed.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_messages_total",
			Help:      "Outbound signaling messages dropped on backpressure.",
		}, []string{"kind"}),
		presenter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "presenter_active",
			Help:      "1 while a presenter is provisioning or active.",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "viewers",
			Help:      "Registered viewers.",
		}),
	}
	m.registry.MustRegister(
		m.provisions, m.stops, m.engine, m.dropped, m.presenter, m.viewers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveProvision(role, result string) {
	if m == nil {
		return
	}
	m.provisions.WithLabelValues(role, result).Inc()
}

func (m *Metrics) ObserveStop() {
	if m == nil {
		return
	}
	m.stops.Inc()
}

func (m *Metrics) EngineOpened() {
	if m == nil {
		return
	}
	m.engine.WithLabelValues("open").Inc()
}

func (m *Metrics) EngineClosed() {
	if m == nil {
		return
	}
	m.engine.WithLabelValues("close").Inc()
}

func (m *Metrics) Dropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetParticipants(presenter bool, viewers int) {
	if m == nil {
		return
	}
	if presenter {
		m.presenter.Set(1)
	} else {
		m.presenter.Set(0)
	}
	m.viewers.Set(float64(viewers))
}
