// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/debounce"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/service"
	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

const namespace = "lumen"

// Metrics is a service.Observer backed by prometheus counters. It owns its
// registry so tests and multiple instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	sensorChanges    *prometheus.CounterVec
	commandsDerived  prometheus.Counter
	shutdownRuns     prometheus.Counter
	lightsOff        prometheus.Counter
	shutdownErrors   prometheus.Counter
	roomsByStatus    *prometheus.GaugeVec
	connectivityErrs prometheus.Counter
	historyPruned    prometheus.Counter
}

var _ service.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sensorChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "changes_total",
			Help:      "sensor state changes persisted, by change kind",
		}, []string{"kind"}),
		commandsDerived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "commands_derived_total",
			Help:      "device commands derived from the rule table",
		}),
		shutdownRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "evaluations_total",
			Help:      "automatic shutdown passes",
		}),
		lightsOff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "lights_off_total",
			Help:      "lights switched off by automatic shutdown",
		}),
		shutdownErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "room_errors_total",
			Help:      "rooms whose shutdown evaluation failed",
		}),
		roomsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "rooms",
			Help:      "rooms by connectivity status at the last check",
		}, []string{"status"}),
		connectivityErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "probe_errors_total",
			Help:      "failed controller probes",
		}),
		historyPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "pruned_total",
			Help:      "history entries removed by retention",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sensorChanges,
		m.commandsDerived,
		m.shutdownRuns,
		m.lightsOff,
		m.shutdownErrors,
		m.roomsByStatus,
		m.connectivityErrs,
		m.historyPruned,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for callers that add their own collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RegisterLive adds gauges sampled at scrape time: live sessions, router
// groups and the debouncer's pending state. Any argument may be nil.
func (m *Metrics) RegisterLive(sessions func() int, groups func() int, pending func() debounce.Stats) {
	if sessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "live device sessions",
		}, func() float64 { return float64(sessions()) }))
	}
	if groups != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "groups",
			Help:      "rooms with at least one subscriber",
		}, func() float64 { return float64(groups()) }))
	}
	if pending != nil {
		m.registry.MustRegister(debounceCollector{stats: pending})
	}
}

func (m *Metrics) SensorChanged(kind store.ChangeKind) {
	m.sensorChanges.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) CommandsDerived(n int) {
	m.commandsDerived.Add(float64(n))
}

func (m *Metrics) ShutdownEvaluated(res service.ShutdownResult) {
	m.shutdownRuns.Inc()
	m.lightsOff.Add(float64(res.LightsOff))
	m.shutdownErrors.Add(float64(res.Errors))
}

func (m *Metrics) ConnectivityChecked(res service.ConnectivityResult) {
	m.roomsByStatus.WithLabelValues(string(store.Online)).Set(float64(res.Online))
	m.roomsByStatus.WithLabelValues(string(store.Offline)).Set(float64(res.Offline))
	m.roomsByStatus.WithLabelValues(string(store.Unknown)).Set(float64(res.Unknown))
	m.connectivityErrs.Add(float64(res.Errors))
}

func (m *Metrics) HistoryPruned(n int64) {
	m.historyPruned.Add(float64(n))
}
