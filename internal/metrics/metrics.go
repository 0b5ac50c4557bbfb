// Package metrics wires the running server's Prometheus instrumentation,
// adapted directly from the teacher's own prometheus package: the same
// register-once-at-Init, serve-on-/metrics-via-promhttp shape, with this
// domain's own gauges and counters in place of managed-resource counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListen is the address the metrics HTTP server binds by default.
const DefaultListen = "127.0.0.1:9233"

// Metrics holds every exported series. Call Init once before Start.
type Metrics struct {
	Listen string

	tickDuration         prometheus.Histogram
	activeInstances      prometheus.Gauge
	dmxSendsTotal        prometheus.Counter
	dmxSendFailuresTotal prometheus.Counter
	writeConflictsTotal  prometheus.Counter
	gatewaySubscribers   prometheus.Gauge
	droppedCommands      prometheus.Counter
}

// Init registers every series with the default Prometheus registry.
func (m *Metrics) Init() error {
	if m.Listen == "" {
		m.Listen = DefaultListen
	}

	m.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lumen_tick_duration_seconds",
		Help:    "Wall time spent evaluating all instances for one tick.",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(m.tickDuration)

	m.activeInstances = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lumen_active_instances",
		Help: "Number of enabled graph instances currently loaded.",
	})
	prometheus.MustRegister(m.activeInstances)

	m.dmxSendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lumen_dmx_sends_total",
		Help: "Total Art-Net DMX packets transmitted.",
	})
	prometheus.MustRegister(m.dmxSendsTotal)

	m.dmxSendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lumen_dmx_send_failures_total",
		Help: "Total Art-Net DMX packet transmission failures.",
	})
	prometheus.MustRegister(m.dmxSendFailuresTotal)

	m.writeConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lumen_write_reduction_conflicts_total",
		Help: "Total fixture attribute writes that lost a write-reduction tie break.",
	})
	prometheus.MustRegister(m.writeConflictsTotal)

	m.gatewaySubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lumen_gateway_subscribers",
		Help: "Number of connected gateway WebSocket subscribers.",
	})
	prometheus.MustRegister(m.gatewaySubscribers)

	m.droppedCommands = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lumen_dropped_commands_total",
		Help: "Total commands dropped because the tick engine's command queue was full.",
	})
	prometheus.MustRegister(m.droppedCommands)

	return nil
}

// Start runs the /metrics HTTP server in a background goroutine.
func (m *Metrics) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(m.Listen, mux) //nolint:errcheck
	return nil
}

// ObserveTick records how long one tick's evaluation phase took.
func (m *Metrics) ObserveTick(seconds float64) { m.tickDuration.Observe(seconds) }

// SetActiveInstances updates the active-instance gauge.
func (m *Metrics) SetActiveInstances(n int) { m.activeInstances.Set(float64(n)) }

// IncDMXSend records one successful Art-Net transmission.
func (m *Metrics) IncDMXSend() { m.dmxSendsTotal.Inc() }

// IncDMXSendFailure records one failed Art-Net transmission.
func (m *Metrics) IncDMXSendFailure() { m.dmxSendFailuresTotal.Inc() }

// IncWriteConflict records one fixture attribute write that lost a
// write-reduction tie break to a higher-priority (or higher-ranked) writer.
func (m *Metrics) IncWriteConflict() { m.writeConflictsTotal.Inc() }

// SetGatewaySubscribers updates the connected-subscriber gauge.
func (m *Metrics) SetGatewaySubscribers(n int) { m.gatewaySubscribers.Set(float64(n)) }

// AddDroppedCommands records commands dropped due to a full queue.
func (m *Metrics) AddDroppedCommands(n uint64) { m.droppedCommands.Add(float64(n)) }
