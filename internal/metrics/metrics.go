// Package metrics defines the Prometheus collectors of the analyzer.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and tools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nfanalyzer"

// Metrics holds every collector exported by the analyzer.
type Metrics struct {
	DatagramsReceived  prometheus.Counter
	DatagramsProcessed prometheus.Counter
	DecodeErrors       *prometheus.CounterVec
	FlowRecords        prometheus.Counter
	EnqueueFailures    *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	ModulesRunning     prometheus.Gauge
	TargetsReported    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. It returns nil
// when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Datagrams read from the listening socket",
		}),
		DatagramsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_processed_total",
			Help:      "Datagrams decoded and dispatched to modules",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped by the decoder, by reason",
		}, []string{"reason"}),
		FlowRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_records_total",
			Help:      "Flow records contained in dispatched datagrams",
		}),
		EnqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failures_total",
			Help:      "Packets not delivered cleanly to a module queue",
		}, []string{"module", "reason"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "module_queue_depth",
			Help:      "Packets waiting in a module's input queue",
		}, []string{"module"}),
		ModulesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules_running",
			Help:      "Analysis modules currently running",
		}),
		TargetsReported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ddos_targets_reported_total",
			Help:      "Suspected DDoS targets reported by detector modules",
		}, []string{"module"}),
	}

	reg.MustRegister(
		m.DatagramsReceived,
		m.DatagramsProcessed,
		m.DecodeErrors,
		m.FlowRecords,
		m.EnqueueFailures,
		m.QueueDepth,
		m.ModulesRunning,
		m.TargetsReported,
	)
	return m
}

func (m *Metrics) Received() {
	if m != nil {
		m.DatagramsReceived.Inc()
	}
}

func (m *Metrics) Processed(records int) {
	if m != nil {
		m.DatagramsProcessed.Inc()
		m.FlowRecords.Add(float64(records))
	}
}

func (m *Metrics) DecodeError(reason string) {
	if m != nil {
		m.DecodeErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) EnqueueFailure(module, reason string) {
	if m != nil {
		m.EnqueueFailures.WithLabelValues(module, reason).Inc()
	}
}

func (m *Metrics) SetQueueDepth(module string, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(module).Set(float64(depth))
	}
}

func (m *Metrics) ModuleStarted() {
	if m != nil {
		m.ModulesRunning.Inc()
	}
}

func (m *Metrics) ModuleStopped() {
	if m != nil {
		m.ModulesRunning.Dec()
	}
}

func (m *Metrics) TargetReported(module string, n int) {
	if m != nil {
		m.TargetsReported.WithLabelValues(module).Add(float64(n))
	}
}
