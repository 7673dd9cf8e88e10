package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported by the payment gateway. A nil *Metrics is
// valid and records nothing, so components can be constructed without one in tests.
type Metrics struct {
	providerAcquire *prometheus.CounterVec
	dispatchAttempt *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
	payments        *prometheus.CounterVec
	fileState       *prometheus.GaugeVec
	backups         *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "provider",
			Name:      "acquisitions_total",
			Help:      "Provider pool acquisitions segmented by network and outcome.",
		}, []string{"network", "outcome"}),
		dispatchAttempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "dispatch",
			Name:      "send_attempts_total",
			Help:      "Transaction submission attempts segmented by outcome.",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "dispatch",
			Name:      "confirmations_total",
			Help:      "Confirmation polls segmented by final status.",
		}, []string{"status"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "payments",
			Name:      "recorded_total",
			Help:      "Recorded payments segmented by crypto type and outcome.",
		}, []string{"crypto", "outcome"}),
		fileState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "paygate",
			Subsystem: "integrity",
			Name:      "file_state",
			Help:      "1 for the current integrity state of each critical file.",
		}, []string{"file", "state"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "backup",
			Name:      "captured_total",
			Help:      "Backups captured segmented by reason.",
		}, []string{"reason"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paygate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.providerAcquire,
			m.dispatchAttempt,
			m.confirmations,
			m.payments,
			m.fileState,
			m.backups,
			m.requestLatency,
		)
	}
	return m
}

func (m *Metrics) ProviderAcquire(network, outcome string) {
	if m == nil {
		return
	}
	m.providerAcquire.WithLabelValues(network, outcome).Inc()
}

func (m *Metrics) DispatchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.dispatchAttempt.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Confirmation(status string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(status).Inc()
}

func (m *Metrics) PaymentRecorded(crypto, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(crypto, outcome).Inc()
}

// FileState sets the gauge for file to the given state and clears the others.
func (m *Metrics) FileState(file, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		m.fileState.WithLabelValues(file, s).Set(value)
	}
}

func (m *Metrics) BackupCaptured(reason string) {
	if m == nil {
		return
	}
	m.backups.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(route, status).Observe(elapsed.Seconds())
}
