package snmp3

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports USM statistics. A nil *Metrics records nothing.
type Metrics struct {
	reports       *prometheus.CounterVec
	discoveries   prometheus.Counter
	rediscoveries prometheus.Counter
	dropped       *prometheus.CounterVec
	traps         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snmp3",
			Subsystem: "usm",
			Name:      "reports_total",
			Help:      "USM report PDUs received, by usmStats counter.",
		}, []string{"counter"}),
		discoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snmp3",
			Subsystem: "usm",
			Name:      "discoveries_total",
			Help:      "Completed engine discoveries.",
		}),
		rediscoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snmp3",
			Subsystem: "usm",
			Name:      "rediscoveries_total",
			Help:      "Rediscoveries triggered by notInTimeWindow reports.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snmp3",
			Subsystem: "dispatcher",
			Name:      "dropped_packets_total",
			Help:      "Inbound packets dropped before reaching the application.",
		}, []string{"reason"}),
		traps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snmp3",
			Subsystem: "dispatcher",
			Name:      "notifications_total",
			Help:      "Notifications delivered to the receiver.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.reports, m.discoveries, m.rediscoveries, m.dropped, m.traps)
	}
	return m
}

func (m *Metrics) report(counter string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(counter).Inc()
}

func (m *Metrics) discovery() {
	if m == nil {
		return
	}
	m.discoveries.Inc()
}

func (m *Metrics) rediscovery() {
	if m == nil {
		return
	}
	m.rediscoveries.Inc()
}

func (m *Metrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) notification() {
	if m == nil {
		return
	}
	m.traps.Inc()
}
