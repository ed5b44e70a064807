package twitchirc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the optional metrics registration described in
// spec §6. A zero MetricsConfig disables metrics entirely (NewMetrics
// returns nil, and the pool/connection skip all metric updates).
type MetricsConfig struct {
	// Enabled turns metrics registration on. False by default so that
	// constructing a Pool never touches the process-wide registry
	// unless the caller opts in.
	Enabled bool
	// Registerer is where collectors are registered; nil uses
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// ConstLabels are attached to every series this package registers,
	// e.g. {"client": "my-bot"}.
	ConstLabels prometheus.Labels
}

// Metrics wraps the Prometheus collectors named in spec §6, generalizing
// adred-codev-ws_poc/go-server-3's internal/metrics.Registry (a promauto
// struct of gauges/counters) from that server's connection/message counts
// to this client's per-command and per-state breakdowns.
type Metrics struct {
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	ConnectionsFailed prometheus.Counter
	ConnectionsCreated prometheus.Counter
	Channels    *prometheus.GaugeVec
	Connections *prometheus.GaugeVec
}

// NewMetrics registers the package's collectors against cfg.Registerer (or
// the default registry) with cfg.ConstLabels attached, mirroring
// promauto.With(reg) in the teacher. It returns nil if cfg.Enabled is
// false.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if cfg.ConstLabels != nil {
		reg = prometheus.WrapRegistererWith(cfg.ConstLabels, reg)
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twitchirc_messages_received",
			Help: "Total IRC messages received from the server, by command.",
		}, []string{"command"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "twitchirc_messages_sent",
			Help: "Total IRC messages sent to the server, by command.",
		}, []string{"command"}),
		ConnectionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "twitchirc_connections_failed",
			Help: "Total connections that failed to establish.",
		}),
		ConnectionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "twitchirc_connections_created",
			Help: "Total connections created by the pool.",
		}),
		Channels: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "twitchirc_channels",
			Help: "Current channel counts, by type (wanted, server).",
		}, []string{"type"}),
		Connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "twitchirc_connections",
			Help: "Current connection counts, by state (initializing, open).",
		}, []string{"state"}),
	}
}

func (m *Metrics) messageReceived(command string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(command).Inc()
}

func (m *Metrics) messageSent(command string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(command).Inc()
}

func (m *Metrics) connectionFailed() {
	if m == nil {
		return
	}
	m.ConnectionsFailed.Inc()
}

func (m *Metrics) connectionCreated() {
	if m == nil {
		return
	}
	m.ConnectionsCreated.Inc()
}

func (m *Metrics) setChannels(kind string, n int) {
	if m == nil {
		return
	}
	m.Channels.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) setConnections(state string, n int) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(state).Set(float64(n))
}
