// Package metrics exports e1381 session counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-astm/e1381"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ConnStats is implemented by gateway.Server.
type ConnStats interface {
	ConnCount() int
	Rejected() uint64
}

type counterDef struct {
	name string
	help string
	load func(m *e1381.Metrics) uint64
}

var counterDefs = []counterDef{
	{"frames_sent_total", "Frames sent and acknowledged.", func(m *e1381.Metrics) uint64 { return m.FrameSendCount.Load() }},
	{"frames_received_total", "Frames received and accepted.", func(m *e1381.Metrics) uint64 { return m.FrameRecvCount.Load() }},
	{"frame_retries_total", "Frame retransmissions after NAK.", func(m *e1381.Metrics) uint64 { return m.FrameRetryCount.Load() }},
	{"naks_sent_total", "NAKs sent to peers.", func(m *e1381.Metrics) uint64 { return m.NakSentCount.Load() }},
	{"checksum_errors_total", "Inbound frames with a checksum mismatch.", func(m *e1381.Metrics) uint64 { return m.ChecksumErrCount.Load() }},
	{"stray_bytes_total", "Discarded out-of-protocol bytes.", func(m *e1381.Metrics) uint64 { return m.StrayByteCount.Load() }},
	{"messages_sent_total", "Messages sent.", func(m *e1381.Metrics) uint64 { return m.MsgSendCount.Load() }},
	{"messages_received_total", "Messages received.", func(m *e1381.Metrics) uint64 { return m.MsgRecvCount.Load() }},
	{"handshake_errors_total", "ENQ handshakes that were not acknowledged.", func(m *e1381.Metrics) uint64 { return m.HandshakeErrCount.Load() }},
	{"session_errors_total", "Sessions ended by a fatal error.", func(m *e1381.Metrics) uint64 { return m.SessionErrCount.Load() }},
	{"idle_timeouts_total", "Sessions closed for inactivity.", func(m *e1381.Metrics) uint64 { return m.IdleTimeoutCount.Load() }},
}

// NewCollectors returns one collector per counter of m, named
// <namespace>_e1381_<counter>.
func NewCollectors(namespace string, m *e1381.Metrics) []prometheus.Collector {
	cs := make([]prometheus.Collector, 0, len(counterDefs)+1)

	for _, def := range counterDefs {
		load := def.load
		cs = append(cs, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "e1381",
			Name:      def.name,
			Help:      def.help,
		}, func() float64 { return float64(load(m)) }))
	}

	cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "e1381",
		Name:      "active_sessions",
		Help:      "Sessions currently running.",
	}, func() float64 { return float64(m.ActiveSessions.Load()) }))

	return cs
}

// NewConnCollectors returns the gateway connection collectors.
func NewConnCollectors(namespace string, s ConnStats) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open instrument connections.",
		}, func() float64 { return float64(s.ConnCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rejected_connections_total",
			Help:      "Connections closed by the connection or accept-rate limits.",
		}, func() float64 { return float64(s.Rejected()) }),
	}
}

// Register registers the collectors of m, and of s when not nil, with reg.
func Register(reg prometheus.Registerer, namespace string, m *e1381.Metrics, s ConnStats) error {
	cs := NewCollectors(namespace, m)
	if s != nil {
		cs = append(cs, NewConnCollectors(namespace, s)...)
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
