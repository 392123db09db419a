// Package metrics exposes traffic and session counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/h1net/internal/protocol"
	"github.com/1ureka/h1net/internal/util"
)

const namespace = "h1net"

// Metrics owns a private registry. The traffic counters read util.Stats at
// scrape time; the rest are fed by the dispatcher and the session manager.
type Metrics struct {
	reg *prometheus.Registry

	routed      *prometheus.CounterVec
	unknown     *prometheus.CounterVec
	failed      *prometheus.CounterVec
	handshakes  *prometheus.CounterVec
	disconnects *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "packets_total",
			Help:      "Decoded packets routed to handlers.",
		}, []string{"table", "packet"}),
		unknown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "unknown_opcodes_total",
			Help:      "Datagrams whose opcode did not resolve, by leading byte.",
		}, []string{"table", "opcode"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "decode_errors_total",
			Help:      "Datagrams that failed to decode.",
		}, []string{"table", "packet"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "handshakes_total",
			Help:      "Completed handshakes by status.",
		}, []string{"status"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Deleted sessions by reason.",
		}, []string{"reason"}),
	}

	m.reg.MustRegister(
		m.routed, m.unknown, m.failed, m.handshakes, m.disconnects,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Session records currently held.",
		}, func() float64 {
			return float64(util.Stats.OpenedSessions.Load() - util.Stats.ClosedSessions.Load())
		}),
		counterFunc("transport", "sent_bytes_total", "Bytes written to the link.", &util.Stats.BytesSent),
		counterFunc("transport", "received_bytes_total", "Bytes read from the link.", &util.Stats.BytesRecv),
		counterFunc("transport", "sent_packets_total", "Datagrams written to the link.", &util.Stats.PacketsSent),
		counterFunc("transport", "received_packets_total", "Datagrams read from the link.", &util.Stats.PacketsRecv),
		counterFunc("transport", "dropped_packets_total", "Inbound datagrams dropped by the worker.", &util.Stats.Dropped),
	)
	return m
}

func counterFunc(subsystem, name, help string, v *atomic.Int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Load()) })
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Routed counts a decoded packet.
func (m *Metrics) Routed(table protocol.TableID, name string) {
	m.routed.WithLabelValues(string(table), name).Inc()
}

// Unknown counts an unresolved opcode.
func (m *Metrics) Unknown(table protocol.TableID, opcode uint32) {
	m.unknown.WithLabelValues(string(table), "0x"+strconv.FormatUint(uint64(opcode), 16)).Inc()
}

// Failed counts a decode error. name is empty when the opcode itself was
// unreadable.
func (m *Metrics) Failed(table protocol.TableID, name string) {
	m.failed.WithLabelValues(string(table), name).Inc()
}

// Handshake counts a finished handshake.
func (m *Metrics) Handshake(status uint32) {
	m.handshakes.WithLabelValues(strconv.FormatUint(uint64(status), 10)).Inc()
}

// Disconnect counts a deleted session.
func (m *Metrics) Disconnect(reason string) {
	m.disconnects.WithLabelValues(reason).Inc()
}
