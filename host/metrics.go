package host

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
)

var metrics = struct {
	bytesSent     *prometheus.CounterVec
	bytesReceived *prometheus.CounterVec
	connections   prometheus.Gauge
}{
	bytesSent: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gbreduce",
			Subsystem: "host",
			Name:      "bytes_sent",
			Help:      "Bytes written to peer streams, length prefixes included",
		},
		[]string{"peer"},
	),
	bytesReceived: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gbreduce",
			Subsystem: "host",
			Name:      "bytes_received",
			Help:      "Bytes read from peer streams, length prefixes included",
		},
		[]string{"peer"},
	),
	connections: prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gbreduce",
			Subsystem: "host",
			Name:      "connections",
			Help:      "Number of open peer connections",
		},
	),
}

var metricsRegister sync.Once

func registerMetrics() {
	metricsRegister.Do(func() {
		prometheus.MustRegister(metrics.bytesSent)
		prometheus.MustRegister(metrics.bytesReceived)
		prometheus.MustRegister(metrics.connections)
	})
}

// peerCounter attributes the traffic of one connection to its peer and to the
// host totals.
type peerCounter struct {
	host *Host
	peer string
}

func newPeerCounter(h *Host, id peer.ID) *peerCounter {
	return &peerCounter{host: h, peer: id.String()}
}

func (pc *peerCounter) AddBytesSent(n uint64) {
	pc.host.AddBytesSent(n)
	metrics.bytesSent.WithLabelValues(pc.peer).Add(float64(n))
}

func (pc *peerCounter) AddBytesReceived(n uint64) {
	pc.host.AddBytesReceived(n)
	metrics.bytesReceived.WithLabelValues(pc.peer).Add(float64(n))
}
