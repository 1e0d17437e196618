package node

import (
	"github.com/mosaicnetworks/mavnode/src/common"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the node's Prometheus collectors. A nil *metrics is valid
// and records nothing.
type metrics struct {
	framesIn      prometheus.Counter
	framesOut     prometheus.Counter
	invalid       *prometheus.CounterVec
	suppressed    prometheus.Counter
	droppedEvents prometheus.Counter
	peers         prometheus.Gauge
	connections   prometheus.Gauge
}

func newMetrics(registry prometheus.Registerer, labels prometheus.Labels) (*metrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &metrics{
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mavnode",
			Name:        "frames_received_total",
			ConstLabels: labels,
			Help:        "Total number of valid frames received",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mavnode",
			Name:        "frames_sent_total",
			ConstLabels: labels,
			Help:        "Total number of frames written to connections",
		}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "mavnode",
			Name:        "invalid_total",
			ConstLabels: labels,
			Help:        "Total number of refused inputs by error kind",
		}, []string{"kind"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mavnode",
			Name:        "invalid_suppressed_total",
			ConstLabels: labels,
			Help:        "Total number of Invalid events withheld by flood control",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mavnode",
			Name:        "events_dropped_total",
			ConstLabels: labels,
			Help:        "Total number of events discarded by the drop-oldest policy",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mavnode",
			Name:        "peers",
			ConstLabels: labels,
			Help:        "Current number of live peers",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mavnode",
			Name:        "connections",
			ConstLabels: labels,
			Help:        "Current number of open connections",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.framesIn, m.framesOut, m.invalid, m.suppressed, m.droppedEvents, m.peers, m.connections,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) frameIn() {
	if m != nil {
		m.framesIn.Inc()
	}
}

func (m *metrics) frameOut() {
	if m != nil {
		m.framesOut.Inc()
	}
}

func (m *metrics) invalidFrame(kind common.ErrorKind) {
	if m != nil {
		m.invalid.WithLabelValues(kind.String()).Inc()
	}
}

func (m *metrics) suppressedEvent() {
	if m != nil {
		m.suppressed.Inc()
	}
}

func (m *metrics) droppedEvent() {
	if m != nil {
		m.droppedEvents.Inc()
	}
}

func (m *metrics) setPeers(n int) {
	if m != nil {
		m.peers.Set(float64(n))
	}
}

func (m *metrics) setConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}
