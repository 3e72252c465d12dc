package modem

import (
	"github.com/prometheus/client_golang/prometheus"
)

// modemMetrics holds Prometheus metrics for modem exchanges.
type modemMetrics struct {
	commands      prometheus.Counter
	timeouts      prometheus.Counter
	notifications *prometheus.CounterVec
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	bytesDropped  prometheus.Counter
}

// newModemMetrics creates the modem metrics. They count from creation on
// and are exported once registered.
func newModemMetrics() *modemMetrics {
	return &modemMetrics{
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellsock",
			Subsystem: "modem",
			Name:      "commands_total",
			Help:      "Total number of AT commands written to the modem",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellsock",
			Subsystem: "modem",
			Name:      "response_timeouts_total",
			Help:      "Total number of waits that ended without a matching response",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellsock",
			Subsystem: "modem",
			Name:      "notifications_total",
			Help:      "Total number of unsolicited notifications for registered sockets",
		}, []string{"kind"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellsock",
			Subsystem: "socket",
			Name:      "sent_bytes_total",
			Help:      "Total number of payload bytes accepted by the modem",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellsock",
			Subsystem: "socket",
			Name:      "received_bytes_total",
			Help:      "Total number of payload bytes fetched from the modem",
		}),
		bytesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cellsock",
			Subsystem: "socket",
			Name:      "dropped_bytes_total",
			Help:      "Total number of received bytes that did not fit a socket buffer",
		}),
	}
}

func (m *modemMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.commands, m.timeouts, m.notifications,
		m.bytesSent, m.bytesReceived, m.bytesDropped,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
