package racetelem

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "racetelem"

type Metrics struct {
	FramesReceived prometheus.Counter
	FramesDecoded  *prometheus.CounterVec
	FramesIgnored  prometheus.Counter
	FramesInvalid  prometheus.Counter
	FramesDropped  prometheus.Counter
	SlotWrites     prometheus.Counter
	WriteErrors    prometheus.Counter
	BusReconnects  prometheus.Counter
	QueueDepth     prometheus.Gauge
}

// NewMetrics creates the writer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Frames taken off the queue by the decode loop.",
		}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "decoded_total",
			Help:      "Frames that produced slot updates, by source.",
		}, []string{"source"}),
		FramesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "ignored_total",
			Help:      "Frames with an arbitration ID that carries no sensor data.",
		}),
		FramesInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "invalid_total",
			Help:      "Malformed frames that were dropped.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames dropped because the queue was full.",
		}),
		SlotWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Slot writes to the shared sensor store.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Slot writes that failed.",
		}),
		BusReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bus",
			Name:      "reconnects_total",
			Help:      "Times the frame source was reopened after an error.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "queue_depth",
			Help:      "Frames waiting to be decoded.",
		}),
	}
	reg.MustRegister(
		m.FramesReceived,
		m.FramesDecoded,
		m.FramesIgnored,
		m.FramesInvalid,
		m.FramesDropped,
		m.SlotWrites,
		m.WriteErrors,
		m.BusReconnects,
		m.QueueDepth,
	)
	return m
}
