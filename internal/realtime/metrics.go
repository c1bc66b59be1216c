package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts bus traffic. A nil *Metrics records nothing.
type Metrics struct {
	published *prometheus.CounterVec
	delivered prometheus.Counter
	dropped   prometheus.Counter
}

// NewMetrics registers the realtime collectors on reg, including gauges that
// read session and room counts from registry.
func NewMetrics(reg prometheus.Registerer, registry *Registry) *Metrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "filehub",
		Subsystem: "realtime",
		Name:      "sessions",
		Help:      "Connected sessions.",
	}, func() float64 { return float64(registry.SessionCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "filehub",
		Subsystem: "realtime",
		Name:      "rooms",
		Help:      "Rooms with at least one joined session.",
	}, func() float64 { return float64(registry.RoomCount()) })

	return &Metrics{
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filehub",
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Events published, by event name.",
		}, []string{"event"}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filehub",
			Subsystem: "realtime",
			Name:      "frames_delivered_total",
			Help:      "Frames queued on session outboxes.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filehub",
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because an outbox was full or closed.",
		}),
	}
}

func (m *Metrics) observePublish(ev EventName, delivered, dropped int) {
	if m == nil {
		return
	}
	label := string(ev)
	if IsNotification(ev) {
		label = "notification"
	}
	m.published.WithLabelValues(label).Inc()
	m.delivered.Add(float64(delivered))
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) observeReply(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.delivered.Inc()
	} else {
		m.dropped.Inc()
	}
}
