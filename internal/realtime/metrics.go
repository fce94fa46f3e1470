package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "support_realtime_connections",
		Help: "Currently connected realtime sessions.",
	})
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "support_realtime_rooms",
		Help: "Rooms with at least one member.",
	})
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "support_realtime_deliveries_total",
		Help: "Frames handed to connection buffers, by outcome.",
	}, []string{"result"})
	busPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "support_realtime_bus_publish_failures_total",
		Help: "Redis publishes that failed; other instances missed the frame.",
	})
	busSubscribeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "support_realtime_bus_subscribe_failures_total",
		Help: "Redis subscriptions that failed or dropped and were retried.",
	})
)
