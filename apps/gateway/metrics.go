package main

import "github.com/prometheus/client_golang/prometheus"

var (
	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections",
		Help: "Open websocket connections.",
	})
	eventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_received_total",
		Help: "Inbound events by type.",
	}, []string{"type"})
	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_dropped_total",
		Help: "Inbound events rejected before publishing, by reason.",
	}, []string{"reason"})
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_published_total",
		Help: "Events written to the fanout topic, by type.",
	}, []string{"type"})
	eventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_events_delivered_total",
		Help: "Fanout events queued to a connection.",
	})
	publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_publish_errors_total",
		Help: "Failed writes to the fanout topic.",
	})
	slowClients = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_slow_clients_total",
		Help: "Connections dropped because their send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(connections, eventsReceived, eventsDropped, eventsPublished, eventsDelivered, publishErrors, slowClients)
}
