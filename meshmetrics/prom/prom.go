// Package prom exports meshmetrics.Observer events to Prometheus, in the
// same registry-plus-handler style as the teacher's observability/prom
// package.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer exports meshmetrics events to Prometheus.
type Observer struct {
	connGauge         prometheus.Gauge
	nodeGauge         prometheus.Gauge
	publisherGauge    *prometheus.GaugeVec
	subscriberGauge   *prometheus.GaugeVec
	messagesPublished *prometheus.CounterVec
	messagesDelivered *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	rpcCloseTimeouts  prometheus.Counter
}

// NewObserver registers meshmetrics series on the registry.
func NewObserver(reg *prometheus.Registry) *Observer {
	o := &Observer{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshbus_mediator_connections",
			Help: "Current accepted TCP connections at the mediator.",
		}),
		nodeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshbus_mediator_nodes",
			Help: "Current registered node count.",
		}),
		publisherGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshbus_publishers",
			Help: "Current publisher count by topic.",
		}, []string{"topic"}),
		subscriberGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshbus_subscribers",
			Help: "Current subscriber count by topic.",
		}, []string{"topic"}),
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshbus_messages_published_total",
			Help: "Messages handed to Publish, by topic.",
		}, []string{"topic"}),
		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshbus_messages_delivered_total",
			Help: "Messages decoded and queued at a subscriber, by topic.",
		}, []string{"topic"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshbus_messages_dropped_total",
			Help: "Messages dropped at a dead publisher connection, by topic.",
		}, []string{"topic"}),
		rpcCloseTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshbus_rpc_close_timeouts_total",
			Help: "RPC close handshakes that hit their deadline.",
		}),
	}
	reg.MustRegister(
		o.connGauge,
		o.nodeGauge,
		o.publisherGauge,
		o.subscriberGauge,
		o.messagesPublished,
		o.messagesDelivered,
		o.messagesDropped,
		o.rpcCloseTimeouts,
	)
	return o
}

func (o *Observer) ConnAccepted() { o.connGauge.Inc() }
func (o *Observer) ConnClosed()   { o.connGauge.Dec() }

func (o *Observer) NodeRegistered(string) { o.nodeGauge.Inc() }
func (o *Observer) NodeRemoved(string)    { o.nodeGauge.Dec() }

func (o *Observer) PublisherAdded(topic string)   { o.publisherGauge.WithLabelValues(topic).Inc() }
func (o *Observer) PublisherRemoved(topic string) { o.publisherGauge.WithLabelValues(topic).Dec() }
func (o *Observer) SubscriberAdded(topic string)  { o.subscriberGauge.WithLabelValues(topic).Inc() }
func (o *Observer) SubscriberRemoved(topic string) {
	o.subscriberGauge.WithLabelValues(topic).Dec()
}

func (o *Observer) MessagePublished(topic string) { o.messagesPublished.WithLabelValues(topic).Inc() }
func (o *Observer) MessageDelivered(topic string) { o.messagesDelivered.WithLabelValues(topic).Inc() }
func (o *Observer) MessageDropped(topic string)   { o.messagesDropped.WithLabelValues(topic).Inc() }

func (o *Observer) RPCCloseTimeout() { o.rpcCloseTimeouts.Inc() }
