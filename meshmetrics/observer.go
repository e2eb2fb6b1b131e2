// Package meshmetrics defines the ambient instrumentation hook threaded
// through the mediator, node, publisher, and subscriber. Observer calls are
// pure instrumentation: no pub/sub correctness decision ever depends on
// their outcome.
package meshmetrics

// Observer receives lifecycle and traffic events for metrics/logging export.
type Observer interface {
	ConnAccepted()
	ConnClosed()

	NodeRegistered(nodeURI string)
	NodeRemoved(nodeURI string)

	PublisherAdded(topic string)
	PublisherRemoved(topic string)
	SubscriberAdded(topic string)
	SubscriberRemoved(topic string)

	MessagePublished(topic string)
	MessageDelivered(topic string)
	MessageDropped(topic string)

	RPCCloseTimeout()
}

type noopObserver struct{}

func (noopObserver) ConnAccepted()              {}
func (noopObserver) ConnClosed()                {}
func (noopObserver) NodeRegistered(string)      {}
func (noopObserver) NodeRemoved(string)         {}
func (noopObserver) PublisherAdded(string)      {}
func (noopObserver) PublisherRemoved(string)    {}
func (noopObserver) SubscriberAdded(string)     {}
func (noopObserver) SubscriberRemoved(string)   {}
func (noopObserver) MessagePublished(string)    {}
func (noopObserver) MessageDelivered(string)    {}
func (noopObserver) MessageDropped(string)      {}
func (noopObserver) RPCCloseTimeout()           {}

// Noop is an Observer whose methods do nothing; it is the default wherever
// an Observer is not supplied.
var Noop Observer = noopObserver{}
