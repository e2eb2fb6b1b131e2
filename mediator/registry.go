package mediator

import (
	"sync"

	"github.com/meshbus/meshbus-go/meshmetrics"
	"github.com/meshbus/meshbus-go/rpc"
)

// NodeURI identifies a registered node by its RPC peer address.
type NodeURI string

// AddressPort is a publisher's data-listener address.
type AddressPort struct {
	Host string
	Port int
}

type nodeRecord struct {
	name               string
	conn               *rpc.Socket
	publisherEndpoints map[string]AddressPort // topic -> listener address
	subscribedTopics   map[string]struct{}
}

type topicRecord struct {
	publishingNodes  map[NodeURI]struct{}
	subscribingNodes map[NodeURI]struct{}
}

// RegistryStats is a point-in-time snapshot of registry sizes.
type RegistryStats struct {
	NodeCount  int
	TopicCount int
}

// RegistryEvent is a change notification pushed to the admin feed; Kind is
// one of "node_registered", "node_removed", "publisher_added",
// "publisher_removed", "subscriber_added", "subscriber_removed".
type RegistryEvent struct {
	Kind  string `json:"kind"`
	Topic string `json:"topic,omitempty"`
	Node  string `json:"node,omitempty"`
}

// registry holds the topic and node tables. Operations that touch both
// tables always acquire topicMu before nodeMu, per the fixed lock order.
type registry struct {
	obs meshmetrics.Observer

	topicMu sync.Mutex
	topics  map[string]*topicRecord

	nodeMu sync.Mutex
	nodes  map[NodeURI]*nodeRecord

	feedMu sync.Mutex
	feeds  map[chan RegistryEvent]struct{}
}

func newRegistry(obs meshmetrics.Observer) *registry {
	return &registry{
		obs:    obs,
		topics: make(map[string]*topicRecord),
		nodes:  make(map[NodeURI]*nodeRecord),
		feeds:  make(map[chan RegistryEvent]struct{}),
	}
}

// subscribeEvents registers a buffered channel for registry change events.
// The returned cancel function must be called to unregister it; events are
// dropped, never blocked on, for a feed that falls behind.
func (r *registry) subscribeEvents() (<-chan RegistryEvent, func()) {
	ch := make(chan RegistryEvent, 64)
	r.feedMu.Lock()
	r.feeds[ch] = struct{}{}
	r.feedMu.Unlock()
	cancel := func() {
		r.feedMu.Lock()
		delete(r.feeds, ch)
		r.feedMu.Unlock()
	}
	return ch, cancel
}

func (r *registry) publishEvent(ev RegistryEvent) {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	for ch := range r.feeds {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *registry) getOrCreateTopicLocked(topic string) *topicRecord {
	tr := r.topics[topic]
	if tr == nil {
		tr = &topicRecord{
			publishingNodes:  make(map[NodeURI]struct{}),
			subscribingNodes: make(map[NodeURI]struct{}),
		}
		r.topics[topic] = tr
	}
	return tr
}

// registerNode inserts an empty node record at accept time, before the name
// is known; addNode fills in the name once the connecting handshake
// delivers it.
func (r *registry) registerNode(uri NodeURI, conn *rpc.Socket) {
	r.nodeMu.Lock()
	r.nodes[uri] = &nodeRecord{
		conn:               conn,
		publisherEndpoints: make(map[string]AddressPort),
		subscribedTopics:   make(map[string]struct{}),
	}
	r.nodeMu.Unlock()
}

func (r *registry) addNode(uri NodeURI, name string) {
	r.nodeMu.Lock()
	if nr := r.nodes[uri]; nr != nil {
		nr.name = name
	}
	r.nodeMu.Unlock()
	r.obs.NodeRegistered(string(uri))
	r.publishEvent(RegistryEvent{Kind: "node_registered", Node: string(uri)})
}

// addPublisher records uri as a publisher of topic at addrPort, then — while
// holding only the node lock, matching the responder-side ordering in the
// control-plane design — notifies every node currently subscribed to topic.
func (r *registry) addPublisher(uri NodeURI, topic string, addrPort AddressPort) {
	r.topicMu.Lock()
	tr := r.getOrCreateTopicLocked(topic)
	tr.publishingNodes[uri] = struct{}{}
	subscribers := make([]NodeURI, 0, len(tr.subscribingNodes))
	for subURI := range tr.subscribingNodes {
		subscribers = append(subscribers, subURI)
	}
	r.topicMu.Unlock()

	r.nodeMu.Lock()
	if nr := r.nodes[uri]; nr != nil {
		nr.publisherEndpoints[topic] = addrPort
	}
	for _, subURI := range subscribers {
		subNR := r.nodes[subURI]
		if subNR == nil {
			continue
		}
		payload := map[string]any{
			"topic_name":          topic,
			"publisher_addresses": []string{addrPort.Host},
			"publisher_ports":     []int32{int32(addrPort.Port)},
		}
		_ = subNR.conn.SendRequest("connectSubscriberToPublishers", payload)
	}
	r.nodeMu.Unlock()

	r.obs.PublisherAdded(topic)
	r.publishEvent(RegistryEvent{Kind: "publisher_added", Topic: topic, Node: string(uri)})
}

// addSubscriber records uri as a subscriber of topic and returns the
// current publisher endpoints for that topic as parallel slices.
func (r *registry) addSubscriber(uri NodeURI, topic string) (addresses []string, ports []int32) {
	r.topicMu.Lock()
	tr := r.getOrCreateTopicLocked(topic)
	tr.subscribingNodes[uri] = struct{}{}
	publishers := make([]NodeURI, 0, len(tr.publishingNodes))
	for pubURI := range tr.publishingNodes {
		publishers = append(publishers, pubURI)
	}
	r.topicMu.Unlock()

	r.nodeMu.Lock()
	if nr := r.nodes[uri]; nr != nil {
		nr.subscribedTopics[topic] = struct{}{}
	}
	for _, pubURI := range publishers {
		pubNR := r.nodes[pubURI]
		if pubNR == nil {
			continue
		}
		ap, ok := pubNR.publisherEndpoints[topic]
		if !ok {
			continue
		}
		addresses = append(addresses, ap.Host)
		ports = append(ports, int32(ap.Port))
	}
	r.nodeMu.Unlock()

	r.obs.SubscriberAdded(topic)
	r.publishEvent(RegistryEvent{Kind: "subscriber_added", Topic: topic, Node: string(uri)})
	return addresses, ports
}

func (r *registry) removePublisher(uri NodeURI, topic string) {
	r.topicMu.Lock()
	r.nodeMu.Lock()
	if nr := r.nodes[uri]; nr != nil {
		delete(nr.publisherEndpoints, topic)
	}
	if tr := r.topics[topic]; tr != nil {
		delete(tr.publishingNodes, uri)
	}
	r.nodeMu.Unlock()
	r.topicMu.Unlock()
	r.obs.PublisherRemoved(topic)
	r.publishEvent(RegistryEvent{Kind: "publisher_removed", Topic: topic, Node: string(uri)})
}

func (r *registry) removeSubscriber(uri NodeURI, topic string) {
	r.topicMu.Lock()
	r.nodeMu.Lock()
	if nr := r.nodes[uri]; nr != nil {
		delete(nr.subscribedTopics, topic)
	}
	if tr := r.topics[topic]; tr != nil {
		delete(tr.subscribingNodes, uri)
	}
	r.nodeMu.Unlock()
	r.topicMu.Unlock()
	r.obs.SubscriberRemoved(topic)
	r.publishEvent(RegistryEvent{Kind: "subscriber_removed", Topic: topic, Node: string(uri)})
}

// removeNode erases uri from every topic it participates in, then erases
// the node entry and closes its RPC connection. Unknown URIs are a no-op.
func (r *registry) removeNode(uri NodeURI) {
	r.topicMu.Lock()
	r.nodeMu.Lock()
	nr := r.nodes[uri]
	if nr == nil {
		r.nodeMu.Unlock()
		r.topicMu.Unlock()
		return
	}
	for topic := range nr.publisherEndpoints {
		if tr := r.topics[topic]; tr != nil {
			delete(tr.publishingNodes, uri)
		}
	}
	for topic := range nr.subscribedTopics {
		if tr := r.topics[topic]; tr != nil {
			delete(tr.subscribingNodes, uri)
		}
	}
	delete(r.nodes, uri)
	r.nodeMu.Unlock()
	r.topicMu.Unlock()

	if nr.conn != nil {
		_ = nr.conn.Close()
	}
	r.obs.NodeRemoved(string(uri))
	r.publishEvent(RegistryEvent{Kind: "node_removed", Node: string(uri)})
}

func (r *registry) stats() RegistryStats {
	r.nodeMu.Lock()
	nodeCount := len(r.nodes)
	r.nodeMu.Unlock()

	r.topicMu.Lock()
	topicCount := len(r.topics)
	r.topicMu.Unlock()

	return RegistryStats{NodeCount: nodeCount, TopicCount: topicCount}
}

// connectionFor returns the live RPC connection for uri, if registered.
func (r *registry) connectionFor(uri NodeURI) *rpc.Socket {
	r.nodeMu.Lock()
	defer r.nodeMu.Unlock()
	nr := r.nodes[uri]
	if nr == nil {
		return nil
	}
	return nr.conn
}
