// Package node implements the per-process runtime that registers with the
// mediator and owns a process's publishers and subscribers. It routes the
// mediator's discovery callbacks to the right subscriber and tells the
// mediator when a publisher or subscriber goes away.
package node

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meshbus/meshbus-go/lifecycle"
	"github.com/meshbus/meshbus-go/meshbuserr"
	"github.com/meshbus/meshbus-go/meshmsg"
	"github.com/meshbus/meshbus-go/pubsub"
	"github.com/meshbus/meshbus-go/rpc"
)

type publisherHandle interface {
	Topic() string
	Close() error
}

type subscriberHandle interface {
	Topic() string
	ConnectToPublisher(host string, port int) error
	Spin()
	SpinOnce()
	Close() error
}

// ErrDuplicateTopic is returned when CreatePublisher or CreateSubscriber is
// called twice for the same topic on the same node.
var ErrDuplicateTopic = meshbuserr.Wrap(meshbuserr.ComponentNode, meshbuserr.StageValidate, meshbuserr.CodeInvalidState, nil)

// Node is an RPC client to the mediator plus the publishers and subscribers
// it owns.
type Node struct {
	opts      options
	rpcClient *rpc.Socket

	pubMu      sync.Mutex
	publishers map[string]publisherHandle

	subMu       sync.Mutex
	subscribers map[string]subscriberHandle

	mu             sync.Mutex
	disconnectCond *sync.Cond
	connected      atomic.Bool
}

// New dials the mediator, completes the connecting handshake with this
// node's name, registers the discovery and closing callbacks, and registers
// Disconnect as a lifecycle deactivation routine.
func New(opts ...Option) (*Node, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts:        cfg,
		publishers:  make(map[string]publisherHandle),
		subscribers: make(map[string]subscriberHandle),
	}
	n.disconnectCond = sync.NewCond(&n.mu)

	sock, err := rpc.Dial(context.Background(), cfg.mediatorAddr,
		map[string]any{"node_name": cfg.nodeName}, cfg.connectTimeout,
		rpc.WithObserver(cfg.observer))
	if err != nil {
		return nil, err
	}
	n.rpcClient = sock
	n.connected.Store(true)

	sock.OnRequest("connectSubscriberToPublishers", n.onConnectSubscriberToPublishers)
	// disconnect closes this same socket, so it must not run on the receive
	// loop that is still inside the closing handshake.
	sock.OnClosing(func() { go n.disconnect() })
	lifecycle.RegisterDeactivateRoutine(n.disconnect)

	return n, nil
}

// CreatePublisher binds a listener for topic and tells the mediator about
// it. Calling this twice for the same topic on the same node fails with
// ErrDuplicateTopic.
func CreatePublisher[T any, PT meshmsg.MessagePtr[T]](n *Node, topic string) (*pubsub.Publisher[T, PT], error) {
	n.pubMu.Lock()
	if _, exists := n.publishers[topic]; exists {
		n.pubMu.Unlock()
		return nil, ErrDuplicateTopic
	}
	n.publishers[topic] = nil // reserve the slot while the listener binds
	n.pubMu.Unlock()

	pub, err := pubsub.NewPublisher[T, PT](topic, n, n.opts.observer)
	if err != nil {
		n.pubMu.Lock()
		delete(n.publishers, topic)
		n.pubMu.Unlock()
		return nil, err
	}

	n.pubMu.Lock()
	n.publishers[topic] = pub
	n.pubMu.Unlock()

	host, port := pub.Addr()
	_ = n.rpcClient.SendRequest("addPublisher", map[string]any{
		"topic_name": topic,
		"address":    host,
		"port":       int32(port),
	})
	return pub, nil
}

// CreateSubscriber constructs a subscriber for topic, asks the mediator for
// the topic's current publishers, and dials each one before returning.
func CreateSubscriber[T any, PT meshmsg.MessagePtr[T]](n *Node, topic string, queueSize int, callback func(PT)) (*pubsub.Subscriber[T, PT], error) {
	n.subMu.Lock()
	if _, exists := n.subscribers[topic]; exists {
		n.subMu.Unlock()
		return nil, ErrDuplicateTopic
	}
	n.subscribers[topic] = nil
	n.subMu.Unlock()

	sub := pubsub.NewSubscriber[T, PT](topic, queueSize, callback, n, n.opts.observer)

	n.subMu.Lock()
	n.subscribers[topic] = sub
	n.subMu.Unlock()

	ctx := context.Background()
	resp, err := n.rpcClient.SendRequestAndGetResponse(ctx, "addSubscriber", map[string]any{"topic_name": topic})
	if err != nil {
		n.subMu.Lock()
		delete(n.subscribers, topic)
		n.subMu.Unlock()
		return nil, err
	}

	hosts, ports := publisherEndpointsFromResponse(resp)
	for i := range hosts {
		_ = sub.ConnectToPublisher(hosts[i], ports[i])
	}
	return sub, nil
}

func (n *Node) onConnectSubscriberToPublishers(message any) {
	m, ok := message.(map[string]any)
	if !ok {
		return
	}
	topic, _ := m["topic_name"].(string)

	n.subMu.Lock()
	sub := n.subscribers[topic]
	n.subMu.Unlock()
	if sub == nil {
		return
	}

	hosts, ports := publisherEndpointsFromResponse(m)
	for i := range hosts {
		_ = sub.ConnectToPublisher(hosts[i], ports[i])
	}
}

func publisherEndpointsFromResponse(resp any) (hosts []string, ports []int) {
	m, ok := resp.(map[string]any)
	if !ok {
		return nil, nil
	}
	addrsAny, _ := m["publisher_addresses"].([]any)
	portsAny, _ := m["publisher_ports"].([]any)
	n := len(addrsAny)
	if len(portsAny) < n {
		n = len(portsAny)
	}
	hosts = make([]string, 0, n)
	ports = make([]int, 0, n)
	for i := 0; i < n; i++ {
		h, _ := addrsAny[i].(string)
		hosts = append(hosts, h)
		ports = append(ports, asInt(portsAny[i]))
	}
	return hosts, ports
}

func asInt(v any) int {
	switch t := v.(type) {
	case int32:
		return int(t)
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

// RemovePublisherByTopic implements pubsub.NodeHandle.
func (n *Node) RemovePublisherByTopic(topic string) {
	n.pubMu.Lock()
	delete(n.publishers, topic)
	n.pubMu.Unlock()
	_ = n.rpcClient.SendRequest("removePublisher", map[string]any{"topic_name": topic})
}

// RemoveSubscriberByTopic implements pubsub.NodeHandle.
func (n *Node) RemoveSubscriberByTopic(topic string) {
	n.subMu.Lock()
	delete(n.subscribers, topic)
	n.subMu.Unlock()
	_ = n.rpcClient.SendRequest("removeSubscriber", map[string]any{"topic_name": topic})
}

// Disconnect idempotently tears the node down: closes the mediator
// connection, tells every publisher and subscriber to close, and wakes any
// goroutine blocked in Spin.
func (n *Node) Disconnect() { n.disconnect() }

func (n *Node) disconnect() {
	if !n.connected.CompareAndSwap(true, false) {
		return
	}
	_ = n.rpcClient.Close()

	n.pubMu.Lock()
	pubs := make([]publisherHandle, 0, len(n.publishers))
	for _, p := range n.publishers {
		if p != nil {
			pubs = append(pubs, p)
		}
	}
	n.publishers = make(map[string]publisherHandle)
	n.pubMu.Unlock()

	n.subMu.Lock()
	subs := make([]subscriberHandle, 0, len(n.subscribers))
	for _, s := range n.subscribers {
		if s != nil {
			subs = append(subs, s)
		}
	}
	n.subscribers = make(map[string]subscriberHandle)
	n.subMu.Unlock()

	for _, p := range pubs {
		_ = p.Close()
	}
	for _, s := range subs {
		_ = s.Close()
	}

	n.mu.Lock()
	n.disconnectCond.Broadcast()
	n.mu.Unlock()
}

// Spin calls Spin on every owned subscriber, then blocks until Disconnect
// runs (directly, via the mediator's closing handshake, or via the
// lifecycle root's Ctrl-C handler).
func (n *Node) Spin() {
	n.subMu.Lock()
	subs := make([]subscriberHandle, 0, len(n.subscribers))
	for _, s := range n.subscribers {
		if s != nil {
			subs = append(subs, s)
		}
	}
	n.subMu.Unlock()
	for _, s := range subs {
		s.Spin()
	}

	n.mu.Lock()
	for n.connected.Load() {
		n.disconnectCond.Wait()
	}
	n.mu.Unlock()
}

// SpinOnce calls SpinOnce on every owned subscriber and returns.
func (n *Node) SpinOnce() {
	n.subMu.Lock()
	subs := make([]subscriberHandle, 0, len(n.subscribers))
	for _, s := range n.subscribers {
		if s != nil {
			subs = append(subs, s)
		}
	}
	n.subMu.Unlock()
	for _, s := range subs {
		s.SpinOnce()
	}
}

// Connected reports whether the node is still attached to the mediator.
func (n *Node) Connected() bool { return n.connected.Load() }
