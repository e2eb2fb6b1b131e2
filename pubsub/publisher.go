package pubsub

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshbus/meshbus-go/framing/bsonframe"
	"github.com/meshbus/meshbus-go/meshmetrics"
	"github.com/meshbus/meshbus-go/meshmsg"
	"github.com/meshbus/meshbus-go/transport"
)

// acceptIdle is how long the accept loop sleeps between empty TryAccept
// polls, matching the 10ms cadence the control plane's own accept loop uses.
const acceptIdle = 10 * time.Millisecond

// Publisher listens for subscriber connections on an OS-assigned port and
// fans out messages of type T (addressed through pointer type PT) to every
// connection it currently holds.
type Publisher[T any, PT meshmsg.MessagePtr[T]] struct {
	topic string
	node  NodeHandle
	obs   meshmetrics.Observer

	acc *transport.Acceptor

	connMu sync.Mutex
	conns  []*bsonframe.Socket

	connected  atomic.Bool
	acceptDone chan struct{}
}

// NewPublisher binds a listener at 127.0.0.1:0 and starts its accept loop.
func NewPublisher[T any, PT meshmsg.MessagePtr[T]](topic string, node NodeHandle, obs meshmetrics.Observer) (*Publisher[T, PT], error) {
	if obs == nil {
		obs = meshmetrics.Noop
	}
	acc, err := transport.Listen("127.0.0.1", 0, 0)
	if err != nil {
		return nil, err
	}
	p := &Publisher[T, PT]{
		topic:      topic,
		node:       node,
		obs:        obs,
		acc:        acc,
		acceptDone: make(chan struct{}),
	}
	p.connected.Store(true)
	go p.acceptLoop()
	return p, nil
}

// Topic returns the topic this publisher was created for.
func (p *Publisher[T, PT]) Topic() string { return p.topic }

// Addr returns the host and port subscribers should dial to reach this
// publisher.
func (p *Publisher[T, PT]) Addr() (host string, port int) {
	h, portStr, err := net.SplitHostPort(p.acc.Addr().String())
	if err != nil {
		return "127.0.0.1", 0
	}
	n, _ := strconv.Atoi(portStr)
	return h, n
}

func (p *Publisher[T, PT]) acceptLoop() {
	defer close(p.acceptDone)
	for p.connected.Load() {
		conn, ok := p.acc.TryAccept()
		if !ok {
			time.Sleep(acceptIdle)
			continue
		}
		sock := bsonframe.New(conn.Raw, 0)
		p.connMu.Lock()
		p.conns = append(p.conns, sock)
		p.connMu.Unlock()
		p.obs.ConnAccepted()
	}
}

// Publish converts msg via its ToJSON capability and sends it to every
// connected subscriber under a single lock, so a concurrent Publish never
// interleaves with this one: either all currently-live subscribers get it,
// or the connection set was frozen for the duration. Dead connections are
// dropped silently.
func (p *Publisher[T, PT]) Publish(msg PT) error {
	doc := msg.ToJSON()

	p.connMu.Lock()
	defer p.connMu.Unlock()

	live := p.conns[:0]
	for _, sock := range p.conns {
		if err := sock.Send(doc); err != nil {
			_ = sock.Close()
			p.obs.MessageDropped(p.topic)
			continue
		}
		live = append(live, sock)
	}
	p.conns = live
	p.obs.MessagePublished(p.topic)
	return nil
}

// Close stops the accept loop, closes every subscriber connection, and
// tells the owning node to forget this publisher.
func (p *Publisher[T, PT]) Close() error {
	if !p.connected.CompareAndSwap(true, false) {
		return nil
	}
	_ = p.acc.Close()
	<-p.acceptDone

	p.connMu.Lock()
	for _, sock := range p.conns {
		_ = sock.Close()
	}
	p.conns = nil
	p.connMu.Unlock()

	if p.node != nil {
		p.node.RemovePublisherByTopic(p.topic)
	}
	return nil
}
