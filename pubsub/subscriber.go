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
	"github.com/meshbus/meshbus-go/meshutil/ring"
)

const dialTimeout = 5 * time.Second

type subscriberConn struct {
	sock *bsonframe.Socket
}

// Subscriber connects to one or more publisher endpoints for a topic,
// receives frames on one goroutine per connection, and feeds a bounded
// drop-oldest queue drained by Spin/SpinOnce.
//
// Each publisher connection gets its own receiving goroutine rather than a
// single thread polling every connection in turn, so one silent publisher
// never starves delivery from the others — a direct re-expression of the
// "background receiving thread" in ordinary Go concurrency.
type Subscriber[T any, PT meshmsg.MessagePtr[T]] struct {
	topic     string
	queueSize int
	callback  func(PT)
	node      NodeHandle
	obs       meshmetrics.Observer

	connMu sync.Mutex
	conns  map[string]*subscriberConn

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     *ring.Ring[PT]

	connected atomic.Bool
	spinning  atomic.Bool
	spinDone  chan struct{}
	recvWG    sync.WaitGroup
}

// NewSubscriber constructs a subscriber for topic with the given bounded
// queue size and delivery callback.
func NewSubscriber[T any, PT meshmsg.MessagePtr[T]](topic string, queueSize int, callback func(PT), node NodeHandle, obs meshmetrics.Observer) *Subscriber[T, PT] {
	if obs == nil {
		obs = meshmetrics.Noop
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &Subscriber[T, PT]{
		topic:     topic,
		queueSize: queueSize,
		callback:  callback,
		node:      node,
		obs:       obs,
		conns:     make(map[string]*subscriberConn),
		queue:     ring.New[PT](queueSize),
	}
	s.queueCond = sync.NewCond(&s.queueMu)
	s.connected.Store(true)
	return s
}

// Topic returns the topic this subscriber was created for.
func (s *Subscriber[T, PT]) Topic() string { return s.topic }

// ConnectToPublisher dials a publisher's data listener. A duplicate
// (host, port) replaces the prior connection (idempotent re-dial); a dial
// failure is swallowed, since the publisher may have already died between
// discovery and dial.
func (s *Subscriber[T, PT]) ConnectToPublisher(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil
	}
	sock := bsonframe.New(conn, 0)

	s.connMu.Lock()
	if old := s.conns[addr]; old != nil {
		_ = old.sock.Close()
	}
	sc := &subscriberConn{sock: sock}
	s.conns[addr] = sc
	s.connMu.Unlock()

	s.recvWG.Add(1)
	go s.receiveFrom(addr, sc)
	return nil
}

func (s *Subscriber[T, PT]) receiveFrom(addr string, sc *subscriberConn) {
	defer s.recvWG.Done()
	for {
		frame, err := sc.sock.Recv()
		if err != nil {
			s.removeConn(addr, sc)
			return
		}
		var zero T
		pt := PT(&zero)
		if err := pt.SetFromJSON(frame); err != nil {
			continue
		}
		s.push(pt)
	}
}

func (s *Subscriber[T, PT]) removeConn(addr string, sc *subscriberConn) {
	s.connMu.Lock()
	if s.conns[addr] == sc {
		delete(s.conns, addr)
	}
	s.connMu.Unlock()
}

func (s *Subscriber[T, PT]) push(pt PT) {
	s.queueMu.Lock()
	wasEmpty := s.queue.Len() == 0
	s.queue.Push(pt)
	if wasEmpty {
		s.queueCond.Signal()
	}
	s.queueMu.Unlock()
	s.obs.MessageDelivered(s.topic)
}

// SpinOnce pops one message if available, else delivers a zero-value
// message, and invokes the callback.
func (s *Subscriber[T, PT]) SpinOnce() {
	s.queueMu.Lock()
	msg, ok := s.queue.Pop()
	s.queueMu.Unlock()
	if !ok {
		var zero T
		msg = PT(&zero)
	}
	s.callback(msg)
}

// Spin starts a background dispatch goroutine that waits on the queue,
// pops, and invokes the callback until the subscriber is closed, then
// returns immediately.
func (s *Subscriber[T, PT]) Spin() {
	if !s.spinning.CompareAndSwap(false, true) {
		return
	}
	s.spinDone = make(chan struct{})
	go func() {
		defer close(s.spinDone)
		for {
			s.queueMu.Lock()
			for s.queue.Len() == 0 && s.connected.Load() {
				s.queueCond.Wait()
			}
			msg, ok := s.queue.Pop()
			connected := s.connected.Load()
			s.queueMu.Unlock()
			if !connected {
				return
			}
			if ok {
				s.callback(msg)
			}
		}
	}()
}

// Close stops receiving, unblocks a pending Spin goroutine, and tells the
// owning node to forget this subscriber.
func (s *Subscriber[T, PT]) Close() error {
	if !s.connected.CompareAndSwap(true, false) {
		return nil
	}

	s.connMu.Lock()
	conns := make([]*subscriberConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.conns = make(map[string]*subscriberConn)
	s.connMu.Unlock()
	for _, sc := range conns {
		_ = sc.sock.Close()
	}
	s.recvWG.Wait()

	if s.spinning.Load() {
		// Push a dummy message to release a spinning goroutine blocked on
		// the not-empty condition; it pops the dummy but skips the
		// callback because connected is now false.
		s.queueMu.Lock()
		var zero T
		s.queue.Push(PT(&zero))
		s.queueCond.Signal()
		s.queueMu.Unlock()
		<-s.spinDone
	}

	if s.node != nil {
		s.node.RemoveSubscriberByTopic(s.topic)
	}
	return nil
}

