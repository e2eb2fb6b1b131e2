// Package mediator implements the central registry and discovery broker: it
// tracks nodes, topics, publishers, and subscribers, and tells subscriber
// nodes where to dial once a matching publisher appears. It never sits on
// the message data path.
package mediator

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/meshbus/meshbus-go/rpc"
	"github.com/meshbus/meshbus-go/transport"
)

// Server owns the mediator's listener, accept loop, and registry.
type Server struct {
	cfg Config
	acc *transport.Acceptor
	reg *registry

	active atomic.Bool
	doneCh chan struct{}
}

// New binds the mediator's listener. It fails with
// meshbuserr.CodeAddressInUse if another mediator is already bound to
// (cfg.BindAddr, cfg.BindPort).
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	acc, err := transport.Listen(cfg.BindAddr, cfg.BindPort, cfg.AcceptBacklog)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		acc:    acc,
		reg:    newRegistry(cfg.Observer),
		doneCh: make(chan struct{}),
	}
	s.active.Store(true)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() string { return s.acc.Addr().String() }

// Stats returns a point-in-time snapshot of node/topic counts.
func (s *Server) Stats() RegistryStats { return s.reg.stats() }

// Shutdown clears the active flag, closes the acceptor, and drops every
// registered node's connection, which drives each remote node's own
// closing routine as its receive loop observes the peer close.
func (s *Server) Shutdown() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	_ = s.acc.Close()

	s.reg.nodeMu.Lock()
	conns := make([]*rpc.Socket, 0, len(s.reg.nodes))
	for _, nr := range s.reg.nodes {
		conns = append(conns, nr.conn)
	}
	s.reg.nodes = make(map[NodeURI]*nodeRecord)
	s.reg.nodeMu.Unlock()

	s.reg.topicMu.Lock()
	s.reg.topics = make(map[string]*topicRecord)
	s.reg.topicMu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	<-s.doneCh
}

func (s *Server) acceptLoop() {
	defer close(s.doneCh)
	for s.active.Load() {
		conn, ok := s.acc.TryAccept()
		if !ok {
			time.Sleep(s.cfg.AcceptIdle)
			continue
		}
		s.handleAccepted(conn)
	}
}

func (s *Server) handleAccepted(conn *transport.Conn) {
	uri := NodeURI(fmt.Sprintf("http://%s:%d", conn.Host, conn.Port))
	sock := rpc.NewAccepted(conn.Raw,
		rpc.WithCloseTimeout(s.cfg.CloseTimeout),
		rpc.WithObserver(s.cfg.Observer),
	)
	s.reg.registerNode(uri, sock)
	s.cfg.Observer.ConnAccepted()

	s.installCallbacks(uri, sock)

	go func() {
		connectingCallback := func(message any) {
			name := stringField(message, "node_name")
			s.reg.addNode(uri, name)
		}
		if err := sock.RunServerHandshake(connectingCallback); err != nil {
			s.reg.removeNode(uri)
			s.cfg.Observer.ConnClosed()
		}
	}()
}

func (s *Server) installCallbacks(uri NodeURI, sock *rpc.Socket) {
	sock.OnRequest("addPublisher", func(message any) {
		topic := stringField(message, "topic_name")
		addr := AddressPort{
			Host: stringField(message, "address"),
			Port: intField(message, "port"),
		}
		s.reg.addPublisher(uri, topic, addr)
	})

	sock.OnRequestResponse("addSubscriber", func(message any) any {
		topic := stringField(message, "topic_name")
		addresses, ports := s.reg.addSubscriber(uri, topic)
		return map[string]any{
			"topic_name":          topic,
			"publisher_addresses": addresses,
			"publisher_ports":     ports,
		}
	})

	sock.OnRequest("removePublisher", func(message any) {
		s.reg.removePublisher(uri, stringField(message, "topic_name"))
	})
	sock.OnRequest("removeSubscriber", func(message any) {
		s.reg.removeSubscriber(uri, stringField(message, "topic_name"))
	})

	sock.OnClosing(func() {
		s.reg.removeNode(uri)
		s.cfg.Observer.ConnClosed()
	})
}

func stringField(message any, key string) string {
	m, ok := message.(map[string]any)
	if !ok {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func intField(message any, key string) int {
	m, ok := message.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
