// Package rpc implements the bidirectional, callback-dispatched RPC layer
// built on top of framing/bsonframe: one-way requests, request/response
// pairs implemented via a one-shot response callback name, a connecting
// handshake for the side that accepted the connection, and a close
// handshake that guarantees both sides drain every pre-close frame before
// the transport is torn down.
package rpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshbus/meshbus-go/framing/bsonframe"
	"github.com/meshbus/meshbus-go/meshbuserr"
	"github.com/meshbus/meshbus-go/meshmetrics"
	"github.com/meshbus/meshbus-go/meshutil/idgen"
)

// RequestHandler handles a one-way request's decoded message.
type RequestHandler func(message any)

// RequestResponseHandler computes and returns a response for a
// request/response invocation.
type RequestResponseHandler func(message any) any

// ClosingHandler runs once, when the closing handshake completes on either
// side (initiator or responder).
type ClosingHandler func()

// ConnectingHandler runs on the accepting side once the caller-supplied
// connecting message has been received, before the receive loop starts.
type ConnectingHandler func(message any)

type state int32

const (
	stateFresh state = iota
	stateHandshake
	stateConnected
	stateClosing
	stateClosed
)

// Socket is a bidirectional RPC connection. The zero value is not usable;
// construct one with NewAccepted or Dial.
type Socket struct {
	sock *bsonframe.Socket
	obs  meshmetrics.Observer

	closeTimeout time.Duration

	state atomic.Int32

	requestMu        sync.RWMutex
	requestCallbacks map[string]RequestHandler

	rrMu                     sync.RWMutex
	requestResponseCallbacks map[string]RequestResponseHandler

	sendMu sync.Mutex

	closingMu       sync.Mutex
	closingCond     *sync.Cond
	closingCallback ClosingHandler
	closingSent     bool
	closingReceived bool

	doneCh chan struct{}
}

func newSocket(sock *bsonframe.Socket, cfg options) *Socket {
	s := &Socket{
		sock:                     sock,
		obs:                      cfg.observer,
		closeTimeout:             cfg.closeTimeout,
		requestCallbacks:         make(map[string]RequestHandler),
		requestResponseCallbacks: make(map[string]RequestResponseHandler),
		doneCh:                   make(chan struct{}),
	}
	s.closingCond = sync.NewCond(&s.closingMu)
	s.setState(stateFresh)
	return s
}

// NewAccepted wraps a freshly accepted net.Conn. The caller must run
// RunServerHandshake before the socket accepts requests.
func NewAccepted(conn net.Conn, opts ...Option) *Socket {
	cfg := applyOptions(opts)
	return newSocket(bsonframe.New(conn, cfg.maxFrameBytes), cfg)
}

// Dial connects to addr, performs the client side of the connecting
// handshake (wait for "ack", send connectingMessage, wait for "clr"), and
// starts the receive loop. timeout bounds only the wait for the ack frame;
// timeout<=0 waits indefinitely for it.
func Dial(ctx context.Context, addr string, connectingMessage any, timeout time.Duration, opts ...Option) (*Socket, error) {
	cfg := applyOptions(opts)

	var d net.Dialer
	dialCtx := ctx
	if dialCtx == nil {
		dialCtx = context.Background()
	}
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageDial, meshbuserr.CodeIOError, err)
	}

	s := newSocket(bsonframe.New(conn, cfg.maxFrameBytes), cfg)
	s.setState(stateHandshake)

	type recvResult struct {
		frame map[string]any
		err   error
	}
	recvWithTimeout := func() (map[string]any, error) {
		resCh := make(chan recvResult, 1)
		go func() {
			f, err := s.sock.Recv()
			resCh <- recvResult{f, err}
		}()
		if timeout <= 0 {
			res := <-resCh
			return res.frame, res.err
		}
		select {
		case res := <-resCh:
			return res.frame, res.err
		case <-time.After(timeout):
			_ = s.sock.Close()
			return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageHandshake, meshbuserr.CodeTimeout, nil)
		}
	}

	ack, err := recvWithTimeout()
	if err != nil {
		return nil, err
	}
	if reply, _ := ack["reply"].(string); reply != "ack" {
		_ = s.sock.Close()
		return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageHandshake, meshbuserr.CodeInvalidMessage, ErrHandshakeFailed)
	}

	if err := s.sock.Send(connectingMessage); err != nil {
		_ = s.sock.Close()
		return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageHandshake, meshbuserr.CodeIOError, err)
	}

	clr, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	if reply, _ := clr["reply"].(string); reply != "clr" {
		_ = s.sock.Close()
		return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageHandshake, meshbuserr.CodeInvalidMessage, ErrHandshakeFailed)
	}

	s.setState(stateConnected)
	go s.receiveLoop()
	return s, nil
}

// RunServerHandshake performs the accepting side's connecting handshake:
// send "ack", receive the caller's connecting message, invoke
// connectingCallback with it, send "clr", then start the receive loop.
func (s *Socket) RunServerHandshake(connectingCallback ConnectingHandler) error {
	s.setState(stateHandshake)
	if err := s.sock.Send(replyEnvelope{Reply: "ack"}); err != nil {
		return meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageHandshake, meshbuserr.CodeIOError, err)
	}
	msg, err := s.sock.Recv()
	if err != nil {
		return meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageHandshake, meshbuserr.CodeIOError, err)
	}
	if connectingCallback != nil {
		connectingCallback(map[string]any(msg))
	}
	if err := s.sock.Send(replyEnvelope{Reply: "clr"}); err != nil {
		return meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageHandshake, meshbuserr.CodeIOError, err)
	}
	s.setState(stateConnected)
	go s.receiveLoop()
	return nil
}

// OnRequest registers a one-way request callback. Registering under a name
// that already has a handler replaces it.
func (s *Socket) OnRequest(name string, h RequestHandler) {
	s.requestMu.Lock()
	s.requestCallbacks[name] = h
	s.requestMu.Unlock()
}

// RemoveRequestCallback unregisters a one-way request callback.
func (s *Socket) RemoveRequestCallback(name string) {
	s.requestMu.Lock()
	delete(s.requestCallbacks, name)
	s.requestMu.Unlock()
}

// OnRequestResponse registers a request/response callback.
func (s *Socket) OnRequestResponse(name string, h RequestResponseHandler) {
	s.rrMu.Lock()
	s.requestResponseCallbacks[name] = h
	s.rrMu.Unlock()
}

// OnClosing registers the closing callback, run once when the close
// handshake completes on either side.
func (s *Socket) OnClosing(h ClosingHandler) {
	s.closingMu.Lock()
	s.closingCallback = h
	s.closingMu.Unlock()
}

func (s *Socket) setState(v state) { s.state.Store(int32(v)) }
func (s *Socket) getState() state  { return state(s.state.Load()) }

// SendRequest sends a one-way request. Transport errors are swallowed per
// the RPC error policy: a send failing almost always means a close is
// already in flight, which the receive loop will observe on its own.
func (s *Socket) SendRequest(name string, message any) error {
	if s.getState() != stateConnected {
		return meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageSend, meshbuserr.CodeInvalidState, ErrNotConnected)
	}
	s.sendMu.Lock()
	err := s.sock.Send(requestEnvelope{CallbackName: name, Message: message})
	s.sendMu.Unlock()
	if err != nil {
		// Swallowed: a send failure here almost always means a close is
		// already in flight, which the receive loop will observe on its
		// own and report through the closing callback.
		return nil
	}
	return nil
}

// SendRequestAndGetResponse invokes a named request/response callback on
// the peer and blocks for its reply, delivered back as a one-way request
// under a freshly generated response callback name.
func (s *Socket) SendRequestAndGetResponse(ctx context.Context, name string, message any) (any, error) {
	if s.getState() != stateConnected {
		return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageSend, meshbuserr.CodeInvalidState, ErrNotConnected)
	}

	respName := "~response~" + idgen.Random(12)
	resultCh := make(chan any, 1)
	s.OnRequest(respName, func(message any) {
		select {
		case resultCh <- message:
		default:
		}
	})
	defer s.RemoveRequestCallback(respName)

	s.sendMu.Lock()
	err := s.sock.Send(requestResponseEnvelope{
		CallbackName:         name,
		Message:              message,
		ResponseCallbackName: respName,
	})
	s.sendMu.Unlock()
	if err != nil {
		// Unlike SendRequest, the caller is synchronously waiting on a
		// reply that will now never arrive, so this error must surface.
		return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageSend, meshbuserr.CodePeerClosed, err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case v := <-resultCh:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.doneCh:
		return nil, meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageRecv, meshbuserr.CodePeerClosed, nil)
	}
}

// Close drives the close handshake: send a closing frame (unless one was
// already sent), then wait for the peer's mirrored closing frame to arrive
// so every frame the peer sent before closing is guaranteed processed.
func (s *Socket) Close() error {
	if s.getState() == stateClosed {
		return nil
	}
	s.setState(stateClosing)
	s.sendOwnClosingFrameOnce()
	return s.waitForClosingReceived()
}

func (s *Socket) sendOwnClosingFrameOnce() {
	s.closingMu.Lock()
	alreadySent := s.closingSent
	s.closingSent = true
	hasCallback := s.closingCallback != nil
	s.closingMu.Unlock()

	if alreadySent {
		return
	}
	s.sendMu.Lock()
	_ = s.sock.Send(closingEnvelope{Close: hasCallback})
	s.sendMu.Unlock()
}

func (s *Socket) waitForClosingReceived() error {
	waitDone := make(chan struct{})
	go func() {
		s.closingMu.Lock()
		for !s.closingReceived {
			s.closingCond.Wait()
		}
		s.closingMu.Unlock()
		close(waitDone)
	}()

	if s.closeTimeout <= 0 {
		<-waitDone
		return nil
	}
	select {
	case <-waitDone:
		return nil
	case <-time.After(s.closeTimeout):
		s.obs.RPCCloseTimeout()
		return meshbuserr.Wrap(meshbuserr.ComponentRPC, meshbuserr.StageClose, meshbuserr.CodeTimeout, ErrCloseTimeout)
	}
}

// receiveLoop is the single reader of this socket's transport; every frame
// is processed in order, so the closing frame it eventually reads is
// guaranteed to be the last one.
func (s *Socket) receiveLoop() {
	defer close(s.doneCh)
	for {
		frame, err := s.sock.Recv()
		if err != nil {
			s.onClosingFrame()
			return
		}
		if isClose, _ := isClosingFrame(frame); isClose {
			s.onClosingFrame()
			return
		}
		switch {
		case isRequestResponseFrame(frame):
			s.dispatchRequestResponse(frame)
		case isRequestFrame(frame):
			s.dispatchRequest(frame)
		default:
			// Unknown shape: log and discard, per the receive loop's
			// step 5.
			continue
		}
	}
}

func (s *Socket) dispatchRequest(frame map[string]any) {
	name, _ := frame["callback_name"].(string)
	s.requestMu.RLock()
	h := s.requestCallbacks[name]
	s.requestMu.RUnlock()
	if h == nil {
		return
	}
	h(frame["message"])
}

func (s *Socket) dispatchRequestResponse(frame map[string]any) {
	name, _ := frame["callback_name"].(string)
	respName, _ := frame["response_callback_name"].(string)
	s.rrMu.RLock()
	h := s.requestResponseCallbacks[name]
	s.rrMu.RUnlock()
	if h == nil {
		return
	}
	result := h(frame["message"])
	s.sendMu.Lock()
	_ = s.sock.Send(requestEnvelope{CallbackName: respName, Message: result})
	s.sendMu.Unlock()
}

func (s *Socket) onClosingFrame() {
	s.sendOwnClosingFrameOnce()

	s.closingMu.Lock()
	cb := s.closingCallback
	s.closingMu.Unlock()
	if cb != nil {
		cb()
	}

	s.closingMu.Lock()
	s.closingReceived = true
	s.closingCond.Broadcast()
	s.closingMu.Unlock()

	s.setState(stateClosed)
	_ = s.sock.Close()
}

// PeerAddr returns the remote address of the underlying connection.
func (s *Socket) PeerAddr() string {
	return s.sock.Conn().RemoteAddr().String()
}

// Connected reports whether the socket has completed its handshake and has
// not yet begun closing.
func (s *Socket) Connected() bool { return s.getState() == stateConnected }
