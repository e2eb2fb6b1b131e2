// Package transport wraps a TCP listener as a non-blocking acceptor. Go
// offers no portable non-blocking accept(2); the idiomatic substitute is a
// background goroutine that blocks in Listener.Accept and feeds a buffered
// channel, with TryAccept doing a non-blocking receive from it.
package transport

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/meshbus/meshbus-go/meshbuserr"
)

// Conn is an accepted connection together with the peer address the caller
// asked for; callers needing the live net.Conn dial/accept details use Raw.
type Conn struct {
	Raw  net.Conn
	Host string
	Port int
}

// Acceptor is a non-blocking wrapper around a bound TCP listener.
type Acceptor struct {
	ln net.Listener

	acceptedCh chan net.Conn
	errCh      chan error

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Listen binds addr:port (port 0 picks an OS-assigned port) and starts the
// background accept goroutine. backlog sizes the internal channel buffer;
// values <= 0 default to 64.
func Listen(addr string, port int, backlog int) (*Acceptor, error) {
	if backlog <= 0 {
		backlog = 64
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		if isAddrInUse(err) {
			return nil, meshbuserr.Wrap(meshbuserr.ComponentTransport, meshbuserr.StageAccept, meshbuserr.CodeAddressInUse, err)
		}
		return nil, meshbuserr.Wrap(meshbuserr.ComponentTransport, meshbuserr.StageAccept, meshbuserr.CodeIOError, err)
	}

	a := &Acceptor{
		ln:         ln,
		acceptedCh: make(chan net.Conn, backlog),
		errCh:      make(chan error, 1),
	}
	a.wg.Add(1)
	go a.acceptLoop()
	return a, nil
}

func (a *Acceptor) acceptLoop() {
	defer a.wg.Done()
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if !a.closed.Load() {
				select {
				case a.errCh <- err:
				default:
				}
			}
			return
		}
		a.acceptedCh <- conn
	}
}

// TryAccept returns the next pending connection without blocking. The
// second return value is false when no connection is currently pending.
func (a *Acceptor) TryAccept() (*Conn, bool) {
	select {
	case conn := <-a.acceptedCh:
		host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			return &Conn{Raw: conn}, true
		}
		port, _ := strconv.Atoi(portStr)
		return &Conn{Raw: conn, Host: host, Port: port}, true
	default:
		return nil, false
	}
}

// Addr returns the bound local address, including the OS-assigned port when
// Listen was called with port 0.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Close stops the accept loop and closes the listener. It is idempotent.
func (a *Acceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := a.ln.Close()
	a.wg.Wait()
	return err
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
