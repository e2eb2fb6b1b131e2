package mediator

import (
	"time"

	"github.com/meshbus/meshbus-go/meshmetrics"
	"github.com/meshbus/meshbus-go/rpc"
)

// Config configures a Server. New fills every unset field with its default,
// except BindPort: a zero BindPort binds an OS-assigned port, whereas
// DefaultConfig uses 13330.
type Config struct {
	BindAddr string
	BindPort int

	AcceptBacklog int
	AcceptIdle    time.Duration // sleep between empty TryAccept polls
	CloseTimeout  time.Duration // RPC close-handshake bound, see rpc.Option

	Observer meshmetrics.Observer
}

// DefaultConfig returns the default mediator bind address (127.0.0.1:13330)
// with a no-op observer.
func DefaultConfig() Config {
	return Config{
		BindAddr:      "127.0.0.1",
		BindPort:      13330,
		AcceptBacklog: 64,
		AcceptIdle:    10 * time.Millisecond,
		CloseTimeout:  rpc.DefaultCloseTimeout,
		Observer:      meshmetrics.Noop,
	}
}

func (c Config) withDefaults() Config {
	if c.BindAddr == "" {
		c.BindAddr = "127.0.0.1"
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = 64
	}
	if c.AcceptIdle <= 0 {
		c.AcceptIdle = 10 * time.Millisecond
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = rpc.DefaultCloseTimeout
	}
	if c.Observer == nil {
		c.Observer = meshmetrics.Noop
	}
	return c
}
