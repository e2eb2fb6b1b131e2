package node

import (
	"fmt"
	"time"

	"github.com/meshbus/meshbus-go/meshmetrics"
)

// Option configures a Node at construction time, in the style of the
// connection options used elsewhere in this module.
type Option func(*options) error

type options struct {
	mediatorAddr   string
	nodeName       string
	connectTimeout time.Duration
	observer       meshmetrics.Observer
}

// DefaultOptions returns the default mediator address (127.0.0.1:13330), a
// 5s connect timeout, and a no-op observer.
func DefaultOptions() options {
	return options{
		mediatorAddr:   "127.0.0.1:13330",
		connectTimeout: 5 * time.Second,
		observer:       meshmetrics.Noop,
	}
}

func applyOptions(opts []Option) (options, error) {
	cfg := DefaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return options{}, err
		}
	}
	return cfg, nil
}

// WithMediatorAddr overrides the mediator's "host:port" address.
func WithMediatorAddr(addr string) Option {
	return func(cfg *options) error {
		if addr == "" {
			return fmt.Errorf("mediator address must not be empty")
		}
		cfg.mediatorAddr = addr
		return nil
	}
}

// WithNodeName sets the name reported to the mediator during the connecting
// handshake.
func WithNodeName(name string) Option {
	return func(cfg *options) error {
		cfg.nodeName = name
		return nil
	}
}

// WithConnectTimeout overrides how long Dial waits for the mediator's ack
// frame; 0 waits indefinitely.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("connect timeout must be >= 0")
		}
		cfg.connectTimeout = d
		return nil
	}
}

// WithObserver wires a metrics/logging sink into the node and everything it
// creates.
func WithObserver(obs meshmetrics.Observer) Option {
	return func(cfg *options) error {
		if obs != nil {
			cfg.observer = obs
		}
		return nil
	}
}
