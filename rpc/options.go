package rpc

import (
	"time"

	"github.com/meshbus/meshbus-go/meshmetrics"
)

// DefaultCloseTimeout bounds how long Close waits for the peer to mirror
// the closing frame. The protocol technically waits indefinitely; this cap
// is the implementation's recommended (per the concurrency model) guard
// against a pathological peer wedging the caller forever.
const DefaultCloseTimeout = 30 * time.Second

// DefaultMaxFrameBytes is the frame size ceiling applied to the underlying
// bsonframe.Socket.
const DefaultMaxFrameBytes = 16 << 20

// Option configures a Socket at construction time.
type Option func(*options)

type options struct {
	closeTimeout  time.Duration
	observer      meshmetrics.Observer
	maxFrameBytes int
}

func defaultOptions() options {
	return options{
		closeTimeout:  DefaultCloseTimeout,
		observer:      meshmetrics.Noop,
		maxFrameBytes: DefaultMaxFrameBytes,
	}
}

func applyOptions(opts []Option) options {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithCloseTimeout overrides DefaultCloseTimeout. A value <= 0 means wait
// indefinitely for the peer's closing frame.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}

// WithObserver wires a metrics/logging sink into the socket.
func WithObserver(obs meshmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithMaxFrameBytes overrides the frame size ceiling.
func WithMaxFrameBytes(n int) Option {
	return func(o *options) { o.maxFrameBytes = n }
}
