package rpc

import "errors"

// ErrNotConnected is returned by SendRequest/SendRequestAndGetResponse when
// the socket has not completed its handshake or has already closed.
var ErrNotConnected = errors.New("rpc: socket is not connected")

// ErrCloseTimeout is returned by Close when the peer does not mirror the
// closing frame within the configured close timeout.
var ErrCloseTimeout = errors.New("rpc: timed out waiting for peer's closing frame")

// ErrHandshakeFailed is returned when the connecting handshake's ack/clr
// tokens are missing or malformed.
var ErrHandshakeFailed = errors.New("rpc: connecting handshake failed")
