// Package bsonframe implements the length-prefixed, BSON-encoded message
// socket that every higher layer in this module is built on: an 8-byte
// little-endian length header followed by that many bytes of BSON.
//
// A Socket wraps any net.Conn. Sends are serialized against the send lock
// and retry around short writes; receives buffer internally so a partial
// frame's tail bytes survive into the next Recv call.
package bsonframe

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/meshbus/meshbus-go/internal/bin"
	"github.com/meshbus/meshbus-go/meshbuserr"
)

const headerLen = 8

// DefaultMaxFrameBytes bounds a single frame so a hostile or buggy peer
// cannot force an unbounded allocation via a forged length header.
const DefaultMaxFrameBytes = 64 << 20

// ErrFrameTooLarge is returned by Recv when a frame's declared length
// exceeds the socket's configured maximum.
var ErrFrameTooLarge = errors.New("bsonframe: frame exceeds max size")

// Socket is a framed BSON message socket over a net.Conn.
//
// Values passed to Send and returned from Recv must be BSON document-shaped
// (structs, maps, or bson.M/bson.D) — BSON, like its JSON counterpart here,
// has no bare-scalar top-level representation. Every value this module
// sends over the wire is an envelope object, so this is never a practical
// restriction.
type Socket struct {
	conn          net.Conn
	r             *bufio.Reader
	maxFrameBytes int

	sendMu sync.Mutex
	closed atomic.Bool
}

// New wraps conn in a Socket. maxFrameBytes<=0 uses DefaultMaxFrameBytes.
func New(conn net.Conn, maxFrameBytes int) *Socket {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Socket{
		conn:          conn,
		r:             bufio.NewReader(conn),
		maxFrameBytes: maxFrameBytes,
	}
}

// Conn returns the underlying net.Conn, mainly for logging peer addresses.
func (s *Socket) Conn() net.Conn { return s.conn }

// Send encodes v as BSON and writes a complete length-prefixed frame.
//
// Before writing, Send checks (best effort) whether the peer has already
// half-closed its side; if so it fails with CodePeerClosed without writing,
// rather than discovering the close via a failed write.
func (s *Socket) Send(v any) error {
	if s.closed.Load() {
		return meshbuserr.Wrap(meshbuserr.ComponentFraming, meshbuserr.StageSend, meshbuserr.CodeSocketClosed, nil)
	}
	if peerHungUp(s.conn) {
		return meshbuserr.Wrap(meshbuserr.ComponentFraming, meshbuserr.StageSend, meshbuserr.CodePeerClosed, nil)
	}

	body, err := bson.Marshal(v)
	if err != nil {
		return meshbuserr.Wrap(meshbuserr.ComponentFraming, meshbuserr.StageSend, meshbuserr.CodeInvalidMessage, err)
	}

	var hdr [headerLen]byte
	bin.PutU64LE(hdr[:], uint64(len(body)))

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeFull(s.conn, hdr[:]); err != nil {
		return s.classifyIOErr(meshbuserr.StageSend, err)
	}
	if err := writeFull(s.conn, body); err != nil {
		return s.classifyIOErr(meshbuserr.StageSend, err)
	}
	return nil
}

// Recv blocks until a complete frame arrives and returns its decoded BSON
// document as a map[string]any.
func (s *Socket) Recv() (map[string]any, error) {
	if s.closed.Load() {
		return nil, meshbuserr.Wrap(meshbuserr.ComponentFraming, meshbuserr.StageRecv, meshbuserr.CodeSocketClosed, nil)
	}

	var hdr [headerLen]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		return nil, s.classifyIOErr(meshbuserr.StageRecv, err)
	}
	n := bin.U64LE(hdr[:])
	if s.maxFrameBytes > 0 && n > uint64(s.maxFrameBytes) {
		return nil, meshbuserr.Wrap(meshbuserr.ComponentFraming, meshbuserr.StageRecv, meshbuserr.CodeInvalidMessage, ErrFrameTooLarge)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return nil, s.classifyIOErr(meshbuserr.StageRecv, err)
	}

	var doc bson.M
	if err := bson.Unmarshal(body, &doc); err != nil {
		return nil, meshbuserr.Wrap(meshbuserr.ComponentFraming, meshbuserr.StageRecv, meshbuserr.CodeInvalidMessage, err)
	}
	return map[string]any(doc), nil
}

// Close closes the underlying connection. It is idempotent.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Socket) classifyIOErr(stage meshbuserr.Stage, err error) error {
	if s.closed.Load() {
		return meshbuserr.Wrap(meshbuserr.ComponentFraming, stage, meshbuserr.CodeSocketClosed, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return meshbuserr.Wrap(meshbuserr.ComponentFraming, stage, meshbuserr.CodePeerClosed, err)
	}
	if errors.Is(err, net.ErrClosed) {
		return meshbuserr.Wrap(meshbuserr.ComponentFraming, stage, meshbuserr.CodeSocketClosed, err)
	}
	return meshbuserr.Wrap(meshbuserr.ComponentFraming, stage, meshbuserr.CodeIOError, err)
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
