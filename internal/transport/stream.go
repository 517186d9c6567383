package transport

import (
	"context"
	"net"
	"sync"
)

// Protocol is the framing layer bound to one Stream. ConnectionMade runs once
// the stream exists and performs any handshake; ConnectionLost is the protocol's
// own teardown handler.
type Protocol interface {
	ConnectionMade(ctx context.Context, s *Stream) error
	ConnectionLost(err error)
}

// ProtocolFactory produces one Protocol per established stream.
type ProtocolFactory interface {
	NewProtocol() Protocol
}

// Stream is an established duplex byte stream plus its lifecycle hook.
type Stream struct {
	net.Conn

	target Target

	mu      sync.Mutex
	onLost  func(error)
	lost    bool
	lostErr error
}

func newStream(conn net.Conn, target Target) *Stream {
	return &Stream{Conn: conn, target: target}
}

// Target reports what the stream was dialed against.
func (s *Stream) Target() Target {
	return s.target
}

// SetConnectionLost replaces the loss notification hook. When the stream is
// already lost, fn runs immediately with the recorded error.
func (s *Stream) SetConnectionLost(fn func(error)) {
	s.mu.Lock()
	s.onLost = fn
	lost, err := s.lost, s.lostErr
	s.mu.Unlock()
	if lost && fn != nil {
		fn(err)
	}
}

// ConnectionLost fires the loss hook and then closes the underlying conn, so
// the hook sees err before any reader observes the close. Only the first call
// has any effect.
func (s *Stream) ConnectionLost(err error) {
	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		return
	}
	s.lost = true
	s.lostErr = err
	fn := s.onLost
	s.mu.Unlock()

	if fn != nil {
		fn(err)
	}
	_ = s.Conn.Close()
}

// IsLost reports whether ConnectionLost already ran.
func (s *Stream) IsLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}
