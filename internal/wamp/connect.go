package wamp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/wampctl/internal/transport"
)

var (
	ErrConnectPending = errors.New("wamp: connection still pending")
	ErrConnectPanic   = errors.New("wamp: panic while connecting")
)

// StreamConnector is the dialing side of ConnectTo. *transport.Connector
// satisfies it.
type StreamConnector interface {
	Connect(ctx context.Context, target transport.Target, factory transport.ProtocolFactory) (*transport.Stream, transport.Protocol, error)
}

// LossWiring decides, per endpoint kind, whether the stream's loss hook is
// redirected to the protocol's ConnectionLost.
type LossWiring func(kind transport.EndpointType) bool

// WireAlways wires the loss hook for every endpoint kind.
func WireAlways(transport.EndpointType) bool { return true }

type connectOptions struct {
	connector   StreamConnector
	serializers []Serializer
	wiring      LossWiring
}

type ConnectOption func(*connectOptions)

func WithConnector(c StreamConnector) ConnectOption {
	return func(o *connectOptions) {
		if c != nil {
			o.connector = c
		}
	}
}

func WithSerializers(s []Serializer) ConnectOption {
	return func(o *connectOptions) {
		o.serializers = s
	}
}

func WithLossWiring(w LossWiring) ConnectOption {
	return func(o *connectOptions) {
		if w != nil {
			o.wiring = w
		}
	}
}

// PendingConnection is an in-flight ConnectTo. It settles exactly once, either
// with a protocol or with an error.
type PendingConnection struct {
	once  sync.Once
	done  chan struct{}
	proto *Protocol
	err   error
}

func newPendingConnection() *PendingConnection {
	return &PendingConnection{done: make(chan struct{})}
}

func (p *PendingConnection) settle(proto *Protocol, err error) {
	p.once.Do(func() {
		p.proto = proto
		p.err = err
		close(p.done)
	})
}

// Done is closed once the connection resolved or failed.
func (p *PendingConnection) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled outcome, or ErrConnectPending before Done.
func (p *PendingConnection) Result() (*Protocol, error) {
	select {
	case <-p.done:
		return p.proto, p.err
	default:
		return nil, ErrConnectPending
	}
}

// Wait blocks until the connection settles or ctx ends.
func (p *PendingConnection) Wait(ctx context.Context) (*Protocol, error) {
	select {
	case <-p.done:
		return p.proto, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConnectTo makes one connection attempt for sess over cfg.
//
// Configuration problems are returned directly, before any I/O. Otherwise the
// returned PendingConnection resolves with the protocol once the stream and
// its framing handshake exist; it does not wait for the session to join.
// Connector errors are forwarded unchanged.
func ConnectTo(ctx context.Context, cfg transport.Config, sess Session, opts ...ConnectOption) (*PendingConnection, error) {
	o := connectOptions{
		connector: &transport.Connector{},
		wiring:    WireAlways,
	}
	for _, opt := range opts {
		opt(&o)
	}

	create := func() Session { return sess }
	factory, err := MakeFactory(cfg, create, o.serializers)
	if err != nil {
		return nil, err
	}
	target, err := transport.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	pending := newPendingConnection()
	go func() {
		pending.settle(connectOnce(ctx, o, target, factory))
	}()
	return pending, nil
}

func connectOnce(ctx context.Context, o connectOptions, target transport.Target, factory transport.ProtocolFactory) (out *Protocol, outErr error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			outErr = fmt.Errorf("%w: %v", ErrConnectPanic, r)
		}
	}()
	stream, proto, err := o.connector.Connect(ctx, target, factory)
	return protocolOnly(stream, proto, err, o.wiring)
}

// protocolOnly flattens the connector's (stream, protocol) pair into the
// protocol, wiring the stream's loss hook on the way.
func protocolOnly(stream *transport.Stream, proto transport.Protocol, err error, wiring LossWiring) (*Protocol, error) {
	if err != nil {
		return nil, err
	}
	p, ok := proto.(*Protocol)
	if !ok {
		return nil, fmt.Errorf("wamp: unexpected protocol %T", proto)
	}
	if wiring(stream.Target().Endpoint) {
		p.wireLoss(stream)
	}
	return p, nil
}
