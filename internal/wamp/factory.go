package wamp

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/danmuck/wampctl/internal/transport"
)

var (
	ErrUnsupportedTransport = errors.New("wamp: unsupported transport")
)

// WebSocketFactory builds websocket protocols around sessions produced by
// its session callable.
type WebSocketFactory struct {
	url         *url.URL
	create      func() Session
	serializers []Serializer
}

// MakeFactory selects the framing for cfg. rawsocket framing is not available
// in this client; every other type is treated as websocket.
func MakeFactory(cfg transport.Config, create func() Session, serializers []Serializer) (*WebSocketFactory, error) {
	if transport.NormalizeKind(cfg.Type) == transport.KindRawSocket {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, transport.KindRawSocket)
	}
	if create == nil {
		return nil, fmt.Errorf("wamp: nil session factory")
	}
	if _, err := transport.ParseURL(cfg.URL); err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrInvalidURL, err)
	}
	if len(serializers) == 0 {
		serializers = DefaultSerializers()
	}
	return &WebSocketFactory{
		url:         u,
		create:      create,
		serializers: serializers,
	}, nil
}

// NewProtocol implements transport.ProtocolFactory.
func (f *WebSocketFactory) NewProtocol() transport.Protocol {
	return newProtocol(f.url, f.serializers, f.create())
}

// URL returns the handshake target.
func (f *WebSocketFactory) URL() string {
	return f.url.String()
}
