package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/rs/zerolog/log"
)

// Connector issues single connection attempts against resolved targets.
// It never retries and imposes no timeout beyond the caller's context.
type Connector struct {
	Dialer    net.Dialer
	TLSConfig *tls.Config
}

// Connect dials target once, builds a protocol from factory and runs its
// handshake over the new stream. Dial, TLS and handshake failures are returned
// as-is.
func (c *Connector) Connect(ctx context.Context, target Target, factory ProtocolFactory) (*Stream, Protocol, error) {
	conn, err := c.dial(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	stream := newStream(conn, target)
	proto := factory.NewProtocol()
	if err := proto.ConnectionMade(ctx, stream); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	log.Debug().
		Str("target", target.String()).
		Str("local", conn.LocalAddr().String()).
		Msg("transport.Connector.Connect established")
	return stream, proto, nil
}

func (c *Connector) dial(ctx context.Context, target Target) (net.Conn, error) {
	rawConn, err := c.Dialer.DialContext(ctx, target.Network, target.Address)
	if err != nil {
		return nil, err
	}
	if !target.TLS {
		return rawConn, nil
	}

	conn := tls.Client(rawConn, c.clientTLSConfig(target))
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Connector) clientTLSConfig(target Target) *tls.Config {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if cfg.ServerName == "" {
		cfg.ServerName = target.ServerName
	}
	return cfg
}
