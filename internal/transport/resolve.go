package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Target is the resolved physical connection for one transport config.
type Target struct {
	Endpoint   EndpointType
	Network    string
	Address    string
	TLS        bool
	ServerName string
}

func (t Target) String() string {
	if t.TLS {
		return fmt.Sprintf("%s://%s (tls)", t.Network, t.Address)
	}
	return fmt.Sprintf("%s://%s", t.Network, t.Address)
}

// Resolve decides the connection mechanism for cfg. It performs no I/O.
//
// For tcp endpoints TLS follows the URL scheme unless Endpoint.TLS overrides
// it. Only IPv4 is supported.
func Resolve(cfg Config) (Target, error) {
	ep := cfg.Endpoint
	switch EndpointType(strings.ToLower(strings.TrimSpace(string(ep.Type)))) {
	case EndpointUnix:
		path := strings.TrimSpace(ep.Path)
		if path == "" {
			return Target{}, fmt.Errorf("%w: unix endpoint missing path", ErrInvalidEndpoint)
		}
		return Target{
			Endpoint: EndpointUnix,
			Network:  "unix",
			Address:  path,
		}, nil

	case EndpointTCP:
		if v := ep.IPVersion(); v != DefaultIPVersion {
			return Target{}, fmt.Errorf("%w: version=%d", ErrUnsupportedAddressFamily, v)
		}
		host := strings.TrimSpace(ep.Host)
		if host == "" {
			return Target{}, fmt.Errorf("%w: tcp endpoint missing host", ErrInvalidEndpoint)
		}
		if ep.Port < 1 || ep.Port > 65535 {
			return Target{}, fmt.Errorf("%w: tcp endpoint port=%d", ErrInvalidEndpoint, ep.Port)
		}

		secure := false
		if strings.TrimSpace(cfg.URL) != "" {
			info, err := ParseURL(cfg.URL)
			if err != nil {
				return Target{}, err
			}
			secure = info.Secure
		}
		if ep.TLS != nil {
			secure = *ep.TLS
		}
		return Target{
			Endpoint:   EndpointTCP,
			Network:    "tcp4",
			Address:    net.JoinHostPort(host, strconv.Itoa(ep.Port)),
			TLS:        secure,
			ServerName: host,
		}, nil

	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownTransportType, ep.Type)
	}
}
