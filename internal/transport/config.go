package transport

import (
	"errors"
	"strings"
)

var (
	ErrUnknownTransportType     = errors.New("transport: unknown transport type")
	ErrUnsupportedAddressFamily = errors.New("transport: unsupported address family")
	ErrInvalidEndpoint          = errors.New("transport: invalid endpoint")
	ErrInvalidURL               = errors.New("transport: invalid url")
)

// Kind names the framing carried over a stream.
type Kind string

const (
	KindUnix      Kind = "unix"
	KindTCP       Kind = "tcp"
	KindRawSocket Kind = "rawsocket"
	KindWebSocket Kind = "websocket"
)

// EndpointType names the low-level connection primitive.
type EndpointType string

const (
	EndpointUnix EndpointType = "unix"
	EndpointTCP  EndpointType = "tcp"
)

// DefaultIPVersion applies when Endpoint.Version is unset.
const DefaultIPVersion = 4

// Endpoint describes where a stream connects. Path is used by unix endpoints;
// Host, Port, Version and TLS by tcp endpoints.
type Endpoint struct {
	Type    EndpointType `toml:"type"`
	Path    string       `toml:"path"`
	Host    string       `toml:"host"`
	Port    int          `toml:"port"`
	Version int          `toml:"version"`
	TLS     *bool        `toml:"tls"`
}

// Config is one candidate transport.
type Config struct {
	Type     Kind     `toml:"type"`
	URL      string   `toml:"url"`
	Endpoint Endpoint `toml:"endpoint"`
}

// NormalizeKind lowercases and trims a transport kind; empty means websocket.
func NormalizeKind(kind Kind) Kind {
	k := Kind(strings.ToLower(strings.TrimSpace(string(kind))))
	if k == "" {
		return KindWebSocket
	}
	return k
}

// IPVersion returns the configured IP version with the default applied.
func (e Endpoint) IPVersion() int {
	if e.Version == 0 {
		return DefaultIPVersion
	}
	return e.Version
}

// Bool is a helper for building Endpoint.TLS overrides.
func Bool(v bool) *bool {
	return &v
}
