package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URLInfo is the decoded form of a websocket connection URL.
type URLInfo struct {
	Secure   bool
	Host     string
	Port     int
	Resource string
	Path     string
	Params   url.Values
}

// ParseURL decodes a ws:// or wss:// URL. Resource is the path plus the raw
// query and is what goes on the handshake request line.
func ParseURL(raw string) (URLInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URLInfo{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URLInfo{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	var info URLInfo
	switch strings.ToLower(u.Scheme) {
	case "ws":
		info.Port = 80
	case "wss":
		info.Secure = true
		info.Port = 443
	default:
		return URLInfo{}, fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return URLInfo{}, fmt.Errorf("%w: fragment not allowed", ErrInvalidURL)
	}

	info.Host = u.Hostname()
	if info.Host == "" {
		return URLInfo{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return URLInfo{}, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, p)
		}
		info.Port = port
	}

	info.Path = u.EscapedPath()
	if info.Path == "" {
		info.Path = "/"
	}
	info.Resource = info.Path
	if u.RawQuery != "" {
		info.Resource += "?" + u.RawQuery
	}
	info.Params = u.Query()
	return info, nil
}

// HostPort joins host and port, bracketing IPv6 literals.
func (i URLInfo) HostPort() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}
