package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("transport: invalid security mode")
	ErrTLSRequired             = errors.New("transport: tls required")
	ErrTLSInsecureSkipNotAllow = errors.New("transport: insecure skip verify not allowed")
)

// SecurityMode gates how strict transport validation is.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateSecurity checks resolved transports against mode. In production
// every tcp transport must use tls and certificate verification stays on;
// local sockets are allowed as-is.
func ValidateSecurity(mode SecurityMode, transports []Config, files TLSFiles) error {
	switch NormalizeSecurityMode(mode) {
	case SecurityModeDevelopment:
		return nil
	case SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, mode)
	}

	if files.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	for i, cfg := range transports {
		target, err := Resolve(cfg)
		if err != nil {
			return fmt.Errorf("transports[%d]: %w", i, err)
		}
		if target.Endpoint == EndpointTCP && !target.TLS {
			return fmt.Errorf("%w: transports[%d] %s", ErrTLSRequired, i, target.Address)
		}
	}
	return nil
}
