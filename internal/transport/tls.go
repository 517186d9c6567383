package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTLSKeyPairIncomplete = errors.New("transport: tls cert and key must be set together")
)

// TLSFiles names the on-disk material for client TLS.
type TLSFiles struct {
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// IsZero reports whether no TLS material is configured.
func (f TLSFiles) IsZero() bool {
	return f == TLSFiles{}
}

// ClientTLSConfig loads roots and an optional client certificate. A zero value
// yields nil so the connector falls back to system roots.
func (f TLSFiles) ClientTLSConfig() (*tls.Config, error) {
	if f.IsZero() {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: f.InsecureSkipVerify,
		ServerName:         strings.TrimSpace(f.ServerName),
	}

	if caPath := strings.TrimSpace(f.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	certPath := strings.TrimSpace(f.CertFile)
	keyPath := strings.TrimSpace(f.KeyFile)
	if (certPath == "") != (keyPath == "") {
		return nil, ErrTLSKeyPairIncomplete
	}
	if certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
