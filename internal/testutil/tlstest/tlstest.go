// Package tlstest mints short-lived certificates on disk for TLS tests.
package tlstest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Authority is a throwaway CA that writes its material under a test dir.
type Authority struct {
	cert   *x509.Certificate
	signer crypto.Signer
	caPath string
}

// Leaf describes one certificate issued by an Authority.
type Leaf struct {
	CommonName string
	DNSNames   []string
	IPs        []net.IP
	Usage      x509.ExtKeyUsage
}

func NewAuthority(t testing.TB, dir string, commonName string) *Authority {
	t.Helper()
	tmpl := baseTemplate(t, commonName)
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.MaxPathLen = 1
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign

	der, key := sign(t, tmpl, nil, nil)
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}
	a := &Authority{cert: cert, signer: key, caPath: filepath.Join(dir, "ca.crt")}
	writeBlock(t, a.caPath, "CERTIFICATE", der, 0o644)
	return a
}

func (a *Authority) CAFile() string {
	return a.caPath
}

// Pool returns a cert pool trusting only this authority.
func (a *Authority) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.cert)
	return pool
}

// ServerTLSConfig issues a certificate valid for localhost and 127.0.0.1 and
// returns a listener-ready config.
func (a *Authority) ServerTLSConfig(t testing.TB, dir string, commonName string) *tls.Config {
	t.Helper()
	certPath, keyPath := a.IssueServerCert(t, dir, commonName, []string{"localhost"}, []net.IP{net.IPv4(127, 0, 0, 1)})
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("load server keypair: %v", err)
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{pair}}
}

func (a *Authority) IssueServerCert(t testing.TB, dir string, commonName string, dnsNames []string, ips []net.IP) (string, string) {
	t.Helper()
	return a.Issue(t, dir, Leaf{CommonName: commonName, DNSNames: dnsNames, IPs: ips, Usage: x509.ExtKeyUsageServerAuth})
}

func (a *Authority) IssueClientCert(t testing.TB, dir string, commonName string) (string, string) {
	t.Helper()
	return a.Issue(t, dir, Leaf{CommonName: commonName, Usage: x509.ExtKeyUsageClientAuth})
}

// Issue signs leaf and writes <name>.crt and <name>.key (PKCS#8) into dir.
func (a *Authority) Issue(t testing.TB, dir string, leaf Leaf) (string, string) {
	t.Helper()
	tmpl := baseTemplate(t, leaf.CommonName)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	tmpl.ExtKeyUsage = []x509.ExtKeyUsage{leaf.Usage}
	tmpl.DNSNames = leaf.DNSNames
	tmpl.IPAddresses = leaf.IPs

	der, key := sign(t, tmpl, a.cert, a.signer)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	name := fileBase(leaf.CommonName)
	certPath := filepath.Join(dir, name+".crt")
	keyPath := filepath.Join(dir, name+".key")
	writeBlock(t, certPath, "CERTIFICATE", der, 0o644)
	writeBlock(t, keyPath, "PRIVATE KEY", keyDER, 0o600)
	return certPath, keyPath
}

func baseTemplate(t testing.TB, commonName string) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
	}
}

// sign creates a fresh P-256 key and signs tmpl with parent, or self-signs
// when parent is nil.
func sign(t testing.TB, tmpl, parent *x509.Certificate, parentKey crypto.Signer) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if parent == nil {
		parent, parentKey = tmpl, key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, key.Public(), parentKey)
	if err != nil {
		t.Fatalf("create cert %q: %v", tmpl.Subject.CommonName, err)
	}
	return der, key
}

func writeBlock(t testing.TB, path, blockType string, der []byte, perm os.FileMode) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fileBase(commonName string) string {
	name := strings.TrimSpace(commonName)
	if name == "" {
		return "cert"
	}
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(name)
}
