// Package identity supplies the worker runtime with its TLS server
// identity. Provisioning is an external concern (a CA or secret store);
// this package only guarantees the material exists before the runtime
// binds its listener. A provisioning failure is a fatal startup error.
package identity

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Identity is a ready-to-serve TLS identity: leaf certificate, private
// key, and the trust anchor pool for verifying peers.
type Identity struct {
	Certificate tls.Certificate
	CAPool      *x509.CertPool
}

// Provider yields a TLS identity for the worker runtime.
type Provider interface {
	Identity() (*Identity, error)
}

// FileProvider loads the identity from PEM files on disk.
type FileProvider struct {
	CertFile string
	KeyFile  string
	CAFile   string // optional; empty means system roots only
}

// Identity loads and validates the configured PEM material.
func (p *FileProvider) Identity() (*Identity, error) {
	cert, err := tls.LoadX509KeyPair(p.CertFile, p.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	pool := x509.NewCertPool()
	if p.CAFile != "" {
		pem, err := os.ReadFile(p.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read trust anchor: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("trust anchor %s contains no certificates", p.CAFile)
		}
	}

	return &Identity{Certificate: cert, CAPool: pool}, nil
}

// ServerTLSConfig builds the tls.Config the runtime's listener uses.
func (id *Identity) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate},
		ClientCAs:    id.CAPool,
		MinVersion:   tls.VersionTLS12,
	}
}
