package identity_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/workmesh/workmesh/internal/identity"
)

// writeSelfSigned generates a throwaway self-signed cert/key pair.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-worker"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)

	p := &identity.FileProvider{CertFile: certFile, KeyFile: keyFile, CAFile: certFile}
	id, err := p.Identity()
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if len(id.Certificate.Certificate) == 0 {
		t.Error("identity has no certificate chain")
	}

	cfg := id.ServerTLSConfig()
	if len(cfg.Certificates) != 1 {
		t.Errorf("ServerTLSConfig() has %d certificates, want 1", len(cfg.Certificates))
	}
}

func TestFileProvider_MissingMaterial(t *testing.T) {
	p := &identity.FileProvider{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	if _, err := p.Identity(); err == nil {
		t.Error("Identity() with missing files: want error")
	}
}

func TestFileProvider_BadTrustAnchor(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)

	junk := filepath.Join(dir, "junk.pem")
	os.WriteFile(junk, []byte("not a pem"), 0o600)

	p := &identity.FileProvider{CertFile: certFile, KeyFile: keyFile, CAFile: junk}
	if _, err := p.Identity(); err == nil {
		t.Error("Identity() with junk trust anchor: want error")
	}
}
