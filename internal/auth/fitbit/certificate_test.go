package fitbit

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"
	"time"
)

func TestNewEphemeralCertificate(t *testing.T) {
	t.Parallel()

	cert, err := newEphemeralCertificate("localhost")
	if err != nil {
		t.Fatalf("newEphemeralCertificate() error = %v", err)
	}
	defer cert.cleanup()

	certPEM, err := os.ReadFile(cert.certPath)
	if err != nil {
		t.Fatalf("failed to read certificate file: %v", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatal("certificate file does not contain a CERTIFICATE PEM block")
	}
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if parsed.Subject.CommonName != "localhost" {
		t.Errorf("Subject.CommonName = %q, want localhost", parsed.Subject.CommonName)
	}
	if parsed.Issuer.CommonName != "localhost" {
		t.Errorf("Issuer.CommonName = %q, want localhost (self-signed)", parsed.Issuer.CommonName)
	}
	if len(parsed.DNSNames) != 1 || parsed.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v, want [localhost]", parsed.DNSNames)
	}
	if parsed.SignatureAlgorithm != x509.SHA256WithRSA {
		t.Errorf("SignatureAlgorithm = %s, want SHA256-RSA", parsed.SignatureAlgorithm)
	}

	now := time.Now()
	if parsed.NotBefore.After(now) {
		t.Errorf("NotBefore = %s is in the future", parsed.NotBefore)
	}
	wantExpiry := now.Add(certificateValidity)
	if parsed.NotAfter.Before(wantExpiry.Add(-time.Minute)) || parsed.NotAfter.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("NotAfter = %s, want about %s", parsed.NotAfter, wantExpiry)
	}

	foundServerAuth := false
	for _, usage := range parsed.ExtKeyUsage {
		if usage == x509.ExtKeyUsageServerAuth {
			foundServerAuth = true
		}
	}
	if !foundServerAuth {
		t.Error("certificate is missing the ServerAuth extended key usage")
	}

	// The certificate must verify under its own key.
	if err = parsed.CheckSignature(parsed.SignatureAlgorithm, parsed.RawTBSCertificate, parsed.Signature); err != nil {
		t.Errorf("self-signature does not verify: %v", err)
	}

	keyPEM, err := os.ReadFile(cert.keyPath)
	if err != nil {
		t.Fatalf("failed to read key file: %v", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "RSA PRIVATE KEY" {
		t.Fatal("key file does not contain an RSA PRIVATE KEY PEM block")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}
	pub, ok := parsed.PublicKey.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("certificate public key is %T, want *rsa.PublicKey", parsed.PublicKey)
	}
	if pub.N.Cmp(key.N) != 0 {
		t.Error("certificate public key does not match the private key")
	}
}

func TestEphemeralCertificateCleanup(t *testing.T) {
	t.Parallel()

	cert, err := newEphemeralCertificate("127.0.0.1")
	if err != nil {
		t.Fatalf("newEphemeralCertificate() error = %v", err)
	}
	certPath := cert.certPath
	keyPath := cert.keyPath

	cert.cleanup()
	cert.cleanup()

	for _, path := range []string{certPath, keyPath} {
		if _, err = os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("temp file %s still exists after cleanup", path)
		}
	}
}
