package fitbit

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// certificateValidity is the lifetime of the throwaway callback
// certificate. The listener only lives for one authorization attempt, so
// anything past a few minutes is slack.
const certificateValidity = 10 * 24 * time.Hour

// ephemeralCertificate holds the temp-file paths of a throwaway self-signed
// certificate and key used to serve the HTTPS callback. The material exists
// on disk only for the lifetime of the listener.
type ephemeralCertificate struct {
	certPath string
	keyPath  string
}

// newEphemeralCertificate generates a 2048-bit RSA key and a self-signed
// X.509 certificate for the given host (subject = issuer = CN=host, with a
// DNS SAN for the host) and materializes both as PEM temp files.
//
// Browsers will warn about the self-signed certificate; that is inherent to
// serving HTTPS on localhost without a CA-issued certificate.
func newEphemeralCertificate(host string) (*ephemeralCertificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, NewSystemError("failed to generate TLS key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, NewSystemError("failed to generate certificate serial", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    now,
		NotAfter:     now.Add(certificateValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
	}

	// Self-signed: the template is its own parent, yielding SHA256WithRSA.
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, NewSystemError("failed to generate TLS certificate", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	certPath, err := writeTempPEM("fitbit-callback-cert-*.pem", certPEM)
	if err != nil {
		return nil, NewSystemError("failed to write certificate file", err)
	}
	keyPath, err := writeTempPEM("fitbit-callback-key-*.pem", keyPEM)
	if err != nil {
		_ = os.Remove(certPath)
		return nil, NewSystemError("failed to write key file", err)
	}

	log.Debugf("Wrote ephemeral certificate for %s to %s", host, certPath)
	return &ephemeralCertificate{certPath: certPath, keyPath: keyPath}, nil
}

// cleanup removes the certificate and key files. Safe to call repeatedly.
func (c *ephemeralCertificate) cleanup() {
	if c == nil {
		return
	}
	for _, path := range []string{c.certPath, c.keyPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("Failed to remove ephemeral TLS file %s: %v", path, err)
		}
	}
	c.certPath = ""
	c.keyPath = ""
}

func writeTempPEM(pattern string, data []byte) (string, error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err = file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("failed to write %s: %w", file.Name(), err)
	}
	if err = file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}
