// Package tls builds TLS settings for the admin HTTP surface and its
// clients.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	ErrNoCertificate = errors.New("tls: certificate and key are both required")
	ErrBadPEM        = errors.New("tls: no certificate in PEM data")
)

// Config holds the admin server TLS options.
type Config struct {
	CertFile string // PEM certificate
	KeyFile  string // PEM private key
	CAFile   string // Optional CA for verifying client certificates

	// RequireClientCert rejects clients without a certificate signed by
	// CAFile. Without it a certificate is verified only if given.
	RequireClientCert bool
}

// Enabled reports whether a certificate is configured.
func (c Config) Enabled() bool { return c.CertFile != "" || c.KeyFile != "" }

// CertReloader serves a key pair that can be swapped while the server
// runs.
type CertReloader struct {
	certFile, keyFile string

	mu   sync.RWMutex
	cert *tls.Certificate
}

// NewCertReloader loads the key pair once.
func NewCertReloader(certFile, keyFile string) (*CertReloader, error) {
	r := &CertReloader{certFile: certFile, keyFile: keyFile}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the key pair. On error the previous pair stays in use.
func (r *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// ServerConfig builds the admin server settings. The returned reloader
// swaps the certificate on Reload.
func ServerConfig(cfg Config) (*tls.Config, *CertReloader, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, nil, ErrNoCertificate
	}
	reloader, err := NewCertReloader(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, nil, err
	}

	tc := &tls.Config{
		GetCertificate: reloader.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		CipherSuites:   SecureCipherSuites(),
		ClientAuth:     tls.NoClientCert,
	}
	if cfg.CAFile != "" {
		pool, err := LoadCAPool(cfg.CAFile)
		if err != nil {
			return nil, nil, err
		}
		tc.ClientCAs = pool
		tc.ClientAuth = tls.VerifyClientCertIfGiven
		if cfg.RequireClientCert {
			tc.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return tc, reloader, nil
}

// ClientConfig builds settings for an admin client. caFile may be empty to
// use the system roots.
func ClientConfig(caFile string, insecure bool) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}
	if caFile != "" {
		pool, err := LoadCAPool(caFile)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// LoadCAPool loads a CA certificate pool from a file
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("%s: %w", caFile, ErrBadPEM)
	}
	return pool, nil
}

// SecureCipherSuites lists the TLS 1.2 suites allowed alongside TLS 1.3.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}

// CertificateInfo holds certificate metadata
type CertificateInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	DNSNames     []string
}

// ExpiresIn returns the time left before expiry at now.
func (ci *CertificateInfo) ExpiresIn(now time.Time) time.Duration {
	return ci.NotAfter.Sub(now)
}

// Inspect reads the first certificate of a PEM file.
func Inspect(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%s: %w", certFile, ErrBadPEM)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &CertificateInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DNSNames:     cert.DNSNames,
	}, nil
}
