// Package tlsutil builds the mutual-TLS client configuration used to reach the broker.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/pkg/security"
)

// LoadClientTLSConfig creates a tls.Config that presents the configured client
// certificate and trusts only the configured root bundle.
// Every failure wraps errors.ErrTransportSetup and is classified fatal.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	if len(cfg.CAFiles) == 0 {
		return nil, setupError(fmt.Errorf("no CA files configured"), "LoadClientTLSConfig", "load root CAs")
	}
	if cfg.MTLS.CertFile == "" || cfg.MTLS.KeyFile == "" {
		return nil, setupError(fmt.Errorf("client certificate and key are required"),
			"LoadClientTLSConfig", "load client certificate")
	}

	rootCAs, err := loadCertPool(cfg.CAFiles)
	if err != nil {
		return nil, err
	}

	clientCert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
	if err != nil {
		return nil, setupError(err, "LoadClientTLSConfig", "load client certificate")
	}

	tlsConfig := &tls.Config{
		MinVersion:   parseTLSVersion(cfg.MinVersion),
		RootCAs:      rootCAs,
		Certificates: []tls.Certificate{clientCert},
		ServerName:   cfg.ServerName,
	}

	if cfg.SkipHostnameVerification {
		// Standard verification is replaced, not removed: the chain is still
		// checked against rootCAs, only the host name match is skipped.
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyChain(cs.PeerCertificates, rootCAs)
		}
	}

	return tlsConfig, nil
}

func loadCertPool(caFiles []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, caFile := range caFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, setupError(err, "loadCertPool", fmt.Sprintf("read CA file %s", caFile))
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, setupError(fmt.Errorf("invalid PEM data"),
				"loadCertPool", fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	return pool, nil
}

// verifyChain checks the presented chain against roots without a host name.
func verifyChain(certs []*x509.Certificate, roots *x509.CertPool) error {
	if len(certs) == 0 {
		return setupError(fmt.Errorf("server presented no certificate"), "verifyChain", "verify server chain")
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return setupError(err, "verifyChain", "verify server chain")
	}
	return nil
}

func setupError(err error, method, action string) error {
	return errors.WrapFatal(errors.Join(errors.ErrTransportSetup, err), "tlsutil", method, action)
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}
