// Package tls builds crypto/tls configurations from cluster settings.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/dd0wney/cluso-dbcluster/pkg/validation"
)

// Validate checks the settings.
func (c Config) Validate() error {
	return validation.NewConfigValidator("tls").
		When(c.Enabled, func(cv *validation.ConfigValidator) {
			cv.Custom("cert_file", func() error {
				if (c.CertFile == "") != (c.KeyFile == "") {
					return errors.New("cert_file and key_file must be set together")
				}
				if c.CertFile == "" && !c.AutoGenerate {
					return ErrNoCertificate
				}
				return nil
			})
			cv.NonNegativeDuration("valid_for", c.ValidFor)
		}).
		Validate()
}

// LoadTLSConfig loads or generates the certificate. It returns nil when TLS
// is disabled.
func LoadTLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := loadOrGenerate(cfg)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		MinVersion:         tls.VersionTLS12,
		CipherSuites:       SecureCipherSuites(),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		pool, err := LoadCAPool(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.RootCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

func loadOrGenerate(cfg Config) (tls.Certificate, error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" && exists(cfg.CertFile) && exists(cfg.KeyFile) {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		return cert, nil
	}
	if !cfg.AutoGenerate {
		return tls.Certificate{}, ErrNoCertificate
	}

	cert, err := GenerateSelfSignedCert(cfg)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		if err := SaveCertificate(cert, cfg.CertFile, cfg.KeyFile); err != nil {
			return tls.Certificate{}, err
		}
	}
	return cert, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadCAPool loads a CA certificate pool from a file
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return certPool, nil
}
