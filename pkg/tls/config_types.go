package tls

import (
	"crypto/tls"
	"errors"
	"time"
)

// ErrNoCertificate is returned when TLS is enabled without a certificate
// and auto-generation is off.
var ErrNoCertificate = errors.New("TLS enabled but no certificate provided and auto-generation disabled")

// Config holds TLS settings shared by the admin listener and the group
// transport.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// CAFile verifies peers and admin clients.
	CAFile string `yaml:"ca_file"`

	// AutoGenerate creates a self-signed certificate when the files are
	// missing. The result is written to CertFile/KeyFile when they are set.
	AutoGenerate bool          `yaml:"auto_generate"`
	Hosts        []string      `yaml:"hosts"`
	Organization string        `yaml:"organization"`
	ValidFor     time.Duration `yaml:"valid_for"`

	RequireClientCert bool `yaml:"require_client_cert"`
	// InsecureSkipVerify disables peer verification when dialing. Only
	// for self-signed test groups.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// DefaultConfig returns TLS settings with recommended defaults
func DefaultConfig() Config {
	return Config{
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		Organization: "cluso-dbcluster",
		ValidFor:     365 * 24 * time.Hour,
	}
}

// SecureCipherSuites returns the TLS 1.2 suites offered alongside TLS 1.3.
func SecureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}
