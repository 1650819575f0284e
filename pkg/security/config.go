// Package security provides the credential configuration types for broker connections
package security

// ClientMTLSConfig names the client certificate presented to the broker
type ClientMTLSConfig struct {
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"` // Client certificate (PEM)
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`   // Client private key (PEM)
}

// ClientTLSConfig holds mutual-TLS configuration for the broker client.
// Only the CAFiles are trusted; the system pool is not consulted.
type ClientTLSConfig struct {
	CAFiles    []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	MinVersion string   `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
	ServerName string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`

	// SkipHostnameVerification keeps chain verification against CAFiles but
	// accepts a server certificate issued for a different host name.
	SkipHostnameVerification bool `json:"skip_hostname_verification,omitempty" yaml:"skip_hostname_verification,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls" yaml:"mtls"`
}

// Enabled reports whether any credential material is configured
func (c ClientTLSConfig) Enabled() bool {
	return len(c.CAFiles) > 0 || c.MTLS.CertFile != "" || c.MTLS.KeyFile != ""
}
