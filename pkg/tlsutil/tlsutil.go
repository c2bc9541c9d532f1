// Package tlsutil builds tls.Config values for broker clients and the HTTP
// server from file-based configuration.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/sensorstream/errors"
)

// ClientConfig configures TLS towards the broker.
type ClientConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	CAFiles            []string `json:"ca_files" yaml:"ca_files" mapstructure:"ca_files"`
	CertFile           string   `json:"cert_file" yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile            string   `json:"key_file" yaml:"key_file" mapstructure:"key_file"`
	ServerName         string   `json:"server_name" yaml:"server_name" mapstructure:"server_name"`
	MinVersion         string   `json:"min_version" yaml:"min_version" mapstructure:"min_version"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify" yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// ServerConfig configures TLS for the HTTP and WebSocket listener.
type ServerConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	CertFile      string   `json:"cert_file" yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile       string   `json:"key_file" yaml:"key_file" mapstructure:"key_file"`
	MinVersion    string   `json:"min_version" yaml:"min_version" mapstructure:"min_version"`
	ClientCAFiles []string `json:"client_ca_files" yaml:"client_ca_files" mapstructure:"client_ca_files"`
}

// LoadClientTLSConfig returns nil when TLS is disabled. The system CA pool is
// always trusted; CAFiles add to it. CertFile and KeyFile enable mutual TLS.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendPEMFiles(rootCAs, cfg.CAFiles, "LoadClientTLSConfig"); err != nil {
		return nil, err
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Operators opt into this explicitly for lab brokers with self-signed certs.
	tlsConfig.InsecureSkipVerify = cfg.InsecureSkipVerify

	return tlsConfig, nil
}

// LoadServerTLSConfig returns nil when TLS is disabled. ClientCAFiles turn
// on client certificate verification.
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) > 0 {
		clientCAs := x509.NewCertPool()
		if err := appendPEMFiles(clientCAs, cfg.ClientCAFiles, "LoadServerTLSConfig"); err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = clientCAs
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

func appendPEMFiles(pool *x509.CertPool, files []string, method string) error {
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", method, fmt.Sprintf("read CA file %s", file))
		}
		if !pool.AppendCertsFromPEM(data) {
			return errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", method,
				fmt.Sprintf("parse CA certificate from %s", file))
		}
	}
	return nil
}

// parseTLSVersion returns tls.VersionTLS12 for anything but "1.3".
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
