package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/c360/sensorstream/errors"
)

// EnvPrefix prefixes every environment override, e.g.
// SENSORSTREAM_BROKER_URL or SENSORSTREAM_THRESHOLDS_TEMPERATURE.
const EnvPrefix = "SENSORSTREAM"

// envOnlyKeys have no default but may still be set from the environment.
var envOnlyKeys = []string{
	"thresholds.temperature",
	"thresholds.humidity",
	"broker.mqtt.username",
	"broker.mqtt.password",
	"broker.nats.username",
	"broker.nats.password",
	"broker.nats.token",
	"broker.tls.ca_files",
	"broker.tls.cert_file",
	"broker.tls.key_file",
	"broker.tls.server_name",
	"http.tls.cert_file",
	"http.tls.key_file",
	"http.tls.client_ca_files",
	"http.cors_origins",
	"ingest.schema_file",
	"storage.dynamodb.endpoint",
	"websocket.allowed_origins",
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  EnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones key by key. YAML and JSON are detected from the extension.
func (l *Loader) AddLayer(path string) {
	if path != "" {
		l.layers = append(l.layers, path)
	}
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load merges defaults, file layers and environment overrides, in that
// order of precedence from lowest to highest.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", "bind "+key)
		}
	}

	for i, path := range l.layers {
		v.SetConfigFile(path)
		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}
		if err := read(); err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", "read "+path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode configuration")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Load is a shortcut for a single optional file with validation.
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.AddLayer(path)
	return l.Load()
}

// setDefaults registers every leaf of def with viper so that AutomaticEnv
// can override it and Unmarshal sees it.
func setDefaults(v *viper.Viper, def Config) {
	for key, value := range flatten(toMap(def, false), "") {
		v.SetDefault(key, value)
	}
}

func flatten(m map[string]any, prefix string) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(nested, key) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// YAML renders the effective configuration. Durations are written as Go
// duration strings and secrets are redacted.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toMap(*c, true)); err != nil {
		return nil, errors.Wrap(err, "Config", "YAML", "encode configuration")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "Config", "YAML", "flush encoder")
	}
	return buf.Bytes(), nil
}
