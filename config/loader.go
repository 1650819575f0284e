package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/zonewatch/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "ZONEWATCH"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		getenv:    os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load applies defaults, each file layer, then environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		if cfg, err = mergeFromMap(cfg, raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Load reads path (JSON or YAML) over the defaults, applies ZONEWATCH_*
// environment overrides and validates. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	l.EnableValidation(true)
	return l.Load()
}

func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	return raw, nil
}

// mergeFromMap overrides only the fields present in override
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies ZONEWATCH_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strVars := map[string]*string{
		"BROKER_TRANSPORT":   &cfg.Broker.Transport,
		"BROKER_ENDPOINT":    &cfg.Broker.Endpoint,
		"BROKER_CLIENT_ID":   &cfg.Broker.ClientID,
		"PRODUCER_CLIENT_ID": &cfg.Broker.ProducerClientID,
		"TLS_CERT_FILE":      &cfg.Broker.TLS.MTLS.CertFile,
		"TLS_KEY_FILE":       &cfg.Broker.TLS.MTLS.KeyFile,
		"TLS_SERVER_NAME":    &cfg.Broker.TLS.ServerName,
		"TOPIC_PREFIX":       &cfg.Topics.Prefix,
		"HTTP_ADDR":          &cfg.HTTP.Addr,
		"METRICS_PATH":       &cfg.Metrics.Path,
		"LOG_LEVEL":          &cfg.Log.Level,
		"LOG_FORMAT":         &cfg.Log.Format,
	}
	for suffix, target := range strVars {
		val, err := l.lookup(suffix)
		if err != nil {
			return err
		}
		if val != "" {
			*target = val
		}
	}

	intVars := map[string]*int{
		"BROKER_PORT":  &cfg.Broker.Port,
		"METRICS_PORT": &cfg.Metrics.Port,
	}
	for suffix, target := range intVars {
		val, err := l.lookup(suffix)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, err)
		}
		*target = n
	}

	listVars := map[string]*[]string{
		"TLS_CA_FILES": &cfg.Broker.TLS.CAFiles,
		"ZONES":        &cfg.Zones,
	}
	for suffix, target := range listVars {
		val, err := l.lookup(suffix)
		if err != nil {
			return err
		}
		if val != "" {
			*target = splitList(val)
		}
	}

	val, err := l.lookup("TLS_SKIP_HOSTNAME_VERIFICATION")
	if err != nil {
		return err
	}
	if val != "" {
		skip, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_TLS_SKIP_HOSTNAME_VERIFICATION: %w", l.envPrefix, err)
		}
		cfg.Broker.TLS.SkipHostnameVerification = skip
	}
	return nil
}

func (l *Loader) lookup(suffix string) (string, error) {
	key := l.envPrefix + "_" + suffix
	val := l.getenv(key)
	if err := validateEnvVar(key, val); err != nil {
		return "", err
	}
	return val, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
