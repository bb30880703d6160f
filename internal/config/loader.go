package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by defaults in main.
type Config struct {
	Addr           string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir      string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultVersion string `json:"default_version" yaml:"default_version" toml:"default_version"`

	// WarmOnSwitch loads the new active version in the background after an
	// admin switch instead of waiting for the next prediction.
	WarmOnSwitch bool `json:"warm_on_switch" yaml:"warm_on_switch" toml:"warm_on_switch"`
	// FallbackToDefault makes defaulted predictions fall back to
	// DefaultVersion if the active version's storage disappears.
	FallbackToDefault bool `json:"fallback_to_default" yaml:"fallback_to_default" toml:"fallback_to_default"`
	// PreloadDefault loads the default version at startup; /readyz reports
	// 503 until it finishes.
	PreloadDefault bool `json:"preload_default" yaml:"preload_default" toml:"preload_default"`

	LogLevel     string  `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile      string  `json:"log_file" yaml:"log_file" toml:"log_file"`
	MaxBodyBytes int64   `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	AdminRate    float64 `json:"admin_rate" yaml:"admin_rate" toml:"admin_rate"`
	AuditDB      string  `json:"audit_db" yaml:"audit_db" toml:"audit_db"`

	Minio Minio `json:"minio" yaml:"minio" toml:"minio"`
}

// Minio configures an S3-compatible artifact store. When Endpoint is empty
// the service uses the local models directory instead.
type Minio struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Bucket    string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix" toml:"prefix"`
	AccessKey string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" toml:"use_ssl"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
