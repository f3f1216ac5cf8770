// Package config loads the description of a record store: which backend
// holds which table, the key prefix, the display zone and whether backend
// calls are instrumented. Configuration comes from YAML or CUE files and
// is turned into a *record.Registry by Open.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindRedis  = "redis"
	KindSQLite = "sqlite"
)

// Environment variables consulted by ApplyEnv and the CLI.
const (
	EnvConfig   = "KVSQL_CONFIG"
	EnvRedisURL = "REDIS_URL"
)

// DefaultPath is the config file the CLI looks for when none is given.
const DefaultPath = "kvsql.yaml"

// Config describes a registry.
type Config struct {
	// Prefix is the first segment of every backend key. Default: "kvsql".
	Prefix string `yaml:"prefix" json:"prefix"`

	// Location is the IANA zone used to render _at attributes. Default: UTC.
	Location string `yaml:"location" json:"location"`

	// Backend holds every table not listed in Bindings.
	Backend BackendConfig `yaml:"backend" json:"backend"`

	// Bindings routes individual tables to their own backend.
	Bindings map[string]BackendConfig `yaml:"bindings,omitempty" json:"bindings,omitempty" validate:"dive"`

	// Metrics wraps every backend with Prometheus instruments.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// Search enables the in-process full-text index.
	Search bool `yaml:"search" json:"search"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// BackendConfig selects and configures one backend.
type BackendConfig struct {
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=memory file redis sqlite"`

	// Path is the root directory (file) or database file (sqlite).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// URL is the redis:// address (redis).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Namespace scopes file directories and redis keys. Default: the
	// config prefix.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// Default returns a valid in-memory configuration.
func Default() *Config {
	cfg := &Config{Backend: BackendConfig{Kind: KindMemory}}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file. Files ending in .cue are evaluated as
// CUE; anything else is parsed as YAML with unknown fields rejected.
// Defaults and environment overrides are applied before validation.
func Load(path string, getenv func(string) string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	if filepath.Ext(path) == ".cue" {
		cfg, err = ParseCUE(data)
	} else {
		cfg, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", path, err)
	}
	return cfg, nil
}

// ParseYAML parses a YAML document and applies defaults. The result is
// not validated.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ParseCUE evaluates a CUE document, decodes it into a Config and applies
// defaults. The result is not validated.
func ParseCUE(data []byte) (*Config, error) {
	value := cuecontext.New().CompileBytes(data)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to build CUE value: %w", err)
	}
	if err := value.Validate(); err != nil {
		return nil, fmt.Errorf("invalid CUE value: %w", err)
	}
	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode CUE value: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "kvsql"
	}
	if c.Location == "" {
		c.Location = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = KindMemory
	}
}

var validate = validator.New()

// Validate checks field constraints and the per-kind requirements:
// file and sqlite backends need a path, redis needs a URL.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	if _, err := time.LoadLocation(c.Location); err != nil {
		errs = append(errs, fmt.Errorf("location %q: %w", c.Location, err))
	}
	errs = append(errs, c.Backend.check("backend"))
	for _, table := range slices.Sorted(maps.Keys(c.Bindings)) {
		if strings.TrimSpace(table) == "" {
			errs = append(errs, errors.New("bindings: empty table name"))
			continue
		}
		errs = append(errs, c.Bindings[table].check("bindings."+table))
	}
	return errors.Join(errs...)
}

func (b BackendConfig) check(at string) error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%s: %w", at, err)
	}
	switch b.Kind {
	case KindFile, KindSQLite:
		if b.Path == "" {
			return fmt.Errorf("%s: %s backend needs a path", at, b.Kind)
		}
	case KindRedis:
		if b.URL == "" {
			return fmt.Errorf("%s: redis backend needs a url", at)
		}
	}
	return nil
}

// ApplyEnv overrides settings from the environment. REDIS_URL fills the
// URL of every redis backend that has none. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	url := getenv(EnvRedisURL)
	if url == "" {
		return
	}
	if c.Backend.Kind == KindRedis && c.Backend.URL == "" {
		c.Backend.URL = url
	}
	for table, b := range c.Bindings {
		if b.Kind == KindRedis && b.URL == "" {
			b.URL = url
			c.Bindings[table] = b
		}
	}
}

// Resolve picks the config file to use: the explicit path, then
// KVSQL_CONFIG, then DefaultPath if it exists. An empty result means
// "use Default()".
func Resolve(explicit string, getenv func(string) string) string {
	if explicit != "" {
		return explicit
	}
	if p := getenv(EnvConfig); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}
