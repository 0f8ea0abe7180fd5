package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rshade/apicache/internal/engine/cache"
)

// Supported cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Environment variables that override the config file.
const (
	EnvHome          = "APICACHE_HOME"
	EnvCacheBackend  = "APICACHE_CACHE_BACKEND"
	EnvCacheDir      = "APICACHE_CACHE_DIR"
	EnvCachePrefix   = "APICACHE_CACHE_PREFIX"
	EnvCacheEnabled  = "APICACHE_CACHE_ENABLED"
	EnvLogLevel      = "APICACHE_LOG_LEVEL"
	EnvLogFormat     = "APICACHE_LOG_FORMAT"
	EnvServerAddress = "APICACHE_SERVER_ADDRESS"
	EnvUpstream      = "APICACHE_UPSTREAM"
)

const configFileName = "config.yaml"

// ErrUnknownKey is returned by Get and Set for keys that are not config settings.
var ErrUnknownKey = errors.New("unknown configuration key")

// Config is the apicache configuration file.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`

	configPath string
	loadErr    error
}

// CacheConfig selects and tunes the response cache.
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"`
	Directory string `yaml:"directory,omitempty"`
	Prefix    string `yaml:"prefix"`
	// DefaultTTL replaces the window for identities no rule matches. Zero
	// keeps the built-in default.
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	ParamsOnSet   bool          `yaml:"params_on_set"`
	Coalesce      bool          `yaml:"coalesce"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// ServerConfig controls the serve command.
type ServerConfig struct {
	Address  string        `yaml:"address"`
	Upstream string        `yaml:"upstream,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration, pointing at the default
// config file path without reading it.
func Default() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			Enabled:       true,
			Backend:       BackendFile,
			Prefix:        cache.DefaultPrefix,
			SweepInterval: cache.DefaultSweepInterval,
			Coalesce:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Address: ":8080",
			Timeout: 10 * time.Second,
		},
	}
	if dir, err := GetConfigDir(); err == nil {
		cfg.configPath = filepath.Join(dir, configFileName)
	}
	return cfg
}

// New returns the effective configuration: defaults, overlaid by the config
// file when present, overlaid by environment variables. A malformed file
// leaves the defaults in place and is reported by LoadErr.
func New() *Config {
	cfg := Default()
	if err := cfg.Load(); err != nil {
		cfg.loadErr = err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		cfg.loadErr = errors.Join(cfg.loadErr, err)
	}
	return cfg
}

// LoadErr returns the error, if any, encountered by New.
func (c *Config) LoadErr() error {
	return c.loadErr
}

// ConfigPath returns the config file path.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// SetConfigPath changes the file used by Load and Save.
func (c *Config) SetConfigPath(path string) {
	c.configPath = path
}

// Load merges the config file onto c. A missing file is not an error.
func (c *Config) Load() error {
	if c.configPath == "" {
		return nil
	}
	if _, err := os.Stat(c.configPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return ShallowMergeYAML(c, c.configPath)
}

// Save writes c to its config file, creating the directory if needed.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("no configuration file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err = os.WriteFile(c.configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.configPath, err)
	}
	return nil
}

// ApplyEnv overlays environment variable settings onto c.
func (c *Config) ApplyEnv(lookupEnv func(string) (string, bool)) error {
	overrides := []struct {
		env string
		key string
	}{
		{EnvCacheBackend, "cache.backend"},
		{EnvCacheDir, "cache.directory"},
		{EnvCachePrefix, "cache.prefix"},
		{EnvCacheEnabled, "cache.enabled"},
		{EnvLogLevel, "logging.level"},
		{EnvLogFormat, "logging.format"},
		{EnvServerAddress, "server.address"},
		{EnvUpstream, "server.upstream"},
	}

	var errs []error
	for _, o := range overrides {
		value, ok := lookupEnv(o.env)
		if !ok || value == "" {
			continue
		}
		if err := c.Set(o.key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.env, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that every setting holds a usable value.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case BackendFile, BackendSQLite, BackendMemory, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unsupported backend %q", c.Cache.Backend))
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, errors.New("cache.default_ttl must not be negative"))
	}
	if c.Cache.SweepInterval < 0 {
		errs = append(errs, errors.New("cache.sweep_interval must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported format %q", c.Logging.Format))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, errors.New("server.timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// CacheDirectory returns the directory holding cache data, defaulting to
// <config dir>/cache.
func (c *Config) CacheDirectory() (string, error) {
	if c.Cache.Directory != "" {
		return c.Cache.Directory, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache"), nil
}

// TTLPolicy returns the endpoint policy with the configured default window.
func (c *Config) TTLPolicy() cache.TTLPolicy {
	policy := cache.DefaultTTLPolicy()
	if c.Cache.DefaultTTL > 0 {
		policy.Default = c.Cache.DefaultTTL
	}
	return policy
}

// Keys returns every dot-path key accepted by Get and Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value at a dot-path key such as "cache.backend".
func (c *Config) Get(key string) (string, error) {
	s, ok := settings[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.get(c), nil
}

// Set parses value and stores it at a dot-path key.
func (c *Config) Set(key, value string) error {
	s, ok := settings[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.set(c, strings.TrimSpace(value))
}

// List returns every key with its current value.
func (c *Config) List() map[string]string {
	out := make(map[string]string, len(settings))
	for k, s := range settings {
		out[k] = s.get(c)
	}
	return out
}

type setting struct {
	get func(*Config) string
	set func(*Config, string) error
}

//nolint:gochecknoglobals // Static table of dot-path accessors.
var settings = map[string]setting{
	"cache.enabled": boolSetting(func(c *Config) *bool { return &c.Cache.Enabled }),
	"cache.backend": {
		get: func(c *Config) string { return c.Cache.Backend },
		set: func(c *Config, v string) error {
			switch v {
			case BackendFile, BackendSQLite, BackendMemory, BackendNone:
				c.Cache.Backend = v
				return nil
			}
			return fmt.Errorf("unsupported backend %q (want file, sqlite, memory or none)", v)
		},
	},
	"cache.directory":      stringSetting(func(c *Config) *string { return &c.Cache.Directory }),
	"cache.prefix":         stringSetting(func(c *Config) *string { return &c.Cache.Prefix }),
	"cache.default_ttl":    durationSetting(func(c *Config) *time.Duration { return &c.Cache.DefaultTTL }),
	"cache.sweep_interval": durationSetting(func(c *Config) *time.Duration { return &c.Cache.SweepInterval }),
	"cache.params_on_set":  boolSetting(func(c *Config) *bool { return &c.Cache.ParamsOnSet }),
	"cache.coalesce":       boolSetting(func(c *Config) *bool { return &c.Cache.Coalesce }),
	"logging.level": {
		get: func(c *Config) string { return c.Logging.Level },
		set: func(c *Config, v string) error {
			if _, err := zerolog.ParseLevel(v); err != nil {
				return err
			}
			c.Logging.Level = v
			return nil
		},
	},
	"logging.format":  stringSetting(func(c *Config) *string { return &c.Logging.Format }),
	"logging.file":    stringSetting(func(c *Config) *string { return &c.Logging.File }),
	"server.address":  stringSetting(func(c *Config) *string { return &c.Server.Address }),
	"server.upstream": stringSetting(func(c *Config) *string { return &c.Server.Upstream }),
	"server.timeout":  durationSetting(func(c *Config) *time.Duration { return &c.Server.Timeout }),
}

func stringSetting(field func(*Config) *string) setting {
	return setting{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func boolSetting(field func(*Config) *bool) setting {
	return setting{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q", v)
			}
			*field(c) = b
			return nil
		},
	}
}

// durationSetting accepts Go durations ("90s") or integer seconds; zero is allowed.
func durationSetting(field func(*Config) *time.Duration) setting {
	return setting{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			if v == "0" {
				*field(c) = 0
				return nil
			}
			d, err := cache.ParseTTL(v)
			if err != nil {
				return err
			}
			*field(c) = d
			return nil
		},
	}
}
