// Package config loads apidelta settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables. Command line flags are applied by the CLI on top.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported ecosystems.
const (
	EcosystemPyPI   = "pypi"
	EcosystemGolang = "golang"
)

// Config is the full set of settings.
type Config struct {
	// Ecosystem selects the language driver: "pypi" or "golang".
	Ecosystem string `yaml:"ecosystem"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Cache    CacheConfig   `yaml:"cache"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Python   PythonConfig  `yaml:"python"`
	Go       GoConfig      `yaml:"go"`
}

// CacheConfig configures the surface cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`

	// Dir enables the persistent store when set.
	Dir string `yaml:"dir"`

	ComputeTimeout time.Duration `yaml:"compute_timeout"`
}

// TimeoutConfig holds the independent per-call timeouts.
type TimeoutConfig struct {
	Lookup   time.Duration `yaml:"lookup"`
	Resource time.Duration `yaml:"resource"`
	Fetch    time.Duration `yaml:"fetch"`
}

// PythonConfig configures the pypi driver.
type PythonConfig struct {
	// Interpreter runs live inspection and site-packages discovery.
	Interpreter string `yaml:"interpreter"`

	// SitePackages lists directories searched for installed distributions.
	// Empty means ask the interpreter.
	SitePackages []string `yaml:"site_packages"`

	MaxFiles   int    `yaml:"max_files"`
	MaxModules int    `yaml:"max_modules"`
	IndexURL   string `yaml:"index_url"`
}

// GoConfig configures the golang driver.
type GoConfig struct {
	// Proxy has GOPROXY syntax; empty means use the GOPROXY variable.
	Proxy string `yaml:"proxy"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Ecosystem: EcosystemPyPI,
		LogLevel:  "info",
		Cache: CacheConfig{
			Capacity:       128,
			ComputeTimeout: 2 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			Lookup:   3 * time.Minute,
			Resource: 20 * time.Second,
			Fetch:    60 * time.Second,
		},
		Python: PythonConfig{
			Interpreter: "python3",
			MaxFiles:    400,
			MaxModules:  20,
			IndexURL:    "https://pypi.org",
		},
	}
}

// DefaultPath returns the config file consulted when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "apidelta", "config.yaml")
}

// Load builds a Config from defaults, the file at path (a missing file is
// not an error) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("APIDELTA_ECOSYSTEM"); v != "" {
		cfg.Ecosystem = v
	}
	if v := os.Getenv("APIDELTA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("APIDELTA_CACHE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Capacity = i
		}
	}
	if v := os.Getenv("APIDELTA_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	envDuration("APIDELTA_COMPUTE_TIMEOUT", &cfg.Cache.ComputeTimeout)
	envDuration("APIDELTA_LOOKUP_TIMEOUT", &cfg.Timeouts.Lookup)
	envDuration("APIDELTA_RESOURCE_TIMEOUT", &cfg.Timeouts.Resource)
	envDuration("APIDELTA_FETCH_TIMEOUT", &cfg.Timeouts.Fetch)

	if v := os.Getenv("APIDELTA_PYTHON"); v != "" {
		cfg.Python.Interpreter = v
	}
	if v := os.Getenv("APIDELTA_SITE_PACKAGES"); v != "" {
		cfg.Python.SitePackages = filepath.SplitList(v)
	}
	if v := os.Getenv("APIDELTA_PYPI_URL"); v != "" {
		cfg.Python.IndexURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("APIDELTA_GOPROXY"); v != "" {
		cfg.Go.Proxy = v
	} else if cfg.Go.Proxy == "" {
		cfg.Go.Proxy = os.Getenv("GOPROXY")
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects settings the analyzer cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Ecosystem {
	case EcosystemPyPI, EcosystemGolang:
	default:
		errs = append(errs, fmt.Errorf("ecosystem %q is not supported (want %s or %s)", c.Ecosystem, EcosystemPyPI, EcosystemGolang))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity))
	}
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"cache.compute_timeout", c.Cache.ComputeTimeout},
		{"timeouts.lookup", c.Timeouts.Lookup},
		{"timeouts.resource", c.Timeouts.Resource},
		{"timeouts.fetch", c.Timeouts.Fetch},
	} {
		if t.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", t.name, t.d))
		}
	}
	if c.Python.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("python.max_files must be positive, got %d", c.Python.MaxFiles))
	}
	if c.Python.MaxModules <= 0 {
		errs = append(errs, fmt.Errorf("python.max_modules must be positive, got %d", c.Python.MaxModules))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
