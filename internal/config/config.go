/*
Package config handles loading and saving personalize configuration.

Configuration is layered with koanf: built-in defaults, then the YAML file
(~/.personalize/config.yaml unless overridden), then PERSONALIZE_* environment
variables.

Schema:

	storage:
	  driver: sqlite          # sqlite, badger or memory
	  path: ~/.personalize/state.db
	catalog:
	  path: catalog.json
	  limit: 500
	  breaker:
	    max_requests: 1
	    timeout: 30s
	    failure_threshold: 5
	experiments:
	  path: experiments.yaml
	  watch: true
	recommend:
	  timeout: 3s
	  candidate_limit: 500
	  search_terms: 5
	generator:
	  enabled: false
	  model: claude-sonnet-4-5
	tracking:
	  queue_size: 1000
	  batch_size: 10
	  flush_interval: 50ms
	logging:
	  level: info
	  format: console
	http:
	  addr: 127.0.0.1:8080
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/khanglvm/personalize/internal/catalog"
	"github.com/khanglvm/personalize/internal/generator"
	"github.com/khanglvm/personalize/internal/logging"
	"github.com/khanglvm/personalize/internal/recommend"
	"github.com/khanglvm/personalize/internal/tracking"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Config represents the root configuration structure.
type Config struct {
	Storage     StorageConfig     `koanf:"storage" yaml:"storage"`
	Catalog     CatalogConfig     `koanf:"catalog" yaml:"catalog"`
	Experiments ExperimentsConfig `koanf:"experiments" yaml:"experiments"`
	Recommend   recommend.Config  `koanf:"recommend" yaml:"recommend"`
	Generator   generator.Config  `koanf:"generator" yaml:"generator"`
	Tracking    tracking.Config   `koanf:"tracking" yaml:"tracking"`
	Logging     logging.Config    `koanf:"logging" yaml:"logging"`
	HTTP        HTTPConfig        `koanf:"http" yaml:"http"`
}

// StorageConfig selects the durable per-visitor store.
type StorageConfig struct {
	// Driver is sqlite, badger or memory.
	Driver string `koanf:"driver" yaml:"driver" validate:"required,oneof=sqlite badger memory"`

	// Path is the SQLite file or Badger directory. Ignored by memory.
	Path string `koanf:"path" yaml:"path"`
}

// CatalogConfig locates the catalog and purchase history document.
type CatalogConfig struct {
	Path    string                `koanf:"path" yaml:"path"`
	Limit   int                   `koanf:"limit" yaml:"limit" validate:"gte=0"`
	Breaker catalog.BreakerConfig `koanf:"breaker" yaml:"breaker"`
}

// ExperimentsConfig locates the experiment definitions file.
type ExperimentsConfig struct {
	Path string `koanf:"path" yaml:"path"`

	// Watch reloads definitions when the file changes.
	Watch bool `koanf:"watch" yaml:"watch"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr" validate:"required,hostname_port"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	dir := DefaultDir()
	return &Config{
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(dir, "state.db"),
		},
		Catalog: CatalogConfig{
			Path:    filepath.Join(dir, "catalog.json"),
			Limit:   recommend.DefaultConfig().CandidateLimit,
			Breaker: catalog.DefaultBreakerConfig(),
		},
		Experiments: ExperimentsConfig{
			Path:  filepath.Join(dir, "experiments.yaml"),
			Watch: true,
		},
		Recommend: recommend.DefaultConfig(),
		Generator: generator.DefaultConfig(),
		Tracking:  tracking.DefaultConfig(),
		Logging:   logging.DefaultConfig(),
		HTTP:      HTTPConfig{Addr: "127.0.0.1:8080"},
	}
}

// DefaultDir returns ~/.personalize, or .personalize when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".personalize"
	}
	return filepath.Join(home, ".personalize")
}

// DefaultPath returns the config file path, honoring PERSONALIZE_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	return filepath.Join(DefaultDir(), "config.yaml")
}

// String summarizes the config without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("storage=%s:%s catalog=%s experiments=%s generator=%t http=%s",
		c.Storage.Driver, c.Storage.Path, c.Catalog.Path, c.Experiments.Path, c.Generator.Enabled, c.HTTP.Addr)
}
