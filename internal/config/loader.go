package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file path.
const PathEnvVar = "PERSONALIZE_CONFIG"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PERSONALIZE_"

// APIKeyEnvVar is consulted when generator.api_key is unset.
const APIKeyEnvVar = "ANTHROPIC_API_KEY"

// envMappings maps environment variables (without EnvPrefix, lowercased) to koanf keys.
var envMappings = map[string]string{
	"storage_driver": "storage.driver",
	"storage_path":   "storage.path",

	"catalog_path":                      "catalog.path",
	"catalog_limit":                     "catalog.limit",
	"catalog_breaker_max_requests":      "catalog.breaker.max_requests",
	"catalog_breaker_interval":          "catalog.breaker.interval",
	"catalog_breaker_timeout":           "catalog.breaker.timeout",
	"catalog_breaker_failure_threshold": "catalog.breaker.failure_threshold",

	"experiments_path":  "experiments.path",
	"experiments_watch": "experiments.watch",

	"recommend_timeout":         "recommend.timeout",
	"recommend_candidate_limit": "recommend.candidate_limit",
	"recommend_search_terms":    "recommend.search_terms",

	"generator_enabled":         "generator.enabled",
	"generator_model":           "generator.model",
	"generator_api_key":         "generator.api_key",
	"generator_max_tokens":      "generator.max_tokens",
	"generator_rate_per_minute": "generator.rate_per_minute",

	"tracking_queue_size":     "tracking.queue_size",
	"tracking_batch_size":     "tracking.batch_size",
	"tracking_flush_interval": "tracking.flush_interval",

	"log_level":  "logging.level",
	"log_format": "logging.format",

	"http_addr": "http.addr",
}

// envTransformFunc returns the koanf key for an environment variable, or "" to skip it.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}

// Load reads configuration from defaults, the YAML file at path and the environment.
//
// An empty path resolves to DefaultPath. A missing file is an error only when the
// path was given explicitly or through PERSONALIZE_CONFIG.
func Load(path string) (*Config, error) {
	explicit := path != "" || os.Getenv(PathEnvVar) != ""
	if path == "" {
		path = DefaultPath()
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	found, err := checkReadable(path)
	if err != nil {
		return nil, err
	}
	if !found && explicit {
		return nil, &ConfigNotFoundError{
			Path: path,
			Hint: "Run 'personalize config init' to create configuration",
		}
	}
	if found {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, &InvalidConfigError{
				Path:    path,
				Message: "YAML parse error",
				Hint:    "Restore from .bak file if available",
				Err:     err,
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, &InvalidConfigError{
			Path:    path,
			Message: "decode error",
			Hint:    "Check value types (durations like 3s, numbers unquoted)",
			Err:     err,
		}
	}

	if cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = os.Getenv(APIKeyEnvVar)
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Catalog.Path = expandHome(cfg.Catalog.Path)
	cfg.Experiments.Path = expandHome(cfg.Experiments.Path)

	if err := cfg.Validate(); err != nil {
		return nil, &InvalidConfigError{
			Path:    path,
			Message: err.Error(),
			Hint:    "Fix the listed fields or run 'personalize config init' for a fresh file",
			Err:     err,
		}
	}

	return cfg, nil
}

// checkReadable reports whether path exists, returning a PermissionError when it
// exists but cannot be read.
func checkReadable(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to access config: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return true, &PermissionError{
				Path:    path,
				Op:      "read",
				Fix:     getReadPermissionFix(path),
				Details: getPermissionDetails(path),
			}
		}
		return true, fmt.Errorf("failed to read config: %w", err)
	}
	f.Close()
	return true, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// getReadPermissionFix returns platform-specific fix command
func getReadPermissionFix(path string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Right-click %s → Properties → Security → Edit permissions", path)
	default:
		return fmt.Sprintf("Run: chmod 644 %s", path)
	}
}

// getPermissionDetails checks file permissions
func getPermissionDetails(path string) string {
	if runtime.GOOS == "windows" {
		return ""
	}

	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Current permissions: %04o", info.Mode().Perm())
}
