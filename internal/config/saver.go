package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/khanglvm/personalize/internal/logging"
)

// fileHeader is prepended to every saved config.
const fileHeader = "# personalize configuration. PERSONALIZE_* environment variables override these values.\n"

// Save validates cfg and writes it to path as YAML, keeping the previous file
// as path.bak.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return &InvalidConfigError{
			Path:    path,
			Message: err.Error(),
			Hint:    "Check the configuration and try again",
			Err:     err,
		}
	}

	if err := checkWritePermission(path); err != nil {
		return err
	}

	// First run has nothing to back up.
	if err := backupConfig(path); err != nil {
		log := logging.Component("config")
		log.Warn().Err(err).Str("path", path).Msg("failed to create backup")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return atomicWrite(path, append([]byte(fileHeader), data...))
}

func backupConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return os.WriteFile(path+".bak", data, 0600)
}

// atomicWrite replaces path with data through a temp file in the same directory,
// so readers never observe a partially written config.
func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err = tmp.Chmod(0600); err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// checkWritePermission verifies we can write to the config path
func checkWritePermission(path string) error {
	dir := filepath.Dir(path)

	if err := checkDirectoryWritable(dir); err != nil {
		return &PermissionError{
			Path:    dir,
			Op:      "write",
			Fix:     getWritePermissionFix(dir),
			Details: "Cannot write to config directory",
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := checkFileWritable(path); err != nil {
			return &PermissionError{
				Path:    path,
				Op:      "write",
				Fix:     getWritePermissionFix(path),
				Details: "Config file is read-only",
			}
		}
	}

	return nil
}

// checkDirectoryWritable creates dir if needed and writes a temp file into it.
func checkDirectoryWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkFileWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

func getWritePermissionFix(path string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Right-click %s → Properties → Security → Grant 'Write' permission", path)
	default:
		return fmt.Sprintf("Run: chmod u+w %s", path)
	}
}
