package config

import (
	"fmt"
	"io/fs"
	"strings"
)

// PermissionError is returned when the config file or its directory cannot be
// read or written by the current user.
type PermissionError struct {
	Path    string
	Op      string // "read" or "write"
	Fix     string // shell command that restores access
	Details string
}

func (e *PermissionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot %s config %s: permission denied\n", e.Op, e.Path)
	if e.Details != "" {
		b.WriteString(e.Details + "\n")
	}
	b.WriteString("💡 Fix: " + e.Fix)
	return b.String()
}

// Is lets callers match with errors.Is(err, fs.ErrPermission).
func (e *PermissionError) Is(target error) bool {
	return target == fs.ErrPermission
}

// ConfigNotFoundError is returned when an explicitly requested config file does not exist.
type ConfigNotFoundError struct {
	Path string
	Hint string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config %s does not exist\n💡 %s", e.Path, e.Hint)
}

// Is lets callers match with errors.Is(err, fs.ErrNotExist).
func (e *ConfigNotFoundError) Is(target error) bool {
	return target == fs.ErrNotExist
}

// InvalidConfigError is returned when the config cannot be parsed, decoded or validated.
type InvalidConfigError struct {
	Path    string
	Message string
	Hint    string
	Err     error
}

func (e *InvalidConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid config %s", e.Path)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Hint != "" {
		b.WriteString("\n💡 " + e.Hint)
	}
	return b.String()
}

func (e *InvalidConfigError) Unwrap() error {
	return e.Err
}
