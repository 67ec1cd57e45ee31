package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory needs no path", func(c *Config) { c.Storage.Driver = DriverMemory; c.Storage.Path = "" }, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "Storage.Driver"},
		{"sqlite needs path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"catalog path required", func(c *Config) { c.Catalog.Path = "" }, "catalog.path"},
		{"negative timeout", func(c *Config) { c.Recommend.Timeout = -1 }, "Recommend.Timeout"},
		{"breaker threshold", func(c *Config) { c.Catalog.Breaker.FailureThreshold = 0 }, "FailureThreshold"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "Logging.Level"},
		{"bad http addr", func(c *Config) { c.HTTP.Addr = "nope" }, "HTTP.Addr"},
		{"generator needs key", func(c *Config) { c.Generator.Enabled = true; c.Generator.APIKey = "" }, "api_key"},
		{"watch needs path", func(c *Config) { c.Experiments.Path = "" }, "experiments.watch"},
		{"no experiments without watch", func(c *Config) { c.Experiments.Path = ""; c.Experiments.Watch = false }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got %v", tt.wantErr, err)
			}
		})
	}
}
