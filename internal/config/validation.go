package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if c.Storage.Driver != DriverMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
	}
	if c.Catalog.Path == "" {
		return errors.New("catalog.path is required")
	}
	if c.Generator.Enabled && c.Generator.APIKey == "" {
		return fmt.Errorf("generator.enabled requires generator.api_key or %s", APIKeyEnvVar)
	}
	if c.Experiments.Watch && c.Experiments.Path == "" {
		return errors.New("experiments.watch requires experiments.path")
	}

	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
