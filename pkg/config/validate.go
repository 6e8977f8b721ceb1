package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the configuration for missing or out-of-range values.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return formatValidationError(err)
	}

	for _, pattern := range c.ZonePatterns {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("zone_patterns must not contain empty patterns")
		}
	}
	if _, err := c.ZoneMatcher(); err != nil {
		return err
	}
	return nil
}

// formatValidationError reports the first failed field in config terms.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return err
	}

	e := validationErrors[0]
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	if e.Param() != "" {
		return fmt.Errorf("field %s failed on the '%s=%s' rule", field, e.Tag(), e.Param())
	}
	return fmt.Errorf("field %s failed on the '%s' rule", field, e.Tag())
}
