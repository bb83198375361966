package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittosmb/pkg/smburi"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that cannot be expressed in tags.
func validateCustomRules(cfg *Config) error {
	seen := make(map[smburi.ID]bool)
	for i, m := range cfg.Shares.Mounts {
		id, err := smburi.Parse(m.URI)
		if err != nil {
			return fmt.Errorf("shares.mounts[%d]: %w", i, err)
		}
		if !id.IsShare() {
			return fmt.Errorf("shares.mounts[%d]: %q is not a share", i, m.URI)
		}
		if seen[id] {
			return fmt.Errorf("shares.mounts[%d]: duplicate share %q", i, m.URI)
		}
		seen[id] = true
	}

	if cfg.Tasks.StatRate > 0 && cfg.Tasks.StatBurst == 0 {
		return fmt.Errorf("tasks: stat_burst must be positive when stat_rate is set")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
