package content

import (
	"errors"
	"fmt"
)

// ErrConfig is the sentinel matched by errors.Is for every malformed
// discipline configuration.
var ErrConfig = errors.New("invalid schedule config")

// ConfigError describes a malformed discipline_config (or other creation input).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfig, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
