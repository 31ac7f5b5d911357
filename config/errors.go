package config

import "github.com/pkg/errors"

var (
	// ErrConfigurationMissing is returned when a configuration file does not exist or holds an
	// empty document.
	ErrConfigurationMissing = errors.New("configuration not found")
	// ErrConfigurationInvalid is returned when a configuration document lacks a required key or
	// holds an out of range value.
	ErrConfigurationInvalid = errors.New("invalid configuration")
)

// NewFieldRequiredError returns an error for a missing required key.
func NewFieldRequiredError(path, field string) error {
	return errors.Wrapf(ErrConfigurationInvalid, "%s: %q is required", path, field)
}

// NewFieldInvalidError returns an error for a key with an unusable value.
func NewFieldInvalidError(path, field string, value interface{}, reason string) error {
	return errors.Wrapf(ErrConfigurationInvalid, "%s: %q = %v %s", path, field, value, reason)
}
