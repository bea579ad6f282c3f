package schema

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// titlePattern defines the valid format for event titles. Titles start with
// a word character and may carry a colon-separated detail suffix, which the
// responder strips when building incident group keys.
// Examples: "Wallet drain detected: main-treasury", "Agent quarantined: scout-1"
var titlePattern = regexp.MustCompile(`^[A-Za-z0-9][^\n]*$`)

// Validator validates security events against the shared contract.
type Validator struct {
	validate  *validator.Validate
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("title_format", func(fl validator.FieldLevel) bool {
		return titlePattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates an event. Returns an error if the event does not
// conform to the contract.
func (v *Validator) Validate(event *SecurityEvent) error {
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("event validation failed: %w", err)
	}

	if event.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if event.Timestamp.After(time.Now().UTC().Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", event.Timestamp, v.maxFuture)
	}

	return nil
}
