package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the struct tags of cfg and the selected snapshot backend.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		return err
	}
	if err := cfg.Snapshots.Validate(); err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}
	return nil
}
