// Package config loads the approval engine settings file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Engine holds the tunables of rule matching, escalation and the scheduler.
type Engine struct {
	// DefaultEscalationTimer applies to levels without a configured timer.
	DefaultEscalationTimer time.Duration `yaml:"default_escalation_timer" validate:"gt=0"`

	// DefaultMaxLevel is the ladder ceiling when matched rules configure no approver roles.
	DefaultMaxLevel int `yaml:"default_max_level" validate:"gte=0"`

	// AdminRoles receive ladder-exhausted alerts and staff levels without configured roles.
	AdminRoles []string `yaml:"admin_roles" validate:"min=1,dive,required"`

	Scheduler Scheduler `yaml:"scheduler"`

	// RetryAttempts bounds compare-and-swap retries on concurrent updates.
	RetryAttempts uint64 `yaml:"retry_attempts" validate:"gte=1"`

	// LeaseTTL is how long a replica holds an approval while escalating it.
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"gt=0"`
}

// Scheduler configures the recurring escalation pass.
type Scheduler struct {
	// Spec is a robfig/cron schedule, e.g. "@every 5m".
	Spec      string `yaml:"spec"       validate:"required"`
	BatchSize int    `yaml:"batch_size" validate:"gt=0"`
	Workers   int    `yaml:"workers"    validate:"gt=0"`
}

// Default returns the built-in settings.
func Default() Engine {
	return Engine{
		DefaultEscalationTimer: 4 * time.Hour,
		DefaultMaxLevel:        3,
		AdminRoles:             []string{"PLATFORM_ADMIN"},
		Scheduler: Scheduler{
			Spec:      "@every 5m",
			BatchSize: 100,
			Workers:   1,
		},
		RetryAttempts: 5,
		LeaseTTL:      time.Minute,
	}
}

// Load reads a YAML settings file over the defaults. An empty path returns the defaults.
func Load(path string) (Engine, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Engine{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Engine{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}

	return cfg, nil
}

// Validate checks the settings against their constraints.
func (e Engine) Validate() error {
	if err := validator.New().Struct(e); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	return nil
}
