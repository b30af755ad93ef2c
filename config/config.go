// Package config defines tuning parameters for the task-execution
// engine and optional YAML loading for deployments that configure the
// engine from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the operational parameters of the engine: recursion
// and retry bounds, the confidence acceptance threshold and feature
// switches for reflection, rollback and parallel child execution.
type Config struct {
	// MaxDepth bounds decomposition recursion. A task at MaxDepth is
	// always treated as a leaf.
	MaxDepth int `yaml:"max_depth"`

	// MaxAttempts bounds the retry state machine per leaf task.
	MaxAttempts int `yaml:"max_attempts"`

	// ConfidenceThreshold is the minimum self-reported confidence a
	// candidate result must meet; below it the attempt is a retryable
	// failure.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// EnableReflection turns the post-attempt reflection step on.
	EnableReflection bool `yaml:"enable_reflection"`

	// EnableRollback turns the whole-run rollback safety net on.
	EnableRollback bool `yaml:"enable_rollback"`

	// Parallel selects concurrent child execution for composite tasks;
	// false means sequential declaration order.
	Parallel bool `yaml:"parallel"`

	// ApprovalTimeout bounds the human-approval wait.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// StepLogTruncate limits the recorded length of actual outcomes.
	StepLogTruncate int `yaml:"step_log_truncate"`
}

// DefaultConfig provides the defaults used by the façade when no
// config is supplied.
var DefaultConfig = Config{
	MaxDepth:            3,
	MaxAttempts:         3,
	ConfidenceThreshold: 0.7,
	EnableReflection:    true,
	EnableRollback:      true,
	Parallel:            false,
	ApprovalTimeout:     5 * time.Minute,
	StepLogTruncate:     500,
}

// Load reads a YAML config file, applying defaults for absent fields.
func Load(path string) (Config, error) {
	cfg := DefaultConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("approval_timeout must be positive, got %v", c.ApprovalTimeout)
	}
	return nil
}
