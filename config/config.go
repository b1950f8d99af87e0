// Package config loads orchestrator deployment configuration from YAML via
// gopkg.in/yaml.v3, rather than a bespoke flag/env parser for structured
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/taskorchestrator/cycle"
	"goa.design/taskorchestrator/engine"
	"goa.design/taskorchestrator/hitl"
	"goa.design/taskorchestrator/process"
)

// Config is the top-level deployment configuration for one project runner.
type Config struct {
	MaxSteps           int           `yaml:"max_steps"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxConcurrentNodes int           `yaml:"max_concurrent_nodes"`
	MaxPlanningLayer   int           `yaml:"max_planning_layer"`

	Recovery RecoveryConfig `yaml:"recovery"`
	HITL     HITLConfig     `yaml:"hitl"`
}

// RecoveryConfig mirrors engine.RecoveryThresholds for YAML loading.
type RecoveryConfig struct {
	Warning             time.Duration `yaml:"warning"`
	Soft                time.Duration `yaml:"soft"`
	Hard                time.Duration `yaml:"hard"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts"`
}

// HITLConfig mirrors hitl.Config for YAML loading, naming checkpoints by
// their string identifiers.
type HITLConfig struct {
	Checkpoints          []string      `yaml:"checkpoints"`
	RootPlanOnly         bool          `yaml:"root_plan_only"`
	ReviewTimeout        time.Duration `yaml:"review_timeout"`
	AutoApproveOnTimeout bool          `yaml:"auto_approve_on_timeout"`
	Transport            string        `yaml:"transport"`
	GRPCAddress          string        `yaml:"grpc_address"`
}

// Default returns a conservative configuration suitable for local runs and
// tests: no live checkpoints, generous step budget, no timeout.
func Default() Config {
	return Config{
		MaxSteps:           1000,
		Timeout:            0,
		MaxConcurrentNodes: 8,
		MaxPlanningLayer:   6,
		Recovery: RecoveryConfig{
			Warning:             30 * time.Second,
			Soft:                2 * time.Minute,
			Hard:                5 * time.Minute,
			MaxRecoveryAttempts: 3,
		},
		HITL: HITLConfig{
			ReviewTimeout:        30 * time.Second,
			AutoApproveOnTimeout: true,
			Transport:            "noop",
		},
	}
}

// Load reads and parses a YAML configuration file at path on top of
// Default(), so any field the file does not set keeps its default value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// EngineConfig converts to engine.Config.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxSteps: c.MaxSteps,
		Timeout:  c.Timeout,
		Recovery: engine.RecoveryThresholds{
			Warning:             c.Recovery.Warning,
			Soft:                c.Recovery.Soft,
			Hard:                c.Recovery.Hard,
			MaxRecoveryAttempts: c.Recovery.MaxRecoveryAttempts,
		},
	}
}

// ProcessConfig converts to process.Config.
func (c Config) ProcessConfig() process.Config {
	return process.Config{MaxPlanningLayer: c.MaxPlanningLayer}
}

// CycleConfig converts to cycle.Config.
func (c Config) CycleConfig() cycle.Config {
	return cycle.Config{MaxConcurrentNodes: c.MaxConcurrentNodes}
}

// HITLCoordinatorConfig converts to hitl.Config.
func (c Config) HITLCoordinatorConfig() hitl.Config {
	enabled := make(map[hitl.Checkpoint]bool, len(c.HITL.Checkpoints))
	for _, cp := range c.HITL.Checkpoints {
		enabled[hitl.Checkpoint(cp)] = true
	}
	return hitl.Config{
		Enabled:              enabled,
		RootPlanOnly:         c.HITL.RootPlanOnly,
		ReviewTimeout:        c.HITL.ReviewTimeout,
		AutoApproveOnTimeout: c.HITL.AutoApproveOnTimeout,
	}
}
