// Package config loads and validates the runtime configuration: task
// templates, prompt fragments, tool allowlists, and limits.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full configuration document.
type Config struct {
	Session   SessionConfig     `mapstructure:"session" yaml:"session"`
	Tasks     []TaskTemplate    `mapstructure:"tasks" yaml:"tasks"`
	Templates map[string]string `mapstructure:"templates" yaml:"templates"`
	Tools     ToolsConfig       `mapstructure:"tools" yaml:"tools"`
	Limits    LimitsConfig      `mapstructure:"limits" yaml:"limits"`
	Logging   LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// SessionConfig names the session and its agents.
type SessionConfig struct {
	ID     string   `mapstructure:"id" yaml:"id"`
	Agents []string `mapstructure:"agents" yaml:"agents"`
}

// TaskTemplate declares a named task: its input schema, the prompt that
// opens its oracle-driven sub-run, and an optional target branch.
type TaskTemplate struct {
	Name         string      `mapstructure:"name" yaml:"name"`
	Description  string      `mapstructure:"description" yaml:"description"`
	Prompt       string      `mapstructure:"prompt" yaml:"prompt"`
	Inputs       []InputSpec `mapstructure:"inputs" yaml:"inputs"`
	TargetBranch string      `mapstructure:"target_branch" yaml:"target_branch"`
}

// InputSpec declares one task input.
type InputSpec struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Required bool   `mapstructure:"required" yaml:"required"`
}

// ToolsConfig restricts which tools an agent may resolve. An empty
// allowlist permits everything registered.
type ToolsConfig struct {
	Allow []string `mapstructure:"allow" yaml:"allow"`
}

// LimitsConfig bounds template resolution.
type LimitsConfig struct {
	MaxTemplateIterations int `mapstructure:"max_template_iterations" yaml:"max_template_iterations"`
	TemplateCacheSize     int `mapstructure:"template_cache_size" yaml:"template_cache_size"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads the configuration file at path, applying HUGIN_* environment
// overrides, and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HUGIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants that must fail fast.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Tasks))
	for i, task := range c.Tasks {
		if task.Name == "" {
			return fmt.Errorf("task %d: missing name", i)
		}
		if _, dup := seen[task.Name]; dup {
			return fmt.Errorf("duplicate task template %q", task.Name)
		}
		seen[task.Name] = struct{}{}
		if strings.TrimSpace(task.Prompt) == "" {
			return fmt.Errorf("task %q: empty prompt", task.Name)
		}
		inputSeen := make(map[string]struct{}, len(task.Inputs))
		for _, input := range task.Inputs {
			if input.Name == "" {
				return fmt.Errorf("task %q: input with empty name", task.Name)
			}
			if _, dup := inputSeen[input.Name]; dup {
				return fmt.Errorf("task %q: duplicate input %q", task.Name, input.Name)
			}
			inputSeen[input.Name] = struct{}{}
		}
	}
	if c.Limits.MaxTemplateIterations < 0 {
		return fmt.Errorf("limits.max_template_iterations must not be negative")
	}
	return nil
}
