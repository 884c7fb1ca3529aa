// Package config loads planwright settings from defaults, a YAML config
// file, and PLANWRIGHT_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PLANWRIGHT_LLM_MODEL
// for llm.model.
const EnvPrefix = "PLANWRIGHT"

// Config is the complete configuration.
type Config struct {
	// Environment names the deployment, e.g. "development" or "production".
	Environment string          `mapstructure:"environment"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Research    ResearchConfig  `mapstructure:"research"`
	Execution   ExecutionConfig `mapstructure:"execution"`
	Store       StoreConfig     `mapstructure:"store"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// LLMConfig selects and tunes the reasoning capability.
type LLMConfig struct {
	// Provider is "openai", "anthropic", or any provider gollm supports.
	// Empty means infer from Model.
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ResearchConfig bounds the research loop.
type ResearchConfig struct {
	// MaxHypothesisRejections is the number of consecutive rejected
	// hypotheses that forces plan extraction.
	MaxHypothesisRejections int `mapstructure:"max_hypothesis_rejections"`
	// MaxCycles caps total hypothesis cycles regardless of verdicts.
	MaxCycles int `mapstructure:"max_cycles"`
	// ToolRounds caps reasoning calls per RESEARCH step.
	ToolRounds int `mapstructure:"tool_rounds"`
}

// ExecutionConfig bounds the execution loop.
type ExecutionConfig struct {
	// MaxDiffAttempts counts the first attempt, so 2 means one retry.
	MaxDiffAttempts int `mapstructure:"max_diff_attempts"`
	// ToolRounds caps exploration during GATHER_CONTEXT; 0 disables it.
	ToolRounds int `mapstructure:"tool_rounds"`
	// StalePolicy is one of "warn", "ignore", "fail".
	StalePolicy string `mapstructure:"stale_policy"`
}

// StoreConfig selects where run state is checkpointed.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Dir, when set, sends logs to a file in that directory instead of stderr.
	Dir string `mapstructure:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		LLM: LLMConfig{
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0,
			MaxRetries:  2,
			Timeout:     50 * time.Second,
		},
		Research: ResearchConfig{
			MaxHypothesisRejections: 3,
			MaxCycles:               8,
			ToolRounds:              12,
		},
		Execution: ExecutionConfig{
			MaxDiffAttempts: 2,
			ToolRounds:      0,
			StalePolicy:     "warn",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(".planwright", "runs.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers default values with v. Every key must have a
// default for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("environment", d.Environment)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)
	v.SetDefault("llm.timeout", d.LLM.Timeout)

	v.SetDefault("research.max_hypothesis_rejections", d.Research.MaxHypothesisRejections)
	v.SetDefault("research.max_cycles", d.Research.MaxCycles)
	v.SetDefault("research.tool_rounds", d.Research.ToolRounds)

	v.SetDefault("execution.max_diff_attempts", d.Execution.MaxDiffAttempts)
	v.SetDefault("execution.tool_rounds", d.Execution.ToolRounds)
	v.SetDefault("execution.stale_policy", d.Execution.StalePolicy)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.dir", d.Logging.Dir)
}

// NewViper returns a viper instance with defaults, environment binding and,
// when found, the config file applied. An explicit configFile must exist;
// otherwise the search path is the user config dir, then the working
// directory.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".planwright")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the user's planwright config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planwright")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planwright"
	}
	return filepath.Join(home, ".config", "planwright")
}
