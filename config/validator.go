package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func ValidStalePolicies() []string { return []string{"warn", "ignore", "fail"} }

func ValidStoreDrivers() []string { return []string{"sqlite", "memory"} }

func ValidLogLevels() []string { return []string{"debug", "info", "warn", "error"} }

func ValidLogFormats() []string { return []string{"json", "text"} }

// Validate returns all invalid values in c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if strings.TrimSpace(c.LLM.Model) == "" {
		add("llm.model", c.LLM.Model, "must not be empty")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens", c.LLM.MaxTokens, "must be >= 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", c.LLM.Temperature, "must be between 0 and 2")
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries", c.LLM.MaxRetries, "must be >= 0")
	}
	if c.LLM.Timeout < 0 {
		add("llm.timeout", c.LLM.Timeout, "must be >= 0")
	}

	if c.Research.MaxHypothesisRejections < 1 {
		add("research.max_hypothesis_rejections", c.Research.MaxHypothesisRejections, "must be >= 1")
	}
	if c.Research.MaxCycles < 1 {
		add("research.max_cycles", c.Research.MaxCycles, "must be >= 1")
	}
	if c.Research.ToolRounds < 1 {
		add("research.tool_rounds", c.Research.ToolRounds, "must be >= 1")
	}

	if c.Execution.MaxDiffAttempts < 1 {
		add("execution.max_diff_attempts", c.Execution.MaxDiffAttempts, "must be >= 1")
	}
	if c.Execution.ToolRounds < 0 {
		add("execution.tool_rounds", c.Execution.ToolRounds, "must be >= 0")
	}
	if !slices.Contains(ValidStalePolicies(), c.Execution.StalePolicy) {
		add("execution.stale_policy", c.Execution.StalePolicy, "must be one of "+strings.Join(ValidStalePolicies(), ", "))
	}

	if !slices.Contains(ValidStoreDrivers(), c.Store.Driver) {
		add("store.driver", c.Store.Driver, "must be one of "+strings.Join(ValidStoreDrivers(), ", "))
	}
	if c.Store.Driver == "sqlite" && strings.TrimSpace(c.Store.Path) == "" {
		add("store.path", c.Store.Path, "required for the sqlite driver")
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		add("logging.level", c.Logging.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		add("logging.format", c.Logging.Format, "must be one of "+strings.Join(ValidLogFormats(), ", "))
	}
	return errs
}
