package llm

import (
	"fmt"
	"log/slog"
	"time"
)

// Settings selects and configures a provider for NewClientFromSettings.
type Settings struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	// Timeout bounds each attempt; retries get a fresh budget.
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  *slog.Logger
}

// NewClientFromSettings builds a Client with a single provider, wrapped in
// logging and retry middleware. Anthropic uses the native SDK; every other
// provider goes through gollm.
func NewClientFromSettings(s Settings) (*Client, error) {
	provider := s.Provider
	if provider == "" {
		if info := GetModelInfo(s.Model); info != nil {
			provider = info.Provider
		} else {
			provider = "openai"
		}
	}

	var adapter ProviderAdapter
	switch provider {
	case "anthropic":
		adapter = NewAnthropicAdapter(AnthropicConfig{
			APIKey:    s.APIKey,
			BaseURL:   s.BaseURL,
			Model:     s.Model,
			MaxTokens: s.MaxTokens,
		})
	default:
		a, err := NewGollmAdapter(GollmConfig{
			Provider:    provider,
			APIKey:      s.APIKey,
			Model:       s.Model,
			MaxTokens:   s.MaxTokens,
			Temperature: s.Temperature,
		})
		if err != nil {
			return nil, &ConfigurationError{SDKError: SDKError{
				Message: fmt.Sprintf("configure provider %q", provider),
				Cause:   err,
			}}
		}
		adapter = a
	}

	var mw []Middleware
	if s.Logger != nil {
		mw = append(mw, LoggingMiddleware(s.Logger))
	}
	mw = append(mw, RetryMiddleware(s.Retry), TimeoutMiddleware(s.Timeout))
	return NewClient(WithProvider(adapter), WithMiddleware(mw...)), nil
}
