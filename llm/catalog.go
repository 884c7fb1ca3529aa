package llm

import "strings"

// ModelInfo describes a known model.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in catalog. The first entry per provider is its
// default.
var Models = []ModelInfo{
	{ID: "gpt-4o", Provider: "openai", ContextWindow: 128000, MaxOutput: 16384, Aliases: []string{"4o"}},
	{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000, MaxOutput: 16384, Aliases: []string{"4o-mini"}},
	{ID: "gpt-5.2", Provider: "openai", ContextWindow: 1047576, MaxOutput: 32768, Aliases: []string{"gpt5"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 16384, Aliases: []string{"sonnet"}},
	{ID: "claude-opus-4-6", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 32768, Aliases: []string{"opus"}},
	{ID: "claude-haiku-4-5", Provider: "anthropic", ContextWindow: 200000, MaxOutput: 8192, Aliases: []string{"haiku"}},
}

// GetModelInfo returns the catalog entry for a model ID or alias, or nil.
// Unknown IDs with a well-known prefix still resolve their provider.
func GetModelInfo(modelID string) *ModelInfo {
	if modelID == "" {
		return nil
	}
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	switch {
	case strings.HasPrefix(modelID, "claude-"):
		return &ModelInfo{ID: modelID, Provider: "anthropic", ContextWindow: 200000, MaxOutput: 8192}
	case strings.HasPrefix(modelID, "gpt-"), strings.HasPrefix(modelID, "o1"), strings.HasPrefix(modelID, "o3"):
		return &ModelInfo{ID: modelID, Provider: "openai", ContextWindow: 128000, MaxOutput: 16384}
	}
	return nil
}

// DefaultModel returns the first catalog model for provider, or "".
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == provider {
			return m.ID
		}
	}
	return ""
}
