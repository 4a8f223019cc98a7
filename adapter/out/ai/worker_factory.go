package ai

import (
	"fmt"
	"strings"

	"mail_worker/core/port/out"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderNone   = "none"
)

// Config selects and configures the text generation provider.
type Config struct {
	Provider string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	OllamaURL   string
	OllamaModel string
}

// NewGenerator returns the configured provider, or nil for "none" (and for an
// empty provider without an OpenAI key), which disables AI features.
func NewGenerator(cfg Config) (out.TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIGenerator(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL}), nil
	case ProviderOllama:
		return NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaModel), nil
	case ProviderNone:
		return nil, nil
	case "":
		if cfg.OpenAIAPIKey != "" {
			return NewOpenAIGenerator(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL}), nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

var (
	_ out.TextGenerator = (*OpenAIGenerator)(nil)
	_ out.TextGenerator = (*OllamaGenerator)(nil)
)
