package oracle

import (
	"fmt"
	"slices"
)

// DefaultProvider is used when no provider is configured.
const DefaultProvider = ProviderGemini

// Providers lists the supported provider names.
var Providers = []string{ProviderGemini, ProviderOpenAI}

// API key environment variables per provider.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// EnvKey returns the environment variable holding provider's API key,
// or "" for an unknown provider.
func EnvKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return EnvGeminiAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	}
	return ""
}

// IsProvider reports whether name is a supported provider.
func IsProvider(name string) bool {
	return slices.Contains(Providers, name)
}

// New creates the oracle for provider. An empty provider selects
// DefaultProvider.
func New(provider, apiKey string, opts ...Option) (Oracle, error) {
	if provider == "" {
		provider = DefaultProvider
	}
	switch provider {
	case ProviderGemini:
		return NewGeminiOracle(apiKey, opts...)
	case ProviderOpenAI:
		return NewOpenAIOracle(apiKey, opts...)
	}
	return nil, fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnknownProvider, provider, ProviderGemini, ProviderOpenAI)
}
