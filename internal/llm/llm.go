// Package llm talks to hosted text-generation models.
//
// The rest of the application only sees Generator. Gemini and OpenAICompat
// are the two production implementations; tests use a fake.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Generator produces text for a system instruction and a user message.
//
// Implementations must honour ctx cancellation: the service layer bounds
// every call with a deadline and reports a timeout when it passes.
type Generator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider names accepted by New.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string

	// Gemini
	GeminiAPIKey string

	// OpenAI-compatible
	BaseURL           string
	APIKey            string
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScopes       []string
}

// New builds the Generator named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return NewGemini(cfg.GeminiAPIKey, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAICompat(ctx, OpenAICompatConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			OAuthTokenURL:     cfg.OAuthTokenURL,
			OAuthClientID:     cfg.OAuthClientID,
			OAuthClientSecret: cfg.OAuthClientSecret,
			OAuthScopes:       cfg.OAuthScopes,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
