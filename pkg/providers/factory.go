package providers

import (
	"fmt"
	"strings"

	"github.com/tinyland-inc/craig/pkg/config"
	anthropicprovider "github.com/tinyland-inc/craig/pkg/providers/anthropic"
	openaiprovider "github.com/tinyland-inc/craig/pkg/providers/openai"
)

// CreateProvider builds the provider selected by cfg.AI and returns it with
// the model id to use.
func CreateProvider(cfg *config.Config) (LLMProvider, string, error) {
	ai := cfg.AI
	if ai.APIKey == "" {
		return nil, "", fmt.Errorf("no API key configured for provider %q", ai.Provider)
	}

	var provider LLMProvider
	switch strings.ToLower(ai.Provider) {
	case "", "anthropic":
		provider = anthropicprovider.NewProviderWithBaseURL(ai.APIKey, ai.APIBase)
	case "openai":
		provider = openaiprovider.NewProviderWithBaseURL(ai.APIKey, ai.APIBase)
	default:
		return nil, "", fmt.Errorf("unknown provider %q", ai.Provider)
	}

	model := ai.Model
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return provider, model, nil
}
