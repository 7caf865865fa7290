// Package factory builds an llm.Client from configuration.
package factory

import (
	"fmt"

	"github.com/groupmind/groupmind/pkg/llm"
	"github.com/groupmind/groupmind/pkg/llm/providers/google"
	"github.com/groupmind/groupmind/pkg/llm/providers/openai"
)

// NewClient builds the llm.Client for the given provider config.
func NewClient(cfg llm.Config) (*llm.Client, error) {
	switch cfg.Type {
	case llm.ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("factory: openai provider requires an api key")
		}
		return llm.NewClient(openai.New(cfg)), nil
	case llm.ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("factory: google provider requires an api key")
		}
		p, err := google.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("factory: google provider: %w", err)
		}
		return llm.NewClient(p), nil
	default:
		return nil, fmt.Errorf("factory: unknown provider type %q", cfg.Type)
	}
}
