// Package ai assembles the agent stack from the instance profile.
package ai

import (
	"github.com/pkg/errors"

	"github.com/repnote/repnote/ai/core/llm"
	"github.com/repnote/repnote/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	LLM     llm.Config
	Enabled bool
}

// NewConfigFromProfile creates AI config from the instance profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: true,
		LLM: llm.Config{
			Provider:        p.LLMProvider,
			Model:           p.LLMModel,
			APIKey:          p.LLMAPIKey,
			BaseURL:         p.LLMBaseURL,
			MaxTokens:       2048,
			Temperature:     0.7,
			Timeout:         p.LLMTimeout,
			SpeechModel:     p.SpeechModel,
			TranscribeModel: p.TranscribeModel,
		},
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}
	if c.LLM.Model == "" {
		return errors.New("LLM model is required")
	}
	return nil
}
