// Package provider defines the factory for selecting and constructing the
// multimodal generation backend at runtime.
// Supported backends: Groq (default), OpenAI, Google Gemini, Ollama.
package provider

import (
	"fmt"
)

// Backend enumerates the supported generation providers.
type Backend string

const (
	// BackendGroq selects the Groq API via its OpenAI-compatible endpoint.
	BackendGroq Backend = "groq"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
)

// groqBaseURL is Groq's OpenAI-compatible API base. The same wire protocol
// carries chat completions and multimodal content parts.
const groqBaseURL = "https://api.groq.com/openai/v1"

// defaultGroqModel is the multimodal model used when MODEL_NAME is unset.
const defaultGroqModel = "meta-llama/llama-4-scout-17b-16e-instruct"

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which generation provider to use.
	Backend Backend

	// Model is the model name to use (e.g. "meta-llama/llama-4-scout-17b-16e-instruct").
	Model string

	// BaseURL overrides the default API endpoint (required for Ollama).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	// Unused for Ollama.
	APIKey string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Validate checks that the config names a known backend and carries the
// credentials that backend requires. Called at startup so operators get a
// clear error before the first consultation rather than during it.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGroq:
		if c.APIKey == "" {
			return fmt.Errorf("provider: GROQ_API_KEY is required for groq backend")
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
	case BackendOllama:
		// Keyless local backend.
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: groq, openai, gemini, ollama", c.Backend)
	}

	if c.Model == "" {
		return fmt.Errorf("provider: model name must not be empty")
	}
	return nil
}
