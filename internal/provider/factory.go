package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// ConfigFromEnv resolves provider configuration from environment variables.
// MODEL_PROVIDER selects the backend; each backend uses its own native
// credential env var.
//
// Environment variables:
//
//	MODEL_PROVIDER = groq | openai | gemini | ollama (default: groq)
//	MODEL_NAME     = model identifier (default: meta-llama/llama-4-scout-17b-16e-instruct for groq)
//
//	Groq:   GROQ_API_KEY
//	OpenAI: OPENAI_API_KEY
//	Gemini: GOOGLE_API_KEY
//	Ollama: OLLAMA_HOST (default: http://localhost:11434)
//
//	Shared: MODEL_MAX_TOKENS (default: 1024), MODEL_TEMPERATURE (default: 0.2)
func ConfigFromEnv() *Config {
	backend := Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendGroq)))

	cfg := &Config{
		Backend:     backend,
		Model:       os.Getenv("MODEL_NAME"),
		MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 1024),
		Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.2),
	}

	switch backend {
	case BackendGroq:
		cfg.APIKey = os.Getenv("GROQ_API_KEY")
		if cfg.Model == "" {
			cfg.Model = defaultGroqModel
		}
	case BackendOpenAI:
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
	case BackendGemini:
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
		if cfg.Model == "" {
			cfg.Model = "gemini-1.5-pro"
		}
	case BackendOllama:
		cfg.BaseURL = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		if cfg.Model == "" {
			cfg.Model = "llava"
		}
	}

	return cfg
}

// New constructs a ChatModel from an explicit Config, delegating to the
// appropriate backend factory function. It validates the config first so
// callers get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendGroq:
		return newGroq(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendGemini:
		return newGemini(ctx, cfg)
	case BackendOllama:
		return newOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q — valid values: groq, openai, gemini, ollama", cfg.Backend)
	}
}

// NewFromEnv constructs a ChatModel by reading provider configuration from
// environment variables. See ConfigFromEnv for the variable reference.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, error) {
	return New(ctx, ConfigFromEnv())
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
