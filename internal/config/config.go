// Package config provides YAML-based configuration for medvoice.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments that inject
// secrets through the environment are unaffected by a stale config file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. MEDVOICE_CONFIG environment variable
//  3. ~/.medvoice/config.yaml
//  4. ./medvoice.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the generation backend.
	Model ModelConfig `yaml:"model"`

	// Transcription configures the speech-to-text backend.
	Transcription TranscriptionConfig `yaml:"transcription"`

	// Speech configures the text-to-speech provider chain.
	Speech SpeechConfig `yaml:"speech"`

	// Embedding configures the embedding provider for retrieval.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures consultation history persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds generation model settings.
type ModelConfig struct {
	// Provider selects the backend: groq, openai, gemini, ollama.
	Provider string `yaml:"provider"`

	// Name is the model identifier sent to the backend.
	Name string `yaml:"name"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// GroqAPIKey authenticates against the Groq API. Prefer env var GROQ_API_KEY.
	GroqAPIKey string `yaml:"groq_api_key"`

	// OpenAIAPIKey authenticates against the OpenAI API. Prefer env var OPENAI_API_KEY.
	OpenAIAPIKey string `yaml:"openai_api_key"`

	// GoogleAPIKey authenticates against Gemini. Prefer env var GOOGLE_API_KEY.
	GoogleAPIKey string `yaml:"google_api_key"`

	// OllamaHost is the local Ollama endpoint for the ollama backend.
	OllamaHost string `yaml:"ollama_host"`
}

// TranscriptionConfig holds speech-to-text settings.
type TranscriptionConfig struct {
	// Model is the transcription model name (default: whisper-large-v3).
	Model string `yaml:"model"`
}

// SpeechConfig holds text-to-speech settings for the provider chain.
type SpeechConfig struct {
	// ElevenAPIKey authenticates against ElevenLabs. Prefer env var ELEVEN_API_KEY.
	ElevenAPIKey string `yaml:"eleven_api_key"`

	// Voice is the ElevenLabs voice identity used for every answer.
	Voice string `yaml:"voice"`

	// OutputFormat is the ElevenLabs audio encoding profile (e.g. mp3_22050_32).
	OutputFormat string `yaml:"output_format"`

	// Model is the ElevenLabs synthesis model identifier.
	Model string `yaml:"model"`

	// Language is the fallback synthesizer language code (default: en).
	Language string `yaml:"language"`

	// AudioDir is the directory answer audio files are written to.
	// Defaults to the OS temp directory.
	AudioDir string `yaml:"audio_dir"`
}

// EmbeddingConfig holds embedding provider settings for retrieval.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// TopK is the number of passages retrieved per query.
	TopK int `yaml:"top_k"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var MEDVOICE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds consultation history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_NAME", func(c *Config) string { return c.Model.Name }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"GROQ_API_KEY", func(c *Config) string { return c.Model.GroqAPIKey }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAIAPIKey }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.GoogleAPIKey }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.OllamaHost }},
	{"STT_MODEL", func(c *Config) string { return c.Transcription.Model }},
	{"ELEVEN_API_KEY", func(c *Config) string { return c.Speech.ElevenAPIKey }},
	{"ELEVEN_VOICE", func(c *Config) string { return c.Speech.Voice }},
	{"ELEVEN_OUTPUT_FORMAT", func(c *Config) string { return c.Speech.OutputFormat }},
	{"ELEVEN_MODEL", func(c *Config) string { return c.Speech.Model }},
	{"TTS_LANGUAGE", func(c *Config) string { return c.Speech.Language }},
	{"AUDIO_DIR", func(c *Config) string { return c.Speech.AudioDir }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"RAG_TOP_K", func(c *Config) string { return intStr(c.Embedding.TopK) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"HOST", func(c *Config) string { return c.Server.Host }},
	{"PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"MEDVOICE_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"MEDVOICE_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("MEDVOICE_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".medvoice", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("medvoice.yaml"); err == nil {
		return "medvoice.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
