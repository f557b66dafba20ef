package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	elevenBaseURL = "https://api.elevenlabs.io"
	// elevenVoiceID is the default clinician voice.
	elevenVoiceID = "SV61h9yhBg4i91KIBwdz"
	// elevenModelID is the low-latency turbo model.
	elevenModelID = "eleven_turbo_v2"
	// elevenOutputFormat keeps files small enough for immediate playback.
	elevenOutputFormat = "mp3_22050_32"
)

// ElevenLabs synthesizes speech via the ElevenLabs REST API.
// Safe for concurrent use.
type ElevenLabs struct {
	baseURL string
	apiKey  string
	voiceID string
	modelID string
	format  string
	client  *http.Client
}

// ElevenLabsConfig holds the settings for constructing an ElevenLabs client.
type ElevenLabsConfig struct {
	// BaseURL overrides the production endpoint. Used by tests.
	BaseURL string
	// APIKey is the ElevenLabs API key.
	APIKey string
	// VoiceID selects the voice (default: the built-in clinician voice).
	VoiceID string
	// ModelID selects the synthesis model (default: eleven_turbo_v2).
	ModelID string
	// OutputFormat selects the audio encoding (default: mp3_22050_32).
	OutputFormat string
	// Timeout bounds each synthesis round-trip (default: 60s).
	Timeout time.Duration
}

// NewElevenLabs constructs an ElevenLabs synthesizer.
func NewElevenLabs(cfg *ElevenLabsConfig) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tts: elevenlabs API key must not be empty")
	}
	e := &ElevenLabs{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		voiceID: cfg.VoiceID,
		modelID: cfg.ModelID,
		format:  cfg.OutputFormat,
	}
	if e.baseURL == "" {
		e.baseURL = elevenBaseURL
	}
	if e.voiceID == "" {
		e.voiceID = elevenVoiceID
	}
	if e.modelID == "" {
		e.modelID = elevenModelID
	}
	if e.format == "" {
		e.format = elevenOutputFormat
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	e.client = &http.Client{Timeout: timeout}
	return e, nil
}

// Name implements Synthesizer.
func (e *ElevenLabs) Name() Provider { return ProviderElevenLabs }

type elevenRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize implements Synthesizer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, outputPath string) error {
	if err := validateInput(text, outputPath); err != nil {
		return err
	}

	body, err := json.Marshal(elevenRequest{Text: text, ModelID: e.modelID})
	if err != nil {
		return fmt.Errorf("tts: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", e.baseURL, e.voiceID, e.format)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tts: elevenlabs returned HTTP %d: %s", resp.StatusCode, string(detail))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return fmt.Errorf("tts: elevenlabs returned an empty audio body")
	}

	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		return fmt.Errorf("tts: write audio file: %w", err)
	}
	return nil
}
