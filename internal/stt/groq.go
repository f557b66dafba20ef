// Package stt implements the speech-to-text client that converts captured
// patient audio into query text. It talks to the Groq transcription endpoint
// (Whisper) via a plain multipart HTTP upload.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// defaultBaseURL is Groq's OpenAI-compatible API base.
const defaultBaseURL = "https://api.groq.com/openai/v1"

// defaultModel is the transcription model used when none is configured.
const defaultModel = "whisper-large-v3"

// TranscriptionError reports a failed transcription attempt. Fatal for
// voice-mode consultations — there is no text fallback for a failed
// transcription, the caller must ask the user to retry.
type TranscriptionError struct {
	// Model is the transcription model the request targeted.
	Model string
	// Err is the underlying cause.
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("stt: transcription with %s failed: %v", e.Model, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Client uploads audio files to the transcription endpoint.
// Safe for concurrent use.
type Client struct {
	// baseURL is the API base (default: Groq's OpenAI-compatible endpoint).
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the transcription model name.
	model string
	// client is the shared HTTP client with a bounded timeout.
	client *http.Client
}

// Config holds the settings for constructing a transcription Client.
type Config struct {
	// BaseURL overrides the default Groq endpoint. Used by tests.
	BaseURL string
	// APIKey is the Groq API key.
	APIKey string
	// Model is the transcription model (default: whisper-large-v3).
	Model string
	// Timeout bounds each transcription round-trip (default: 60s).
	Timeout time.Duration
}

// NewClient constructs a transcription Client from the given config.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("stt: API key must not be empty")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// transcriptionResponse is the JSON body returned by the endpoint.
type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Transcribe uploads the audio file at audioPath and returns the transcript.
// The file must exist and be non-empty — callers holding raw samples must
// persist them to a valid container format first.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("audio file %s: %w", audioPath, err)}
	}
	if info.Size() == 0 {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("audio file %s is empty", audioPath)}
	}

	audio, err := os.Open(audioPath)
	if err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("open audio file: %w", err)}
	}
	defer audio.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("create form file: %w", err)}
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("copy audio into form: %w", err)}
	}
	if err := mw.WriteField("model", c.model); err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("write model field: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("finalize form: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	var result transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil && result.Error.Message != "" {
			msg = result.Error.Message
		}
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("%s", msg)}
	}

	if result.Text == "" {
		return "", &TranscriptionError{Model: c.model, Err: fmt.Errorf("endpoint returned an empty transcript")}
	}

	return result.Text, nil
}
