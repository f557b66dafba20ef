// Package tts converts answer text into spoken audio. It defines the
// Synthesizer contract plus a primary/fallback chain: a commercial
// high-quality voice first, a free best-effort voice when that fails.
package tts

import (
	"context"
	"fmt"
	"strings"
)

// Provider identifies which synthesizer produced an audio file.
type Provider string

const (
	ProviderElevenLabs Provider = "elevenlabs"
	ProviderGTTS       Provider = "gtts"
)

// Outcome reports a successful synthesis: where the audio landed and
// which provider produced it.
type Outcome struct {
	// AudioPath is the absolute path of the written MP3 file.
	AudioPath string
	// Provider is the synthesizer that produced the audio.
	Provider Provider
}

// Synthesizer turns text into an MP3 file at outputPath.
type Synthesizer interface {
	// Synthesize writes spoken audio for text to outputPath.
	Synthesize(ctx context.Context, text, outputPath string) error
	// Name identifies the provider for logging and outcome reporting.
	Name() Provider
}

// SynthesisError reports that every synthesizer in a chain failed. It
// carries each attempt so the caller can log the full story.
type SynthesisError struct {
	// Attempts maps provider name to the error it returned.
	Attempts map[Provider]error
}

func (e *SynthesisError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for provider, err := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", provider, err))
	}
	return "tts: all synthesizers failed: " + strings.Join(parts, "; ")
}

func validateInput(text, outputPath string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("tts: text must not be empty")
	}
	if outputPath == "" {
		return fmt.Errorf("tts: output path must not be empty")
	}
	return nil
}
