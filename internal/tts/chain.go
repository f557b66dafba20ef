package tts

import (
	"context"
	"log/slog"
	"os"
)

// Chain runs synthesizers in order until one succeeds. The first entry
// is the primary voice, the rest are fallbacks. Output written by a
// failed attempt is removed before the next attempt runs.
type Chain struct {
	synths []Synthesizer
	logger *slog.Logger
	// onFallback, when set, is called with the provider that succeeded
	// after at least one earlier provider failed. Hook for metrics.
	onFallback func(provider Provider)
}

// NewChain constructs a Chain over the given synthesizers.
func NewChain(logger *slog.Logger, synths ...Synthesizer) *Chain {
	return &Chain{synths: synths, logger: logger}
}

// OnFallback registers a callback invoked when a fallback provider
// produces the audio.
func (c *Chain) OnFallback(fn func(provider Provider)) {
	c.onFallback = fn
}

// Synthesize tries each synthesizer in order and returns the outcome of
// the first success. When all fail it returns a *SynthesisError carrying
// every attempt.
func (c *Chain) Synthesize(ctx context.Context, text, outputPath string) (*Outcome, error) {
	if err := validateInput(text, outputPath); err != nil {
		return nil, err
	}

	attempts := make(map[Provider]error, len(c.synths))
	for i, synth := range c.synths {
		err := synth.Synthesize(ctx, text, outputPath)
		if err == nil {
			if i > 0 && c.onFallback != nil {
				c.onFallback(synth.Name())
			}
			return &Outcome{AudioPath: outputPath, Provider: synth.Name()}, nil
		}
		attempts[synth.Name()] = err
		// Partial output from a failed attempt must not mask the next one.
		os.Remove(outputPath)
		c.logger.ErrorContext(ctx, "synthesizer failed, trying next",
			"provider", synth.Name(),
			"remaining", len(c.synths)-i-1,
			"error", err)
	}

	return nil, &SynthesisError{Attempts: attempts}
}
