package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	gttsBaseURL = "https://translate.google.com/translate_tts"
	// gttsMaxSegment is the longest text the endpoint accepts per request.
	gttsMaxSegment = 200
)

// GTTS synthesizes speech via the free Google Translate TTS endpoint.
// Long texts are split into segments and the resulting MP3 frames are
// concatenated, which players handle fine for same-rate streams.
// Safe for concurrent use.
type GTTS struct {
	baseURL string
	lang    string
	client  *http.Client
}

// GTTSConfig holds the settings for constructing a GTTS synthesizer.
type GTTSConfig struct {
	// BaseURL overrides the production endpoint. Used by tests.
	BaseURL string
	// Language is the BCP-47 language tag (default: en).
	Language string
	// Timeout bounds each segment round-trip (default: 30s).
	Timeout time.Duration
}

// NewGTTS constructs a GTTS synthesizer.
func NewGTTS(cfg *GTTSConfig) *GTTS {
	g := &GTTS{
		baseURL: cfg.BaseURL,
		lang:    cfg.Language,
	}
	if g.baseURL == "" {
		g.baseURL = gttsBaseURL
	}
	if g.lang == "" {
		g.lang = "en"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	g.client = &http.Client{Timeout: timeout}
	return g
}

// Name implements Synthesizer.
func (g *GTTS) Name() Provider { return ProviderGTTS }

// Synthesize implements Synthesizer.
func (g *GTTS) Synthesize(ctx context.Context, text, outputPath string) error {
	if err := validateInput(text, outputPath); err != nil {
		return err
	}

	var audio []byte
	for i, segment := range splitSegments(text, gttsMaxSegment) {
		data, err := g.fetchSegment(ctx, segment)
		if err != nil {
			return fmt.Errorf("tts: segment %d: %w", i, err)
		}
		audio = append(audio, data...)
	}
	if len(audio) == 0 {
		return fmt.Errorf("tts: gtts produced no audio")
	}

	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		return fmt.Errorf("tts: write audio file: %w", err)
	}
	return nil
}

func (g *GTTS) fetchSegment(ctx context.Context, segment string) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", g.lang)
	q.Set("q", segment)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("endpoint returned an empty audio body")
	}
	return data, nil
}

// splitSegments breaks text into chunks no longer than max runes,
// preferring to cut at word boundaries.
func splitSegments(text string, max int) []string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var segments []string
	var current strings.Builder
	currentLen := 0
	for _, word := range strings.Fields(text) {
		wordLen := utf8.RuneCountInString(word)
		if currentLen > 0 && currentLen+1+wordLen > max {
			segments = append(segments, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		// A single word longer than max is split mid-word.
		for wordLen > max {
			runes := []rune(word)
			segments = append(segments, string(runes[:max]))
			word = string(runes[max:])
			wordLen = utf8.RuneCountInString(word)
		}
		current.WriteString(word)
		currentLen += wordLen
	}
	if currentLen > 0 {
		segments = append(segments, current.String())
	}
	return segments
}
