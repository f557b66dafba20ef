// Package pipeline sequences a consultation request through validation,
// transcription, retrieval, generation, and synthesis. It normalizes the
// voice-vs-text and image-vs-no-image input shapes into one call path and
// packages the three outputs a caller needs: recognized text, answer text,
// and the answer audio path.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sdhillon/medvoice-go/internal/budget"
	"github.com/sdhillon/medvoice-go/internal/prompt"
	"github.com/sdhillon/medvoice-go/internal/rag"
	"github.com/sdhillon/medvoice-go/internal/tts"
)

// Mode selects which input shape a Request carries.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

// stageTimeout bounds each remote call. Expiry is treated like any other
// provider failure.
const stageTimeout = 60 * time.Second

// Request is one consultation. Exactly one of the voice fields
// (AudioPath, or AudioSamples+SampleRate) or Message must be set,
// according to Mode. ImageData is optional in either mode.
type Request struct {
	// Mode selects voice or text input.
	Mode Mode
	// Message is the typed question (text mode).
	Message string
	// AudioPath points at a captured audio file (voice mode).
	AudioPath string
	// AudioSamples holds raw PCM16 samples when the caller captured audio
	// in memory instead of a file (voice mode). Requires SampleRate.
	AudioSamples []int16
	// SampleRate is the sample rate of AudioSamples in Hz.
	SampleRate int
	// ImageData is the optional attached image (JPEG bytes).
	ImageData []byte
}

// Result is the packaged outcome of a consultation.
type Result struct {
	// RecognizedText is the transcript (voice) or the typed message (text).
	RecognizedText string
	// AnswerText is the generated answer.
	AnswerText string
	// AudioPath points at the spoken answer. Empty when synthesis failed;
	// the textual answer is still delivered in that case.
	AudioPath string
	// TTSProvider is the synthesizer that produced the audio, if any.
	TTSProvider tts.Provider
}

// ValidationError reports user-correctable input problems. No stage runs
// when validation fails.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "pipeline: invalid input: " + e.Reason }

// Transcriber converts a captured audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Generator produces the answer text for a composed prompt.
type Generator interface {
	Generate(ctx context.Context, composed prompt.Composed, encodedImage string) (string, error)
}

// SpeechChain renders answer text to an audio file.
type SpeechChain interface {
	Synthesize(ctx context.Context, text, outputPath string) (*tts.Outcome, error)
}

// Pipeline wires the consultation stages together. Immutable after
// construction; safe for concurrent requests.
type Pipeline struct {
	transcriber Transcriber
	retriever   rag.Retriever
	generator   Generator
	speech      SpeechChain
	audioDir    string
	topK        int

	maxContextTokens int
	logger           *slog.Logger
}

// Config holds the collaborators a Pipeline needs.
type Config struct {
	// Transcriber handles voice input. May be nil if only text mode is used.
	Transcriber Transcriber
	// Retriever supplies grounding passages. May be nil; requests then run
	// without retrieved context.
	Retriever rag.Retriever
	// Generator is the answer backend. Required.
	Generator Generator
	// Speech renders answers to audio. May be nil; requests then return
	// text only.
	Speech SpeechChain
	// AudioDir is where answer audio files are written.
	AudioDir string
	// TopK is the number of passages to retrieve (default 3).
	TopK int
	// MaxContextTokens caps the estimated prompt size; retrieved passages
	// beyond the budget are dropped weakest-first.
	MaxContextTokens int
	// Logger receives stage diagnostics.
	Logger *slog.Logger
}

// New constructs a Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: generator must not be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("pipeline: logger must not be nil")
	}
	audioDir := cfg.AudioDir
	if audioDir == "" {
		audioDir = os.TempDir()
	}
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create audio dir: %w", err)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	maxContextTokens := cfg.MaxContextTokens
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Pipeline{
		transcriber: cfg.Transcriber,
		retriever:   cfg.Retriever,
		generator:   cfg.Generator,
		speech:      cfg.Speech,
		audioDir:    audioDir,
		topK:        topK,

		maxContextTokens: maxContextTokens,
		logger:           cfg.Logger,
	}, nil
}

// Handle runs one consultation end to end. Generation failure is fatal for
// the request. Synthesis failure is partial: Handle returns a Result with
// the text fields set, an empty AudioPath, and the synthesis error, so the
// caller can still deliver the written answer.
func (p *Pipeline) Handle(ctx context.Context, req *Request) (*Result, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	recognized, err := p.recognize(ctx, req)
	if err != nil {
		return nil, err
	}

	hasImage := len(req.ImageData) > 0
	passages := p.retrieve(ctx, recognized)
	fixed := prompt.Persona(hasImage) + "\n" + recognized
	passages = budget.TrimPassages(fixed, passages, p.maxContextTokens)
	texts := make([]string, 0, len(passages))
	for _, passage := range passages {
		texts = append(texts, passage.Text)
	}
	composed := prompt.Compose(recognized, texts, hasImage)

	encodedImage := ""
	if hasImage {
		encodedImage = base64.StdEncoding.EncodeToString(req.ImageData)
	}

	genCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	answer, err := p.generator.Generate(genCtx, composed, encodedImage)
	cancel()
	if err != nil {
		return &Result{RecognizedText: recognized}, err
	}

	result := &Result{RecognizedText: recognized, AnswerText: answer}
	if p.speech == nil {
		return result, nil
	}

	outputPath := filepath.Join(p.audioDir, "doctor_"+uuid.NewString()+".mp3")
	synthCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	outcome, err := p.speech.Synthesize(synthCtx, answer, outputPath)
	cancel()
	if err != nil {
		p.logger.ErrorContext(ctx, "speech synthesis failed, delivering text only", "error", err)
		return result, err
	}
	if err := verifyAudio(outcome.AudioPath); err != nil {
		p.logger.ErrorContext(ctx, "synthesized audio unusable, delivering text only",
			"path", outcome.AudioPath, "error", err)
		os.Remove(outcome.AudioPath)
		return result, err
	}

	result.AudioPath = outcome.AudioPath
	result.TTSProvider = outcome.Provider
	return result, nil
}

func (p *Pipeline) validate(req *Request) error {
	switch req.Mode {
	case ModeText:
		if strings.TrimSpace(req.Message) == "" {
			return &ValidationError{Reason: "text mode requires a non-empty message"}
		}
	case ModeVoice:
		if req.AudioPath == "" && len(req.AudioSamples) == 0 {
			return &ValidationError{Reason: "voice mode requires captured audio"}
		}
		if req.AudioPath == "" && req.SampleRate <= 0 {
			return &ValidationError{Reason: "raw audio samples require a positive sample rate"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
	return nil
}

// recognize resolves the request to query text: the transcript in voice
// mode, the typed message otherwise. Raw in-memory samples are persisted
// to a temporary WAV file for the upload and removed afterwards.
func (p *Pipeline) recognize(ctx context.Context, req *Request) (string, error) {
	if req.Mode == ModeText {
		return req.Message, nil
	}
	if p.transcriber == nil {
		return "", fmt.Errorf("pipeline: voice mode is not configured")
	}

	audioPath := req.AudioPath
	if audioPath == "" {
		tmp, err := writeTempWAV(req.AudioSamples, req.SampleRate)
		if err != nil {
			return "", fmt.Errorf("pipeline: persist captured audio: %w", err)
		}
		defer os.Remove(tmp)
		audioPath = tmp
	}

	sttCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()
	return p.transcriber.Transcribe(sttCtx, audioPath)
}

// retrieve fetches grounding passages. Retrieval problems degrade to an
// empty context instead of failing the request.
func (p *Pipeline) retrieve(ctx context.Context, query string) []rag.Passage {
	if p.retriever == nil {
		return nil
	}
	ragCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	passages, err := p.retriever.Retrieve(ragCtx, query, p.topK)
	if err != nil {
		p.logger.WarnContext(ctx, "retrieval failed, proceeding without context", "error", err)
		return nil
	}
	return passages
}

func verifyAudio(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("pipeline: audio file missing: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("pipeline: audio file is empty")
	}
	return nil
}
