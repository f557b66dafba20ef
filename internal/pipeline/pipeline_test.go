package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/sdhillon/medvoice-go/internal/budget"
	"github.com/sdhillon/medvoice-go/internal/logging"
	"github.com/sdhillon/medvoice-go/internal/prompt"
	"github.com/sdhillon/medvoice-go/internal/rag"
	"github.com/sdhillon/medvoice-go/internal/tts"
)

type fakeTranscriber struct {
	transcript string
	err        error
	calls      int
	gotPath    string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	f.calls++
	f.gotPath = audioPath
	if f.err != nil {
		return "", f.err
	}
	return f.transcript, nil
}

type fakeRetriever struct {
	passages []rag.Passage
	err      error
	calls    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ int) ([]rag.Passage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type fakeGenerator struct {
	answer      string
	err         error
	calls       int
	gotComposed prompt.Composed
	gotImage    string
}

func (f *fakeGenerator) Generate(_ context.Context, composed prompt.Composed, encodedImage string) (string, error) {
	f.calls++
	f.gotComposed = composed
	f.gotImage = encodedImage
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeSpeech struct {
	err      error
	audio    []byte
	calls    int
	gotText  string
	provider tts.Provider
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, outputPath string) (*tts.Outcome, error) {
	f.calls++
	f.gotText = text
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(outputPath, f.audio, 0o644); err != nil {
		return nil, err
	}
	provider := f.provider
	if provider == "" {
		provider = tts.ProviderElevenLabs
	}
	return &tts.Outcome{AudioPath: outputPath, Provider: provider}, nil
}

type fixture struct {
	transcriber *fakeTranscriber
	retriever   *fakeRetriever
	generator   *fakeGenerator
	speech      *fakeSpeech
	pipeline    *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transcriber: &fakeTranscriber{transcript: "my knee hurts"},
		retriever: &fakeRetriever{passages: []rag.Passage{
			{Text: "Knee pain often follows overuse.", Score: 0.9},
		}},
		generator: &fakeGenerator{answer: "It sounds like a strain. Rest the joint and apply ice."},
		speech:    &fakeSpeech{audio: []byte("mp3")},
	}
	p, err := New(&Config{
		Transcriber: f.transcriber,
		Retriever:   f.retriever,
		Generator:   f.generator,
		Speech:      f.speech,
		AudioDir:    t.TempDir(),
		Logger:      logging.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.pipeline = p
	return f
}

func TestHandle_TextConsultation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.pipeline.Handle(context.Background(), &Request{
		Mode:    ModeText,
		Message: "I have a persistent cough",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.RecognizedText != "I have a persistent cough" {
		t.Errorf("recognized = %q, want input verbatim", res.RecognizedText)
	}
	if res.AnswerText == "" {
		t.Error("answer text is empty")
	}
	info, err := os.Stat(res.AudioPath)
	if err != nil {
		t.Fatalf("audio file: %v", err)
	}
	if info.Size() == 0 {
		t.Error("audio file is empty")
	}
	if !strings.Contains(res.AudioPath, "doctor_") {
		t.Errorf("audio name %q should carry the doctor_ prefix", res.AudioPath)
	}
	if f.transcriber.calls != 0 {
		t.Error("transcriber should not run in text mode")
	}
	if !strings.Contains(f.generator.gotComposed.Instruction, "I have a persistent cough") {
		t.Error("query missing from composed instruction")
	}
	if f.generator.gotComposed.HasImage {
		t.Error("composer selected image persona without an image")
	}
}

func TestHandle_VoiceConsultation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	samples := make([]int16, 16000*3)
	res, err := f.pipeline.Handle(context.Background(), &Request{
		Mode:         ModeVoice,
		AudioSamples: samples,
		SampleRate:   16000,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.RecognizedText != "my knee hurts" {
		t.Errorf("recognized = %q, want transcript", res.RecognizedText)
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("transcriber calls = %d, want 1", f.transcriber.calls)
	}
	if !strings.HasSuffix(f.transcriber.gotPath, ".wav") {
		t.Errorf("transcriber got %q, want a WAV path", f.transcriber.gotPath)
	}
	if _, statErr := os.Stat(f.transcriber.gotPath); !os.IsNotExist(statErr) {
		t.Error("temporary WAV file should be removed after the request")
	}
}

func TestHandle_ImageConsultation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.pipeline.Handle(context.Background(), &Request{
		Mode:      ModeText,
		Message:   "what is on my skin",
		ImageData: []byte{0xff, 0xd8, 0xff},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.AnswerText == "" {
		t.Error("answer text is empty")
	}
	if !f.generator.gotComposed.HasImage {
		t.Error("composer should select the image persona")
	}
	if f.generator.gotImage == "" {
		t.Error("generator should receive the encoded image")
	}
}

func TestHandle_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *Request
	}{
		{name: "voice mode without audio", req: &Request{Mode: ModeVoice}},
		{name: "text mode with blank message", req: &Request{Mode: ModeText, Message: "  "}},
		{name: "raw samples without a rate", req: &Request{Mode: ModeVoice, AudioSamples: []int16{1}}},
		{name: "unknown mode", req: &Request{Mode: "telepathy", Message: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			_, err := f.pipeline.Handle(context.Background(), tt.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want *ValidationError, got %T: %v", err, err)
			}
			if f.transcriber.calls+f.retriever.calls+f.generator.calls+f.speech.calls != 0 {
				t.Error("no stage should run when validation fails")
			}
		})
	}
}

func TestHandle_RetrievalFailureDegrades(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.retriever.err = fmt.Errorf("index unreachable")

	res, err := f.pipeline.Handle(context.Background(), &Request{
		Mode:    ModeText,
		Message: "I feel dizzy",
	})
	if err != nil {
		t.Fatalf("Handle should succeed without context: %v", err)
	}
	if res.AnswerText == "" {
		t.Error("answer text is empty")
	}
	if f.generator.calls != 1 {
		t.Error("generation should still run")
	}
}

func TestHandle_GenerationFailureIsFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.generator.err = fmt.Errorf("endpoint down")

	res, err := f.pipeline.Handle(context.Background(), &Request{
		Mode:    ModeText,
		Message: "I feel dizzy",
	})
	if err == nil {
		t.Fatal("want error when generation fails")
	}
	if res == nil || res.RecognizedText != "I feel dizzy" {
		t.Error("recognized text should survive a generation failure")
	}
	if f.speech.calls != 0 {
		t.Error("synthesis should not run after a generation failure")
	}
}

func TestHandle_SynthesisFailureKeepsText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speech.err = fmt.Errorf("all synthesizers failed")

	res, err := f.pipeline.Handle(context.Background(), &Request{
		Mode:    ModeText,
		Message: "I feel dizzy",
	})
	if err == nil {
		t.Fatal("want error when synthesis fails")
	}
	if res == nil {
		t.Fatal("partial result should still be returned")
	}
	if res.AnswerText == "" {
		t.Error("answer text must be delivered despite the synthesis failure")
	}
	if res.AudioPath != "" {
		t.Errorf("audio path = %q, want empty", res.AudioPath)
	}
}

func TestHandle_ZeroByteAudioIsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speech.audio = nil

	res, err := f.pipeline.Handle(context.Background(), &Request{
		Mode:    ModeText,
		Message: "I feel dizzy",
	})
	if err == nil {
		t.Fatal("want error for a zero-byte audio file")
	}
	if res == nil || res.AnswerText == "" {
		t.Error("answer text must be delivered despite the unusable audio")
	}
	if res.AudioPath != "" {
		t.Errorf("audio path = %q, want empty", res.AudioPath)
	}
}

func TestWriteTempWAV(t *testing.T) {
	t.Parallel()

	path, err := writeTempWAV([]int16{0, 100, -100, 32767, -32768}, 16000)
	if err != nil {
		t.Fatalf("writeTempWAV: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read WAV: %v", err)
	}
	if len(data) != 44+5*2 {
		t.Errorf("WAV size = %d, want header plus samples", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
}

// The persona counts against the context budget: a budget with room for one
// passage beyond the persona and query must drop the weaker passage, even
// though the query alone would leave room for both.
func TestHandle_ContextBudgetCountsPersona(t *testing.T) {
	t.Parallel()

	strong := rag.Passage{Text: strings.Repeat("a", 40), Score: 0.9}
	weak := rag.Passage{Text: strings.Repeat("b", 40), Score: 0.5}
	query := "I have a persistent cough"

	fixed := budget.Estimate(prompt.Persona(false) + "\n" + query)
	maxTokens := fixed + budget.EstimatePassages([]rag.Passage{strong})

	if budget.Estimate(query)+budget.EstimatePassages([]rag.Passage{strong, weak}) > maxTokens {
		t.Fatal("setup: both passages must fit when only the query is counted")
	}

	gen := &fakeGenerator{answer: "Rest and hydrate."}
	p, err := New(&Config{
		Retriever:        &fakeRetriever{passages: []rag.Passage{strong, weak}},
		Generator:        gen,
		Speech:           &fakeSpeech{audio: []byte("mp3")},
		AudioDir:         t.TempDir(),
		MaxContextTokens: maxTokens,
		Logger:           logging.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Handle(context.Background(), &Request{Mode: ModeText, Message: query}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !strings.Contains(gen.gotComposed.Instruction, strong.Text) {
		t.Error("strongest passage missing from instruction")
	}
	if strings.Contains(gen.gotComposed.Instruction, weak.Text) {
		t.Error("weakest passage should have been trimmed")
	}
}
