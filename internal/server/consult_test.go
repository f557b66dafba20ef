package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sdhillon/medvoice-go/internal/logging"
	"github.com/sdhillon/medvoice-go/internal/pipeline"
	"github.com/sdhillon/medvoice-go/internal/store"
	"github.com/sdhillon/medvoice-go/internal/tts"
)

// fakeConsulter implements the consulter interface for tests.
type fakeConsulter struct {
	// result is returned on each Handle call when err is nil.
	result *pipeline.Result
	// err is returned as the error value.
	err error
	// got records the last request seen.
	got *pipeline.Request
}

func (f *fakeConsulter) Handle(_ context.Context, req *pipeline.Request) (*pipeline.Result, error) {
	f.got = req
	return f.result, f.err
}

// newTestServer builds a started-free *Server wired with the given fake.
func newTestServer(t *testing.T, c consulter, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = t.TempDir()
	}
	s, err := New(c, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

// multipartBody builds a multipart form with the given string fields and
// file fields (field name → file content).
func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for k, v := range files {
		part, err := mw.CreateFormFile(k, k+".bin")
		if err != nil {
			t.Fatalf("create file %s: %v", k, err)
		}
		if _, err := part.Write(v); err != nil {
			t.Fatalf("write file %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postConsult(t *testing.T, s *Server, fields map[string]string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/api/consult", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.handleConsult(w, req)
	return w
}

func TestHandleConsult_TextSuccess(t *testing.T) {
	t.Parallel()

	fake := &fakeConsulter{result: &pipeline.Result{
		RecognizedText: "I have a persistent cough",
		AnswerText:     "It sounds like a mild infection. Rest and drink fluids.",
		AudioPath:      "/audio/doctor_abc.mp3",
		TTSProvider:    tts.ProviderElevenLabs,
	}}
	s := newTestServer(t, fake, nil)

	w := postConsult(t, s, map[string]string{
		"mode":    "text",
		"message": "I have a persistent cough",
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp consultResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RecognizedText != "I have a persistent cough" {
		t.Errorf("recognizedText = %q", resp.RecognizedText)
	}
	if resp.AudioURL != "/api/audio/doctor_abc.mp3" {
		t.Errorf("audioUrl = %q", resp.AudioURL)
	}
	if resp.TTSProvider != "elevenlabs" {
		t.Errorf("ttsProvider = %q", resp.TTSProvider)
	}
	if resp.SessionID == "" {
		t.Error("sessionId should be generated when absent")
	}
	if fake.got.Mode != pipeline.ModeText || fake.got.Message != "I have a persistent cough" {
		t.Errorf("pipeline got %+v", fake.got)
	}
}

func TestHandleConsult_VoiceUpload(t *testing.T) {
	t.Parallel()

	fake := &fakeConsulter{result: &pipeline.Result{
		RecognizedText: "my knee hurts",
		AnswerText:     "That could be a strain. Rest the joint.",
	}}
	s := newTestServer(t, fake, nil)

	w := postConsult(t, s, nil, map[string][]byte{
		"audio": []byte("RIFF....WAVE"),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fake.got.Mode != pipeline.ModeVoice {
		t.Errorf("mode = %q, want voice inferred from the audio upload", fake.got.Mode)
	}
	if fake.got.AudioPath == "" {
		t.Fatal("pipeline should receive a staged audio path")
	}
	if _, err := os.Stat(fake.got.AudioPath); !os.IsNotExist(err) {
		t.Error("staged upload should be removed after the request")
	}
}

func TestHandleConsult_ImageForwarded(t *testing.T) {
	t.Parallel()

	fake := &fakeConsulter{result: &pipeline.Result{RecognizedText: "q", AnswerText: "a"}}
	s := newTestServer(t, fake, nil)

	image := []byte{0xff, 0xd8, 0xff, 0xe0}
	w := postConsult(t, s, map[string]string{"message": "what is this rash"}, map[string][]byte{
		"image": image,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(fake.got.ImageData, image) {
		t.Error("image bytes were not forwarded to the pipeline")
	}
}

func TestHandleConsult_ValidationError(t *testing.T) {
	t.Parallel()

	fake := &fakeConsulter{err: &pipeline.ValidationError{Reason: "text mode requires a non-empty message"}}
	s := newTestServer(t, fake, nil)

	w := postConsult(t, s, map[string]string{"mode": "text"}, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleConsult_GenerationFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeConsulter{
		result: &pipeline.Result{RecognizedText: "I feel dizzy"},
		err:    fmt.Errorf("generation with llama failed: endpoint down"),
	}
	s := newTestServer(t, fake, nil)

	w := postConsult(t, s, map[string]string{"message": "I feel dizzy"}, nil)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RecognizedText != "I feel dizzy" {
		t.Errorf("recognizedText = %q, want transcript preserved", resp.RecognizedText)
	}
}

// TestHandleConsult_SynthesisFailure verifies the degraded path: the answer
// text is still delivered with 200 when only the audio could not be produced.
func TestHandleConsult_SynthesisFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeConsulter{
		result: &pipeline.Result{
			RecognizedText: "I feel dizzy",
			AnswerText:     "Sit down and drink water.",
		},
		err: fmt.Errorf("all synthesizers failed"),
	}
	s := newTestServer(t, fake, nil)

	w := postConsult(t, s, map[string]string{"message": "I feel dizzy"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp consultResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AnswerText != "Sit down and drink water." {
		t.Errorf("answerText = %q", resp.AnswerText)
	}
	if resp.AudioURL != "" {
		t.Errorf("audioUrl = %q, want empty on synthesis failure", resp.AudioURL)
	}
}

func TestHandleConsult_HistoryRecorded(t *testing.T) {
	t.Parallel()

	history, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	fake := &fakeConsulter{result: &pipeline.Result{
		RecognizedText: "q", AnswerText: "a", TTSProvider: tts.ProviderGTTS,
	}}
	s := newTestServer(t, fake, &Config{History: history})

	w := postConsult(t, s, map[string]string{"message": "q", "sessionId": "s-1"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	cs, err := history.Recent(context.Background(), "s-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(cs) != 1 || cs[0].Answer != "a" || cs[0].TTSProvider != "gtts" {
		t.Errorf("history = %+v", cs)
	}
}

func TestHandleAudio(t *testing.T) {
	t.Parallel()

	audioDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(audioDir, "doctor_x.mp3"), []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	s := newTestServer(t, &fakeConsulter{}, &Config{AudioDir: audioDir})

	serve := func(name string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/audio/"+name, nil)
		req.SetPathValue("name", name)
		w := httptest.NewRecorder()
		s.handleAudio(w, req)
		return w
	}

	w := serve("doctor_x.mp3")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q", got)
	}
	data, _ := io.ReadAll(w.Body)
	if string(data) != "mp3" {
		t.Errorf("body = %q", data)
	}

	for name, wantCode := range map[string]int{
		"doctor_missing.mp3": http.StatusNotFound,
		"../../etc/passwd":   http.StatusBadRequest,
		"upload.mp3":         http.StatusBadRequest,
		"doctor_x.wav":       http.StatusBadRequest,
	} {
		if w := serve(name); w.Code != wantCode {
			t.Errorf("serve(%q) = %d, want %d", name, w.Code, wantCode)
		}
	}
}

func TestHandleHistory(t *testing.T) {
	t.Parallel()

	history, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })
	if err := history.Append(context.Background(), &store.Consultation{
		SessionID: "s-2", Mode: "text", Question: "q", Answer: "a",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s := newTestServer(t, &fakeConsulter{}, &Config{History: history})

	req := httptest.NewRequest(http.MethodGet, "/api/history?sessionId=s-2", nil)
	w := httptest.NewRecorder()
	s.handleHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp historyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Consultations) != 1 || resp.Consultations[0].Question != "q" {
		t.Errorf("response = %+v", resp)
	}

	// Missing sessionId is a client error.
	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w = httptest.NewRecorder()
	s.handleHistory(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without sessionId, got %d", w.Code)
	}
}

func TestHandleHistory_Disabled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeConsulter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history?sessionId=x", nil)
	w := httptest.NewRecorder()
	s.handleHistory(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when history is disabled, got %d", w.Code)
	}
}

func TestHandleConsult_MetricsOutcomes(t *testing.T) {
	t.Parallel()

	fake := &fakeConsulter{result: &pipeline.Result{RecognizedText: "q", AnswerText: "a"}}
	s := newTestServer(t, fake, nil)

	postConsult(t, s, map[string]string{"message": "q"}, nil)
	if got := testutil.ToFloat64(s.metrics.consultRequestsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok outcome count = %v, want 1", got)
	}

	fake.err = &pipeline.ValidationError{Reason: "bad"}
	fake.result = nil
	postConsult(t, s, map[string]string{"message": "q"}, nil)
	if got := testutil.ToFloat64(s.metrics.consultRequestsTotal.WithLabelValues("invalid")); got != 1 {
		t.Errorf("invalid outcome count = %v, want 1", got)
	}
}
