// Package server implements the HTTP server that exposes the consultation
// pipeline via a REST API: consultations in, answer text and audio out.
// The server is started by the `medvoice serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdhillon/medvoice-go/internal/logging"
	"github.com/sdhillon/medvoice-go/internal/pipeline"
	"github.com/sdhillon/medvoice-go/internal/store"
)

// maxUploadBytes bounds the multipart consultation body (audio + image).
const maxUploadBytes = 32 << 20

// New constructs a Server from the provided pipeline and config.
func New(p consulter, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout covers the full pipeline run plus the audio download.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = os.TempDir()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	if cfg.APIKey == "" {
		log.Warn("server: API key not set, authentication disabled")
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		consulter: p,
		cfg:       cfg,
		log:       log,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(reg),
		history:   cfg.History,
	}

	rl, stopRL := newRateLimiter(rps, burst, log)
	s.stopRL = stopRL

	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/consult", protected(s.handleConsult))
	mux.Handle("GET /api/audio/{name}", protected(s.handleAudio))
	mux.Handle("GET /api/history", protected(s.handleHistory))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("medvoice server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleConsult handles POST /api/consult. The body is multipart/form-data:
//
//	mode      - "voice" or "text" (inferred from the other fields if absent)
//	message   - the typed question (text mode)
//	audio     - the captured audio file (voice mode)
//	image     - optional attached image
//	sessionId - optional session identifier; generated when absent
func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	req, sessionID, cleanup, err := s.parseConsultRequest(r)
	if err != nil {
		s.observeConsult("invalid", start)
		writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	defer cleanup()

	res, err := s.consulter.Handle(r.Context(), req)
	if err != nil {
		s.writeConsultFailure(r.Context(), w, req, res, sessionID, start, err)
		return
	}

	s.observeConsult("ok", start)
	s.metrics.consultAudioTotal.WithLabelValues(string(res.TTSProvider)).Inc()
	s.recordHistory(r.Context(), req, res, sessionID)

	resp := consultResponse{
		SessionID:      sessionID,
		RecognizedText: res.RecognizedText,
		AnswerText:     res.AnswerText,
		TTSProvider:    string(res.TTSProvider),
	}
	if res.AudioPath != "" {
		resp.AudioURL = "/api/audio/" + filepath.Base(res.AudioPath)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("consult encode error", slog.Any("error", err))
	}
}

// writeConsultFailure maps pipeline errors to HTTP responses. Synthesis
// failures still deliver the answer text; everything else is an error body.
func (s *Server) writeConsultFailure(ctx context.Context, w http.ResponseWriter, req *pipeline.Request, res *pipeline.Result, sessionID string, start time.Time, err error) {
	log := logging.FromContext(ctx)

	var ve *pipeline.ValidationError
	if errors.As(err, &ve) {
		s.observeConsult("invalid", start)
		writeError(w, http.StatusBadRequest, errorResponse{Error: ve.Error()})
		return
	}

	// The answer survived, only the audio is missing.
	if res != nil && res.AnswerText != "" {
		s.observeConsult("no_audio", start)
		log.Error("consultation delivered without audio", slog.Any("error", err))
		s.recordHistory(ctx, req, res, sessionID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(consultResponse{
			SessionID:      sessionID,
			RecognizedText: res.RecognizedText,
			AnswerText:     res.AnswerText,
		})
		return
	}

	s.observeConsult("error", start)
	log.Error("consultation failed", slog.Any("error", err))
	resp := errorResponse{Error: err.Error()}
	if res != nil {
		resp.RecognizedText = res.RecognizedText
	}
	writeError(w, http.StatusBadGateway, resp)
}

// parseConsultRequest turns the multipart form into a pipeline.Request.
// The returned cleanup removes any temporary upload files and must be
// called once the request is finished.
func (s *Server) parseConsultRequest(r *http.Request) (*pipeline.Request, string, func(), error) {
	cleanup := func() {}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", cleanup, fmt.Errorf("invalid multipart body: %w", err)
	}

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	req := &pipeline.Request{
		Mode:    pipeline.Mode(r.FormValue("mode")),
		Message: r.FormValue("message"),
	}

	if file, _, err := r.FormFile("image"); err == nil {
		data, readErr := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		file.Close()
		if readErr != nil {
			return nil, "", cleanup, fmt.Errorf("read image upload: %w", readErr)
		}
		req.ImageData = data
	}

	if file, header, err := r.FormFile("audio"); err == nil {
		defer file.Close()
		tmp, tmpErr := os.CreateTemp("", "medvoice-upload-*"+filepath.Ext(header.Filename))
		if tmpErr != nil {
			return nil, "", cleanup, fmt.Errorf("stage audio upload: %w", tmpErr)
		}
		if _, copyErr := io.Copy(tmp, file); copyErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, "", cleanup, fmt.Errorf("stage audio upload: %w", copyErr)
		}
		tmp.Close()
		cleanup = func() { os.Remove(tmp.Name()) }
		req.AudioPath = tmp.Name()
		if req.Mode == "" {
			req.Mode = pipeline.ModeVoice
		}
	}
	if req.Mode == "" {
		req.Mode = pipeline.ModeText
	}

	return req, sessionID, cleanup, nil
}

// handleAudio handles GET /api/audio/{name}. Only answer files produced by
// the pipeline are served; path traversal is rejected.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != filepath.Base(name) || !strings.HasPrefix(name, "doctor_") || !strings.HasSuffix(name, ".mp3") {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid audio name"})
		return
	}

	path := filepath.Join(s.cfg.AudioDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, errorResponse{Error: "audio not found"})
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}

// handleHistory handles GET /api/history?sessionId=...&limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errorResponse{Error: "history is not enabled"})
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
	}

	cs, err := s.history.Recent(r.Context(), sessionID, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("history read failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errorResponse{Error: "could not read history"})
		return
	}

	resp := historyResponse{SessionID: sessionID, Consultations: []historyEntry{}}
	for _, c := range cs {
		resp.Consultations = append(resp.Consultations, historyEntry{
			Mode:        c.Mode,
			Question:    c.Question,
			Answer:      c.Answer,
			TTSProvider: c.TTSProvider,
			CreatedAt:   c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// recordHistory persists a completed consultation, best effort.
func (s *Server) recordHistory(ctx context.Context, req *pipeline.Request, res *pipeline.Result, sessionID string) {
	if s.history == nil {
		return
	}
	err := s.history.Append(ctx, &store.Consultation{
		SessionID:   sessionID,
		Mode:        string(req.Mode),
		Question:    res.RecognizedText,
		Answer:      res.AnswerText,
		AudioPath:   res.AudioPath,
		TTSProvider: string(res.TTSProvider),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("history append failed", slog.Any("error", err))
	}
}

// observeConsult records the consult counter and duration for one outcome.
func (s *Server) observeConsult(outcome string, start time.Time) {
	s.metrics.consultRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.consultDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
