package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sdhillon/medvoice-go/internal/pipeline"
	"github.com/sdhillon/medvoice-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AudioDir is the directory answer audio files are served from.
	AudioDir string
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// History persists completed consultations. May be nil; consultations
	// are then not recorded.
	History store.HistoryStore
}

// consulter is the interface handleConsult calls to run one consultation.
// *pipeline.Pipeline satisfies it; tests inject a fake.
type consulter interface {
	Handle(ctx context.Context, req *pipeline.Request) (*pipeline.Result, error)
}

// Server is the HTTP server that exposes the consultation pipeline.
type Server struct {
	// consulter runs consultations; the pipeline in production, a fake in tests.
	consulter consulter
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus metrics owned by this instance.
	metrics *serverMetrics
	// history persists completed consultations, nil when disabled.
	history store.HistoryStore
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// consultResponse is the JSON response for POST /api/consult.
type consultResponse struct {
	// SessionID is the session the consultation was recorded under.
	SessionID string `json:"sessionId"`
	// RecognizedText is the transcript (voice) or the typed message (text).
	RecognizedText string `json:"recognizedText"`
	// AnswerText is the generated answer.
	AnswerText string `json:"answerText"`
	// AudioURL is where the spoken answer can be fetched. Empty when
	// synthesis failed; the answer text is still present in that case.
	AudioURL string `json:"audioUrl,omitempty"`
	// TTSProvider is the synthesizer that produced the audio, if any.
	TTSProvider string `json:"ttsProvider,omitempty"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	// SessionID is the session that was queried.
	SessionID string `json:"sessionId"`
	// Consultations are the most recent exchanges, oldest-first.
	Consultations []historyEntry `json:"consultations"`
}

// historyEntry is one past consultation in a history response.
type historyEntry struct {
	Mode        string `json:"mode"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	TTSProvider string `json:"ttsProvider,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// errorResponse is the JSON body for all non-2xx API responses.
type errorResponse struct {
	// Error is a human-readable failure description.
	Error string `json:"error"`
	// RecognizedText carries the transcript when a later stage failed,
	// so the caller can still show what was understood.
	RecognizedText string `json:"recognizedText,omitempty"`
	// AnswerText carries the answer when only synthesis failed.
	AnswerText string `json:"answerText,omitempty"`
}
