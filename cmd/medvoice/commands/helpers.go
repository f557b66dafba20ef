package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/sdhillon/medvoice-go/internal/doctor"
	"github.com/sdhillon/medvoice-go/internal/embedder"
	"github.com/sdhillon/medvoice-go/internal/pipeline"
	"github.com/sdhillon/medvoice-go/internal/provider"
	"github.com/sdhillon/medvoice-go/internal/rag"
	"github.com/sdhillon/medvoice-go/internal/server"
	"github.com/sdhillon/medvoice-go/internal/stt"
	"github.com/sdhillon/medvoice-go/internal/tts"
)

// buildRetriever constructs the retrieval layer from the environment.
// When QDRANT_HOST is unset, retrieval is disabled: consultations run
// without grounding context and the returned retriever is nil.
// The returned store is non-nil only for Qdrant-backed retrieval, so
// callers can register a readiness probe against it.
func buildRetriever(ctx context.Context, log *slog.Logger) (rag.Retriever, *rag.QdrantStore, func(), error) {
	noop := func() {}

	if os.Getenv("QDRANT_HOST") == "" {
		log.Info("retrieval disabled", slog.String("reason", "QDRANT_HOST not set"))
		return nil, nil, noop, nil
	}

	if err := embedder.ValidateForRetrieval(log); err != nil {
		return nil, nil, noop, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, noop, fmt.Errorf("initialise embedder: %w", err)
	}

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "medvoice-refs"),
		VectorSize: uint64(embedder.DefaultDimensions(embedder.ResolveBackend())), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, noop, fmt.Errorf("connect to Qdrant: %w", err)
	}

	retriever, err := rag.NewRetriever(emb, store, getEnvInt("RAG_TOP_K", 3))
	if err != nil {
		store.Close()
		return nil, nil, noop, fmt.Errorf("initialise retriever: %w", err)
	}

	return retriever, store, func() { _ = store.Close() }, nil
}

// buildTranscriber constructs the speech-to-text client. Voice mode needs
// GROQ_API_KEY; without it the transcriber is nil and voice requests fail
// validation with a clear message.
func buildTranscriber(log *slog.Logger) pipeline.Transcriber {
	apiKey := os.Getenv("GROQ_API_KEY")
	if apiKey == "" {
		log.Warn("voice input disabled", slog.String("reason", "GROQ_API_KEY not set"))
		return nil
	}
	client, err := stt.NewClient(&stt.Config{
		APIKey: apiKey,
		Model:  os.Getenv("STT_MODEL"),
	})
	if err != nil {
		log.Warn("voice input disabled", slog.Any("error", err))
		return nil
	}
	return client
}

// buildSpeechChain assembles the synthesis fallback chain: ElevenLabs first
// when a key is configured, the free Google Translate voice always last.
func buildSpeechChain(log *slog.Logger) *tts.Chain {
	var synths []tts.Synthesizer

	if key := os.Getenv("ELEVEN_API_KEY"); key != "" {
		eleven, err := tts.NewElevenLabs(&tts.ElevenLabsConfig{
			APIKey:  key,
			VoiceID: os.Getenv("ELEVEN_VOICE_ID"),
		})
		if err != nil {
			log.Warn("primary synthesizer unavailable", slog.Any("error", err))
		} else {
			synths = append(synths, eleven)
		}
	} else {
		log.Info("primary synthesizer disabled", slog.String("reason", "ELEVEN_API_KEY not set"))
	}

	synths = append(synths, tts.NewGTTS(&tts.GTTSConfig{
		Language: os.Getenv("TTS_LANGUAGE"),
	}))

	chain := tts.NewChain(log, synths...)
	chain.OnFallback(func(provider tts.Provider) {
		log.Warn("speech synthesis fell back", slog.String("provider", string(provider)))
	})
	return chain
}

// buildPipeline wires the full consultation pipeline from the environment.
// The returned cleanup releases the retrieval store.
func buildPipeline(ctx context.Context, log *slog.Logger) (*pipeline.Pipeline, *rag.QdrantStore, func(), error) {
	noop := func() {}

	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("initialise model provider: %w", err)
	}
	providerCfg := provider.ConfigFromEnv()
	docClient, err := doctor.NewClient(chatModel, providerCfg.Model)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("initialise generation client: %w", err)
	}

	retriever, qdrantStore, closeRetriever, err := buildRetriever(ctx, log)
	if err != nil {
		return nil, nil, noop, err
	}

	p, err := pipeline.New(&pipeline.Config{
		Transcriber: buildTranscriber(log),
		Retriever:   retriever,
		Generator:   docClient,
		Speech:      buildSpeechChain(log),
		AudioDir:    os.Getenv("AUDIO_DIR"),
		TopK:        getEnvInt("RAG_TOP_K", 3),
		Logger:      log,
	})
	if err != nil {
		closeRetriever()
		return nil, nil, noop, err
	}

	return p, qdrantStore, closeRetriever, nil
}

// buildPingers assembles the readiness probes for the dependencies that are
// actually configured.
func buildPingers(qdrantStore *rag.QdrantStore) []server.Pinger {
	var pingers []server.Pinger
	if qdrantStore != nil {
		pingers = append(pingers, server.NewQdrantPinger(qdrantStore.Client()))
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		pingers = append(pingers, server.NewHTTPPinger("groq", "https://api.groq.com/openai/v1/models"))
	}
	if os.Getenv("ELEVEN_API_KEY") != "" {
		pingers = append(pingers, server.NewHTTPPinger("elevenlabs", "https://api.elevenlabs.io/v1/models"))
	}
	return pingers
}

// getEnvOrDefault returns the env value for key, or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env value for key parsed as int, or fallback when
// unset or unparsable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
