// Package main implements the concierge API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/LumenStay/concierge-mvp/engine/catalog"
	"github.com/LumenStay/concierge-mvp/engine/chat"
	"github.com/LumenStay/concierge-mvp/engine/rag"
	"github.com/LumenStay/concierge-mvp/engine/semantic"
	enginesync "github.com/LumenStay/concierge-mvp/engine/sync"
	"github.com/LumenStay/concierge-mvp/pkg/fn"
	"github.com/LumenStay/concierge-mvp/pkg/metrics"
	"github.com/LumenStay/concierge-mvp/pkg/mid"
	"github.com/LumenStay/concierge-mvp/pkg/natsutil"
	"github.com/LumenStay/concierge-mvp/pkg/openai"
	"github.com/LumenStay/concierge-mvp/pkg/resilience"
)

// embedDims matches text-embedding-3-small.
const embedDims = 1536

// maxAudioBytes caps uploaded voice clips at 10 MiB.
const maxAudioBytes = 10 << 20

var met = metrics.New()

var (
	mChatRequests  = met.Counter("concierge_chat_requests_total", "Chat messages handled")
	mAudioRequests = met.Counter("concierge_audio_requests_total", "Audio messages handled")
	mSyncTriggers  = met.Counter("concierge_sync_triggers_total", "Manual sync triggers")
	mChatDuration  = met.Histogram("concierge_chat_duration_seconds", "End-to-end chat handling time", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	OpenAIBaseURL  string
	OpenAIKey      string
	QdrantURL      string
	Collection     string
	CatalogBaseURL string
	CatalogToken   string
	CatalogBase    string
	CatalogTable   string
	NATSURL        string
	CORSOrigins    []string
	TopK           int
	FeaturedLimit  int
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		OpenAIBaseURL:  envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		Collection:     envOr("QDRANT_COLLECTION", "experiences"),
		CatalogBaseURL: envOr("AIRTABLE_BASE_URL", "https://api.airtable.com/v0"),
		CatalogToken:   os.Getenv("AIRTABLE_TOKEN"),
		CatalogBase:    os.Getenv("AIRTABLE_BASE_ID"),
		CatalogTable:   envOr("AIRTABLE_TABLE", "Experiences"),
		NATSURL:        envOr("NATS_URL", nats.DefaultURL),
		CORSOrigins:    strings.Split(envOr("CORS_ORIGINS", "*"), ","),
		TopK:           envIntOr("RETRIEVAL_TOP_K", 3),
		FeaturedLimit:  envIntOr("FEATURED_LIMIT", 3),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", met.Handler())

	// Dependency groups degrade independently: a missing credential turns the
	// endpoints that need it into 503s instead of killing the process.
	haveAI := cfg.OpenAIKey != ""
	haveCatalog := cfg.CatalogToken != "" && cfg.CatalogBase != ""

	var ai *openai.Client
	if haveAI {
		ai = openai.New(openai.Config{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIKey})
	}

	var cat *catalog.Client
	if haveCatalog {
		cat = catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogToken, cfg.CatalogBase, cfg.CatalogTable)
	}

	var vectors *semantic.VectorStore
	if haveAI {
		vs, err := semantic.New(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vs.Close()
		vectors = vs
		if err := vs.EnsureCollection(ctx, embedDims); err != nil {
			logger.Warn("qdrant collection check failed, continuing", "err", err)
		}
	}

	// --- Conversation endpoints ---
	if haveAI && haveCatalog {
		breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)
		retriever := rag.NewRetriever(ai, vectors, cat, cfg.TopK, logger)
		completer := rag.NewCompleter(&guardedChat{ai: ai, breaker: breaker}, rag.DefaultCompleterOptions())
		chatSvc := chat.New(chat.NewMemoryStore(), retriever, completer, ai, logger)

		mux.HandleFunc("POST /api/v1/chat", handleChat(chatSvc))
		mux.HandleFunc("POST /api/v1/audio", handleAudio(chatSvc))

		syncSvc := enginesync.New(cat, vectors, ai, logger)
		sched := enginesync.NewScheduler(syncSvc, 0, logger)
		mux.HandleFunc("POST /api/v1/admin/trigger-sync", handleTriggerSync(sched))
		mux.HandleFunc("GET /api/v1/admin/sync-runs/{id}", handleSyncRun(sched))
	} else {
		logger.Warn("AI or catalog credentials missing, conversation endpoints disabled")
		mux.HandleFunc("POST /api/v1/chat", unavailable)
		mux.HandleFunc("POST /api/v1/audio", unavailable)
		mux.HandleFunc("POST /api/v1/admin/trigger-sync", unavailable)
		mux.HandleFunc("GET /api/v1/admin/sync-runs/{id}", unavailable)
	}

	// --- Catalog endpoints ---
	if haveCatalog {
		mux.HandleFunc("GET /api/v1/experiences/default", handleFeatured(cat, cfg.FeaturedLimit, logger))
	} else {
		mux.HandleFunc("GET /api/v1/experiences/default", unavailable)
	}

	// --- Webhook relay ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Warn("nats unavailable, catalog webhook disabled", "err", err)
		mux.HandleFunc("POST /api/v1/webhooks/catalog", unavailable)
	} else {
		defer nc.Close()
		mux.HandleFunc("POST /api/v1/webhooks/catalog", handleCatalogWebhook(
			func(ctx context.Context, event enginesync.ChangeEvent) error {
				return natsutil.Publish(ctx, nc, enginesync.SubjectCatalogChanged, event)
			}, logger))
	}

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigins...),
		mid.OTel("concierge-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// guardedChat runs completions through a circuit breaker so a flapping AI
// backend fails fast instead of tying up request goroutines.
type guardedChat struct {
	ai      *openai.Client
	breaker *resilience.Breaker
}

func (g *guardedChat) ChatCompletion(ctx context.Context, msgs []openai.Message, temperature float32, maxTokens int) (string, error) {
	r := resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[string] {
		return fn.FromPair(g.ai.ChatCompletion(ctx, msgs, temperature, maxTokens))
	})
	return r.Unwrap()
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func unavailable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service not configured"})
}

// conversationService is the slice of the chat orchestrator the handlers use.
type conversationService interface {
	HandleMessage(ctx context.Context, sessionID, message string) chat.Response
	HandleAudio(ctx context.Context, sessionID string, audio []byte, filename string) chat.Response
}

// ChatRequest is the JSON body for POST /api/v1/chat.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the JSON response for chat and audio endpoints. The
// transcribed text is always present: empty on the text path and on
// transcription failure.
type ChatResponse struct {
	Reply           string         `json:"reply"`
	SessionID       string         `json:"session_id"`
	TranscribedText string         `json:"transcribed_text"`
	Suggestions     []catalog.Card `json:"suggested_experiences,omitempty"`
}

func handleChat(svc conversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if req.SessionID == "" || req.Message == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and message are required"})
			return
		}

		mChatRequests.Inc()
		start := time.Now()
		resp := svc.HandleMessage(r.Context(), req.SessionID, req.Message)
		mChatDuration.Since(start)

		writeJSON(w, http.StatusOK, ChatResponse{
			Reply:       resp.Reply,
			SessionID:   req.SessionID,
			Suggestions: resp.Suggestions,
		})
	}
}

func handleAudio(svc conversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
			return
		}
		sessionID := r.FormValue("session_id")
		if sessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio file is required"})
			return
		}
		defer file.Close()

		audio, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read audio file"})
			return
		}
		if len(audio) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio file is empty"})
			return
		}

		mAudioRequests.Inc()
		resp := svc.HandleAudio(r.Context(), sessionID, audio, header.Filename)

		writeJSON(w, http.StatusOK, ChatResponse{
			Reply:           resp.Reply,
			SessionID:       sessionID,
			TranscribedText: resp.TranscribedText,
			Suggestions:     resp.Suggestions,
		})
	}
}

// syncControl is the slice of the sync scheduler the admin handlers use.
type syncControl interface {
	Trigger() (runID string, started bool)
	Run(id string) (enginesync.Run, bool)
}

func handleTriggerSync(sched syncControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mSyncTriggers.Inc()
		id, started := sched.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": id, "started": started})
	}
}

func handleSyncRun(sched syncControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := sched.Run(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run id"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// featuredLister is the slice of the catalog client the experiences handler uses.
type featuredLister interface {
	Featured(ctx context.Context, limit int) ([]catalog.Record, error)
}

func handleFeatured(cat featuredLister, limit int, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := cat.Featured(r.Context(), limit)
		if err != nil {
			logger.Error("featured experiences fetch failed", "err", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "catalog unavailable"})
			return
		}
		cards := make([]catalog.Card, 0, len(records))
		for _, rec := range records {
			card, err := catalog.CardFromRecord(rec)
			if err != nil {
				logger.Warn("dropping unmappable record", "record_id", rec.ID, "err", err)
				continue
			}
			cards = append(cards, card)
		}
		writeJSON(w, http.StatusOK, map[string]any{"default_experiences": cards})
	}
}

// WebhookRequest is the JSON body for POST /api/v1/webhooks/catalog.
type WebhookRequest struct {
	RecordID string `json:"record_id"`
}

func handleCatalogWebhook(publish func(context.Context, enginesync.ChangeEvent) error, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req WebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RecordID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "record_id is required"})
			return
		}
		if err := publish(r.Context(), enginesync.ChangeEvent{RecordID: req.RecordID}); err != nil {
			logger.Error("change event publish failed", "record_id", req.RecordID, "err", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "event relay failed"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
