// Command sync keeps the vector index reconciled with the experience catalog.
// It runs periodic full syncs and consumes per-record change events from NATS.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/LumenStay/concierge-mvp/engine/catalog"
	"github.com/LumenStay/concierge-mvp/engine/semantic"
	enginesync "github.com/LumenStay/concierge-mvp/engine/sync"
	"github.com/LumenStay/concierge-mvp/pkg/metrics"
	"github.com/LumenStay/concierge-mvp/pkg/openai"
)

// embedDims matches text-embedding-3-small.
const embedDims = 1536

var met = metrics.New()

var (
	mRunsTotal = func(status string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("concierge_sync_runs_total", "status", status), "Full sync runs by outcome")
	}
	mUpserted    = met.Counter("concierge_sync_upserted_total", "Records upserted into the index")
	mDeleted     = met.Counter("concierge_sync_deleted_total", "Orphan records pruned from the index")
	mSkipped     = met.Counter("concierge_sync_skipped_total", "Records skipped for empty embed text")
	mFailed      = met.Counter("concierge_sync_failed_total", "Records that failed to embed or write")
	mRunDuration = met.Histogram("concierge_sync_run_duration_seconds", "Full sync wall time", nil)
)

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("sync worker exited with error", "err", err)
		os.Exit(1)
	}
}

// Config holds all environment-based configuration.
type Config struct {
	OpenAIBaseURL  string
	OpenAIKey      string
	QdrantURL      string
	Collection     string
	CatalogBaseURL string
	CatalogToken   string
	CatalogBase    string
	CatalogTable   string
	NATSURL        string
	Interval       time.Duration
	MetricsPort    int
}

func loadConfig() Config {
	return Config{
		OpenAIBaseURL:  envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		Collection:     envOr("QDRANT_COLLECTION", "experiences"),
		CatalogBaseURL: envOr("AIRTABLE_BASE_URL", "https://api.airtable.com/v0"),
		CatalogToken:   os.Getenv("AIRTABLE_TOKEN"),
		CatalogBase:    os.Getenv("AIRTABLE_BASE_ID"),
		CatalogTable:   envOr("AIRTABLE_TABLE", "Experiences"),
		NATSURL:        envOr("NATS_URL", nats.DefaultURL),
		Interval:       envDurationOr("SYNC_INTERVAL", time.Hour),
		MetricsPort:    9091,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return err
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, embedDims); err != nil {
		return err
	}
	logger.Info("connected to qdrant", "collection", cfg.Collection, "dims", embedDims)

	cat := catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogToken, cfg.CatalogBase, cfg.CatalogTable)
	ai := openai.New(openai.Config{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIKey})

	svc := enginesync.New(cat, vectors, ai, logger)
	sched := enginesync.NewScheduler(&meteredSyncer{svc: svc}, cfg.Interval, logger)

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		// Change events are an optimization; the interval loop still converges.
		logger.Warn("nats unavailable, running without change events", "err", err)
	} else {
		defer nc.Close()
		sub, err := enginesync.StartConsumer(nc, svc, logger)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		logger.Info("consuming change events", "subject", enginesync.SubjectCatalogChanged)
	}

	// Converge once at startup, then on the interval.
	if id, started := sched.Trigger(); started {
		logger.Info("initial sync started", "run_id", id)
	}

	logger.Info("sync worker running", "interval", cfg.Interval)
	sched.Start(ctx)
	logger.Info("shutting down")
	return nil
}

// meteredSyncer records per-run metrics around the reconciler.
type meteredSyncer struct {
	svc *enginesync.Service
}

func (m *meteredSyncer) FullSync(ctx context.Context) (enginesync.Report, error) {
	start := time.Now()
	report, err := m.svc.FullSync(ctx)
	mRunDuration.Since(start)

	mUpserted.Add(int64(report.Upserted))
	mDeleted.Add(int64(report.Deleted))
	mSkipped.Add(int64(report.Skipped))
	mFailed.Add(int64(report.Failed))

	switch {
	case err != nil:
		mRunsTotal("failed").Inc()
	case report.EmptySource:
		mRunsTotal("skipped").Inc()
	default:
		mRunsTotal("succeeded").Inc()
	}
	return report, err
}
